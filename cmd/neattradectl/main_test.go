package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"neattrade/internal/stats"
	"neattrade/pkg/neattrade"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	orig := stdout
	stdout = buf
	t.Cleanup(func() { stdout = orig })
	return buf
}

func TestRunRequiresCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), []string{"fly"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestCommandsAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "neattrade.db")
	artifacts := filepath.Join(dir, "benchmarks")
	genomePath := filepath.Join(dir, "best.json")
	common := []string{"--store", "sqlite", "--db-path", dbPath, "--artifacts-dir", artifacts, "--quiet"}

	out := captureStdout(t)
	if err := run(ctx, append([]string{"init"}, common...)); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out.String(), "initialized store=sqlite") {
		t.Fatalf("unexpected init output %q", out.String())
	}

	args := append([]string{"run"}, common...)
	args = append(args,
		"--run-id", "cli-run",
		"--synthetic", "uptrend",
		"--synthetic-count", "40",
		"--holdout", "0.25",
		"--window", "2",
		"--exit", "fixed_percent",
		"--pop", "8",
		"--gens", "2",
		"--seed", "3",
		"--workers", "2",
		"--genome-out", genomePath,
	)
	out.Reset()
	if err := run(ctx, args); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "run_id=cli-run") || !strings.Contains(out.String(), "validation candles=10") {
		t.Fatalf("unexpected run output %q", out.String())
	}
	if _, err := os.Stat(genomePath); err != nil {
		t.Fatalf("expected genome file: %v", err)
	}

	entries, err := stats.ListRunIndex(artifacts)
	if err != nil || len(entries) != 1 || entries[0].RunID != "cli-run" {
		t.Fatalf("run index: %+v err=%v", entries, err)
	}

	out.Reset()
	if err := run(ctx, append(append([]string{"runs"}, common...), "--from-store", "--json")); err != nil {
		t.Fatalf("runs: %v", err)
	}
	var items []neattrade.RunItem
	if err := json.Unmarshal(out.Bytes(), &items); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(items) != 1 || items[0].Generations != 2 || items[0].PopulationSize != 8 {
		t.Fatalf("unexpected runs %+v", items)
	}

	out.Reset()
	if err := run(ctx, append(append([]string{"inspect"}, common...), "--run-id", "cli-run")); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if strings.Count(out.String(), "generation=") != 2 {
		t.Fatalf("expected two generation lines, got %q", out.String())
	}

	args = append(append([]string{"run"}, common...),
		"--run-id", "cli-run",
		"--continue",
		"--synthetic", "uptrend",
		"--synthetic-count", "40",
		"--window", "2",
		"--exit", "fixed_percent",
		"--pop", "8",
		"--gens", "1",
		"--seed", "3",
	)
	out.Reset()
	if err := run(ctx, args); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if !strings.Contains(out.String(), "generation=4") {
		t.Fatalf("expected continued run at generation 4, got %q", out.String())
	}

	out.Reset()
	decideArgs := []string{"decide", "--genome", genomePath, "--synthetic", "uptrend", "--window", "2", "--exit", "fixed_percent"}
	if err := run(ctx, decideArgs); err != nil {
		t.Fatalf("decide: %v", err)
	}
	var decision map[string]any
	if err := json.Unmarshal(out.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if _, ok := decision["action"]; !ok {
		t.Fatalf("decision missing action: %v", decision)
	}
}

func TestRunContinueRequiresRunID(t *testing.T) {
	args := []string{"run", "--store", "memory", "--quiet", "--continue"}
	if err := run(context.Background(), args); err == nil {
		t.Fatal("expected continue without run id to fail")
	}
}

func TestRunsWithoutIndex(t *testing.T) {
	out := captureStdout(t)
	args := []string{"runs", "--artifacts-dir", t.TempDir()}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no runs found" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestDecideRequiresGenome(t *testing.T) {
	if err := run(context.Background(), []string{"decide"}); err == nil {
		t.Fatal("expected missing genome error")
	}
}
