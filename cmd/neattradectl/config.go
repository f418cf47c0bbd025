package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"neattrade/pkg/neattrade"
)

// loadRunRequestFromConfig decodes a JSON run config. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func loadRunRequestFromConfig(path string) (neattrade.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return neattrade.RunRequest{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req neattrade.RunRequest
	if err := dec.Decode(&req); err != nil {
		return neattrade.RunRequest{}, err
	}
	return req, nil
}

func loadOrDefaultRunRequest(configPath string) (neattrade.RunRequest, error) {
	if configPath == "" {
		return neattrade.RunRequest{}, nil
	}
	req, err := loadRunRequestFromConfig(configPath)
	if err != nil {
		return neattrade.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

// overrideFromFlags applies only the flags that were set explicitly, so a
// config file keeps its values for everything else.
func overrideFromFlags(req *neattrade.RunRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "continue":
			req.Continue = v.(bool)
		case "data":
			req.DataPath = v.(string)
			req.Synthetic = ""
		case "synthetic":
			req.Synthetic = v.(string)
			req.DataPath = ""
		case "synthetic-count":
			req.SyntheticCount = v.(int)
		case "holdout":
			req.Holdout = v.(float64)
		case "pair":
			req.Pair = v.(string)
		case "capital":
			req.InitialCapital = v.(float64)
		case "leverage":
			req.Leverage = v.(float64)
		case "input-mode":
			req.InputMode = v.(string)
		case "window":
			req.WindowSize = v.(int)
		case "exit":
			req.Exit.Kind = v.(string)
		case "take-profit":
			req.Exit.TakeProfit = v.(float64)
		case "stop-loss":
			req.Exit.StopLoss = v.(float64)
		case "atr-period":
			req.Exit.Period = v.(int)
		case "trailing-activation":
			req.Exit.Activation = v.(float64)
		case "callback-rate":
			req.Exit.CallbackRate = v.(float64)
		case "pop":
			req.Population = v.(int)
		case "gens":
			req.Generations = v.(int)
		case "seed":
			req.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "genome-out":
			req.GenomeOut = v.(string)
		}
	}
	if set["data"] && set["synthetic"] {
		return fmt.Errorf("--data and --synthetic are mutually exclusive")
	}
	if req.Holdout < 0 || req.Holdout >= 1 {
		return fmt.Errorf("holdout must be in [0,1), got %v", req.Holdout)
	}
	return nil
}
