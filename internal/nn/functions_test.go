package nn

import (
	"math"
	"testing"
)

func TestSat(t *testing.T) {
	if got := Sat(5, 3, -3); got != 3 {
		t.Fatalf("expected sat max clamp, got=%f", got)
	}
	if got := Sat(-5, 3, -3); got != -3 {
		t.Fatalf("expected sat min clamp, got=%f", got)
	}
}

func TestMinMaxNormalize(t *testing.T) {
	got := MinMaxNormalize([]float64{10, 15, 20})
	want := []float64{0, 0.5, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected normalized value at %d: got=%f want=%f", i, got[i], want[i])
		}
	}

	flat := MinMaxNormalize([]float64{3, 3, 3})
	for i, v := range flat {
		if v != 0.5 {
			t.Fatalf("expected flat window to map to 0.5 at %d, got=%f", i, v)
		}
	}
	if len(MinMaxNormalize(nil)) != 0 {
		t.Fatal("expected empty output for empty input")
	}
}

func TestMinMaxValueClamps(t *testing.T) {
	if got := MinMaxValue(150, 0, 100); got != 1 {
		t.Fatalf("expected upper clamp, got=%f", got)
	}
	if got := MinMaxValue(25, 0, 100); math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("unexpected fraction, got=%f", got)
	}
	if got := MinMaxValue(7, 7, 7); got != 0.5 {
		t.Fatalf("expected flat range midpoint, got=%f", got)
	}
}
