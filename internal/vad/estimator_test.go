package vad

import (
	"math"
	"math/rand"
	"testing"
)

func tone(n int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	return out
}

func newEstimator(t *testing.T) *Estimator {
	t.Helper()
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new estimator: %v", err)
	}
	return e
}

func TestLoudInputClassifiesAsSpeech(t *testing.T) {
	e := newEstimator(t)
	loud := tone(3200, 0.9) // energy ~0.4, above the maximum threshold
	for i := 0; i < 200; i++ {
		if !e.Classify(loud) {
			t.Fatalf("window %d classified as silence", i)
		}
	}
	if e.Threshold() != DefaultConfig().MaxThreshold {
		t.Fatalf("expected threshold pinned at max, got %v", e.Threshold())
	}
}

func TestSilenceClassifiesAsSilence(t *testing.T) {
	e := newEstimator(t)
	quiet := make([]float32, 3200)
	for i := 0; i < 500; i++ {
		if e.Classify(quiet) {
			t.Fatalf("window %d classified as speech", i)
		}
	}
	if e.Threshold() != DefaultConfig().MinThreshold {
		t.Fatalf("expected threshold floored at min, got %v", e.Threshold())
	}
}

func TestQuietStretchMakesSoftSpeechDetectable(t *testing.T) {
	e := newEstimator(t)
	soft := tone(3200, 0.1) // energy ~0.005, below the initial threshold
	if e.Classify(soft) {
		t.Fatalf("soft speech should not trigger at the initial threshold")
	}
	quiet := make([]float32, 3200)
	for i := 0; i < 100; i++ {
		e.Classify(quiet)
	}
	if !e.Classify(soft) {
		t.Fatalf("soft speech should be detected after the threshold decays")
	}
}

func TestThresholdStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	e := newEstimator(t)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		window := tone(rng.Intn(3200), rng.Float64())
		e.Classify(window)
		if th := e.Threshold(); th < cfg.MinThreshold || th > cfg.MaxThreshold {
			t.Fatalf("threshold %v escaped [%v, %v]", th, cfg.MinThreshold, cfg.MaxThreshold)
		}
	}
	e.Reset()
	if e.Threshold() != cfg.InitialThreshold {
		t.Fatalf("reset did not restore initial threshold")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiseFactor = 0.5
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for rise factor below 1")
	}
	cfg = DefaultConfig()
	cfg.InitialThreshold = 1
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for initial threshold above max")
	}
}
