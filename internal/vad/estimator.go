// Package vad classifies short audio windows as speech or silence using mean
// squared energy against a self-adjusting threshold.
package vad

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Config holds the estimator constants.
type Config struct {
	Window           time.Duration
	InitialThreshold float64
	MinThreshold     float64
	MaxThreshold     float64
	// RiseFactor is applied to the threshold after a speech decision.
	RiseFactor float64
	// DecayFactor is applied to the threshold after a silence decision.
	DecayFactor float64
}

func DefaultConfig() Config {
	return Config{
		Window:           200 * time.Millisecond,
		InitialThreshold: 0.01,
		MinThreshold:     0.0005,
		MaxThreshold:     0.1,
		RiseFactor:       1.1,
		DecayFactor:      0.98,
	}
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("vad window must be positive")
	}
	if c.MinThreshold <= 0 || c.MaxThreshold < c.MinThreshold {
		return errors.New("vad thresholds must satisfy 0 < min <= max")
	}
	if c.InitialThreshold < c.MinThreshold || c.InitialThreshold > c.MaxThreshold {
		return errors.New("vad initial threshold must lie within [min, max]")
	}
	if c.RiseFactor < 1 {
		return errors.New("vad rise factor must be >= 1")
	}
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		return errors.New("vad decay factor must be in (0, 1]")
	}
	return nil
}

// Estimator is not safe for concurrent use; it is owned by the scheduler loop.
type Estimator struct {
	cfg        Config
	threshold  float64
	speech     bool
	lastEnergy float64
}

func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg, threshold: cfg.InitialThreshold}, nil
}

// Classify reports whether window contains speech and adapts the threshold:
// quickly upward after speech, slowly downward after silence.
func (e *Estimator) Classify(window []float32) bool {
	energy := Energy(window)
	e.lastEnergy = energy
	if energy > e.threshold {
		e.speech = true
		e.threshold = min(e.threshold*e.cfg.RiseFactor, e.cfg.MaxThreshold)
	} else {
		e.speech = false
		e.threshold = max(e.threshold*e.cfg.DecayFactor, e.cfg.MinThreshold)
	}
	return e.speech
}

// Speech returns the most recent classification.
func (e *Estimator) Speech() bool { return e.speech }

func (e *Estimator) Threshold() float64 { return e.threshold }

// LastEnergy returns the energy of the most recently classified window.
func (e *Estimator) LastEnergy() float64 { return e.lastEnergy }

// Window returns the analysis window length.
func (e *Estimator) Window() time.Duration { return e.cfg.Window }

// Reset restores the initial threshold.
func (e *Estimator) Reset() {
	e.threshold = e.cfg.InitialThreshold
	e.speech = false
	e.lastEnergy = 0
}

// Energy is the mean squared amplitude of samples. An empty window has zero energy.
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}

func FromConfig(cfg config.VADConfig) Config {
	return Config{
		Window:           time.Duration(cfg.WindowMS) * time.Millisecond,
		InitialThreshold: cfg.InitialThreshold,
		MinThreshold:     cfg.MinThreshold,
		MaxThreshold:     cfg.MaxThreshold,
		RiseFactor:       cfg.RiseFactor,
		DecayFactor:      cfg.DecayFactor,
	}
}
