package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// ErrUnavailable marks an engine that is not loaded or cannot be reached.
// Sessions fail closed on it instead of retrying.
var ErrUnavailable = errors.New("transcription engine unavailable")

// Mode selects the decoding trade-off for a request.
type Mode int

const (
	// ModeFast favours latency: used for partial transcripts while recording.
	ModeFast Mode = iota
	// ModeQuality favours accuracy: used once when recording stops.
	ModeQuality
)

func (m Mode) String() string {
	if m == ModeQuality {
		return "quality"
	}
	return "fast"
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "fast", "":
		return ModeFast, nil
	case "quality":
		return ModeQuality, nil
	default:
		return ModeFast, fmt.Errorf("unknown decode mode %q", s)
	}
}

// Snapshot is one engine result for an audio window.
type Snapshot struct {
	Text       string
	Final      bool
	Confidence float64
}

// Params are the per-mode decoding knobs handed to backends.
type Params struct {
	BeamSize          int
	BestOf            int
	Temperature       float64
	NoSpeechThreshold float64
	Model             string
}

func ParamsFromConfig(cfg config.DecodeConfig) Params {
	return Params{
		BeamSize:          cfg.BeamSize,
		BestOf:            cfg.BestOf,
		Temperature:       cfg.Temperature,
		NoSpeechThreshold: cfg.NoSpeechThreshold,
		Model:             cfg.Model,
	}
}

// Tuning maps each Mode to its Params.
type Tuning struct {
	Fast    Params
	Quality Params
}

func TuningFromConfig(cfg config.STTConfig) Tuning {
	return Tuning{Fast: ParamsFromConfig(cfg.Fast), Quality: ParamsFromConfig(cfg.Quality)}
}

func (t Tuning) For(mode Mode) Params {
	if mode == ModeQuality {
		return t.Quality
	}
	return t.Fast
}

// Engine turns mono 16 kHz samples into text.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, mode Mode) (Snapshot, error)
}

// Loader is implemented by engines that need an explicit load step before
// the first request.
type Loader interface {
	Load(ctx context.Context) error
}

// Prepare loads engine within timeout. Any failure, including the timeout,
// is reported as ErrUnavailable.
func Prepare(ctx context.Context, engine Engine, timeout time.Duration) error {
	if engine == nil {
		return fmt.Errorf("%w: no engine configured", ErrUnavailable)
	}
	loader, ok := engine.(Loader)
	if !ok {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- loader.Load(ctx) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: load: %w", ErrUnavailable, ctx.Err())
	}
}
