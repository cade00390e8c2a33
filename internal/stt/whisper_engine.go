//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

type whisperEngine struct {
	cfg    config.STTConfig
	tuning Tuning

	mu    sync.Mutex
	model whisper.Model
}

// NewWhisperEngine decodes in-process with whisper.cpp. Only built with
// -tags whisper since it links against libwhisper.
func NewWhisperEngine(cfg config.STTConfig) (Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("stt.model_path is required for whisper mode")
	}
	return &whisperEngine{cfg: cfg, tuning: TuningFromConfig(cfg)}, nil
}

func (w *whisperEngine) Load(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model != nil {
		return nil
	}
	model, err := whisper.New(w.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("%w: load whisper model: %w", ErrUnavailable, err)
	}
	w.model = model
	return nil
}

func (w *whisperEngine) Transcribe(ctx context.Context, samples []float32, mode Mode) (Snapshot, error) {
	// whisper contexts are not safe for concurrent use.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return Snapshot{}, fmt.Errorf("%w: whisper model not loaded", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Snapshot{}, fmt.Errorf("whisper context: %w", err)
	}
	if w.cfg.Language != "" {
		if err := wctx.SetLanguage(w.cfg.Language); err != nil {
			return Snapshot{}, fmt.Errorf("whisper language: %w", err)
		}
	}
	if w.cfg.Threads > 0 {
		wctx.SetThreads(uint(w.cfg.Threads))
	}
	params := w.tuning.For(mode)
	if params.BeamSize > 0 {
		wctx.SetBeamSize(params.BeamSize)
	}
	wctx.SetTemperature(float32(params.Temperature))

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Snapshot{}, fmt.Errorf("whisper process: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("whisper segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return Snapshot{Text: strings.Join(parts, " "), Final: mode == ModeQuality}, nil
}

func (w *whisperEngine) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}
