package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/sink"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// ServeWorker answers transcription requests on the bus until ctx is
// cancelled. No sessions are run.
func ServeWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	cfg.STT.Worker = true
	cfg.Bus.Enabled = true
	if err := cfg.Validate(); err != nil {
		return err
	}

	r := New(cfg, logger)
	shutdownTelemetry, _, err := setupTelemetry(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.connectBus(ctx); err != nil {
		return errors.Join(err, r.shutdown())
	}
	engine, err := stt.New(cfg, r.busClient)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create stt engine: %w", err), r.shutdown())
	}
	r.engine = stt.Instrument(engine)
	r.worker = stt.NewService(ctx, cfg.STT, r.busClient, r.engine)
	if err := r.worker.Start(); err != nil {
		return errors.Join(fmt.Errorf("failed to start stt worker: %w", err), r.shutdown())
	}

	logger.Info("stt worker running", slog.String("subject", cfg.STT.Subject), slog.String("stt_mode", cfg.STT.Mode))
	<-ctx.Done()
	return r.shutdown()
}

// TranscribeFile runs one non-streaming session over a WAV file and writes
// the transcript to out. It returns the final transcript.
func TranscribeFile(ctx context.Context, cfg config.Config, path string, out io.Writer, logger *slog.Logger) (string, error) {
	cfg.Scheduler.Streaming = false

	r := New(cfg, logger)
	defer r.shutdown()
	if err := r.connectBus(ctx); err != nil {
		return "", err
	}
	engine, err := stt.New(cfg, r.busClient)
	if err != nil {
		return "", fmt.Errorf("failed to create stt engine: %w", err)
	}
	r.engine = engine

	var (
		mu         sync.Mutex
		transcript string
		fatal      error
	)
	collect := session.ListenerFunc(func(e session.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case e.Type == session.EventFinal:
			transcript = e.Transcript
		case e.Type == session.EventError && e.Fatal:
			fatal = e.Err
		}
	})

	src := capture.NewFile(path, cfg.Audio.BlockFrames, false)
	ctrl, err := session.NewController(ctx, session.FromConfig(cfg), engine, sink.NewWriter(out), logger,
		session.WithSource(src), session.WithListener(collect))
	if err != nil {
		return "", err
	}
	r.controller = ctrl

	if err := ctrl.BeginSession(); err != nil {
		return "", err
	}
	select {
	case <-src.Done():
	case <-ctx.Done():
	}
	ctrl.EndSession()
	if err := ctrl.Wait(ctx); err != nil {
		return "", err
	}

	mu.Lock()
	defer mu.Unlock()
	if fatal != nil {
		return "", fatal
	}
	return transcript, nil
}
