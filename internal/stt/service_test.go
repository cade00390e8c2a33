package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestBusEngineRoundTripThroughWorker(t *testing.T) {
	client := startBus(t)
	cfg := config.Default().STT
	cfg.Worker = true

	svc := NewService(context.Background(), cfg, client, NewMockEngine(16000))
	if err := svc.Start(); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatalf("expected worker to report healthy")
	}

	engine := NewBusEngine(client, cfg.Subject, "en", 16000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Prepare(ctx, engine, time.Second); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	snap, err := engine.Transcribe(ctx, make([]float32, 16000), ModeQuality)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if snap.Text != "the quick" || !snap.Final {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestBusEngineWithoutWorkersIsUnavailable(t *testing.T) {
	client := startBus(t)
	engine := NewBusEngine(client, "stt.nobody", "en", 16000)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := engine.Transcribe(ctx, make([]float32, 160), ModeFast); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestWorkerReportsLoadFailure(t *testing.T) {
	client := startBus(t)
	cfg := config.Default().STT
	cfg.Worker = true
	cfg.LoadTimeoutMS = 100

	svc := NewService(context.Background(), cfg, client, &slowLoader{err: errors.New("no model")})
	if err := svc.Start(); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(svc.Close)
	if svc.Healthy() {
		t.Fatalf("worker with failed engine should not be healthy")
	}

	engine := NewBusEngine(client, cfg.Subject, "en", 16000)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := engine.Transcribe(ctx, make([]float32, 160), ModeFast); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from worker, got %v", err)
	}
}
