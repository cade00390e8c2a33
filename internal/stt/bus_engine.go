package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

type busEngine struct {
	bus        *bus.Client
	subject    string
	language   string
	sampleRate int
}

// NewBusEngine sends each request to a worker listening on subject and waits
// for its reply. See Service for the worker side.
func NewBusEngine(busClient *bus.Client, subject, language string, sampleRate int) Engine {
	if subject == "" {
		subject = protocol.SubjectTranscribe
	}
	return &busEngine{bus: busClient, subject: subject, language: language, sampleRate: sampleRate}
}

func (b *busEngine) Load(ctx context.Context) error {
	if !b.bus.Healthy() {
		return fmt.Errorf("%w: bus not connected", ErrUnavailable)
	}
	// An empty request doubles as a readiness probe for the worker pool.
	_, err := b.Transcribe(ctx, nil, ModeFast)
	return err
}

func (b *busEngine) Transcribe(ctx context.Context, samples []float32, mode Mode) (Snapshot, error) {
	req := protocol.TranscribeRequest{
		RequestID:  uuid.NewString(),
		SampleRate: b.sampleRate,
		Mode:       mode.String(),
		Language:   b.language,
		PCM:        audio.EncodePCM16(samples),
	}
	var reply protocol.TranscribeReply
	if err := b.bus.RequestJSON(ctx, b.subject, req, &reply); err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return Snapshot{}, fmt.Errorf("%w: no transcription workers on %s", ErrUnavailable, b.subject)
		}
		return Snapshot{}, fmt.Errorf("transcribe request: %w", err)
	}
	if reply.Error != "" {
		if reply.Unavailable {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrUnavailable, reply.Error)
		}
		return Snapshot{}, errors.New(reply.Error)
	}
	return Snapshot{Text: reply.Text, Confidence: reply.Confidence, Final: mode == ModeQuality}, nil
}
