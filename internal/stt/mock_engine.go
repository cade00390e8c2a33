package stt

import (
	"context"
	"strings"
	"time"
)

var mockWords = strings.Fields("the quick brown fox jumps over the lazy dog while loqa takes notes")

type mockEngine struct {
	sampleRate int
	perWord    time.Duration
}

// NewMockEngine returns an engine that emits one word per 400ms of audio, so
// transcripts of a growing buffer grow by whole words.
func NewMockEngine(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate, perWord: 400 * time.Millisecond}
}

func (m *mockEngine) Transcribe(ctx context.Context, samples []float32, mode Mode) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	duration := time.Duration(len(samples)) * time.Second / time.Duration(m.sampleRate)
	n := int(duration / m.perWord)
	words := make([]string, n)
	for i := range words {
		words[i] = mockWords[i%len(mockWords)]
	}
	return Snapshot{Text: strings.Join(words, " "), Final: mode == ModeQuality}, nil
}
