//go:build !whisper

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// NewWhisperEngine is unavailable without the whisper build tag.
func NewWhisperEngine(cfg config.STTConfig) (Engine, error) {
	return nil, errors.New("whisper support not compiled in; rebuild with -tags whisper")
}
