package stt

import (
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// New builds the engine selected by cfg.STT.Mode. The bus client is only
// consulted in bus mode and may be nil otherwise.
func New(cfg config.Config, busClient *bus.Client) (Engine, error) {
	rate := cfg.Audio.SampleRate
	switch cfg.STT.Mode {
	case "mock", "":
		return NewMockEngine(rate), nil
	case "exec":
		return NewExecEngine(cfg.STT, rate)
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("stt mode bus requires a bus connection")
		}
		return NewBusEngine(busClient, cfg.STT.Subject, cfg.STT.Language, rate), nil
	case "google":
		return NewGoogleEngine(cfg.STT, rate), nil
	case "whisper":
		return NewWhisperEngine(cfg.STT)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.STT.Mode)
	}
}

// Close releases engine resources when the engine holds any.
func Close(engine Engine) error {
	if c, ok := engine.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
