package sink

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

func New(cfg config.SinkConfig, logger *slog.Logger) (session.Sink, error) {
	switch cfg.Mode {
	case "clipboard", "":
		return NewClipboard(cfg, logger), nil
	case "stdout":
		return NewWriter(os.Stdout), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown sink mode %q", cfg.Mode)
	}
}
