package notify

import (
	"errors"
	"log/slog"

	"github.com/gen2brain/beeep"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// Desktop shows a system notification when dictation fails.
type Desktop struct {
	appName string
	log     *slog.Logger
	notify  func(title, message string) error
}

func NewDesktop(appName string, logger *slog.Logger) *Desktop {
	return &Desktop{
		appName: appName,
		log:     logger.With(slog.String("component", "notify-desktop")),
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (d *Desktop) OnEvent(e session.Event) {
	if e.Type != session.EventError || e.Err == nil {
		return
	}
	message := "Dictation error: " + e.Err.Error()
	if errors.Is(e.Err, stt.ErrUnavailable) {
		message = "Speech recognition is unavailable. Check the model and try again."
	}
	// Notifications shell out on some platforms; keep the session goroutine free.
	go func() {
		if err := d.notify(d.appName, message); err != nil {
			d.log.Debug("desktop notification failed", slog.String("error", err.Error()))
		}
	}()
}
