package trigger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Lines toggles dictation on every line read from r, so pressing Enter in
// a terminal starts and stops recording.
type Lines struct {
	r    io.Reader
	out  io.Writer
	ctrl Controller
	log  *slog.Logger
}

func NewLines(r io.Reader, out io.Writer, ctrl Controller, logger *slog.Logger) *Lines {
	return &Lines{r: r, out: out, ctrl: ctrl, log: logger.With(slog.String("component", "trigger-stdin"))}
}

// Run blocks until r is exhausted or ctx is cancelled.
func (l *Lines) Run(ctx context.Context) error {
	lines := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(l.r)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	l.prompt(true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case <-lines:
			idle := l.ctrl.SessionID() == ""
			if err := Toggle(l.ctrl); err != nil {
				l.log.Warn("toggle failed", slog.String("error", err.Error()))
				idle = false
			}
			l.prompt(!idle)
		}
	}
}

func (l *Lines) prompt(idle bool) {
	if l.out == nil {
		return
	}
	if idle {
		fmt.Fprintln(l.out, "press Enter to start dictation")
		return
	}
	fmt.Fprintln(l.out, "recording... press Enter to stop")
}
