package sink

import (
	"context"
	"io"
	"sync"
)

// Writer appends text to an io.Writer such as stdout.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (s *Writer) Insert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, text)
	return err
}

// Discard drops all text.
type Discard struct{}

func (Discard) Insert(context.Context, string) error { return nil }
