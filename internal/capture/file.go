package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

// File replays a WAV file as if it were captured live. With pacing enabled,
// blocks are delivered at real-time speed.
type File struct {
	path   string
	frames int
	pace   bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFile(path string, blockFrames int, pace bool) *File {
	if blockFrames <= 0 {
		blockFrames = 1024
	}
	return &File{path: path, frames: blockFrames, pace: pace}
}

func (f *File) Start(ctx context.Context, deliver func(block []float32, sampleRate int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return errors.New("file source already started")
	}

	fh, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	samples, rate, err := audio.ReadWAV(fh)
	fh.Close()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.replay(ctx, samples, rate, deliver, f.done)
	return nil
}

func (f *File) replay(ctx context.Context, samples []float32, rate int, deliver func([]float32, int), done chan struct{}) {
	defer close(done)
	var ticker *time.Ticker
	if f.pace {
		ticker = time.NewTicker(audio.Duration(f.frames, rate))
		defer ticker.Stop()
	}
	for start := 0; start < len(samples); start += f.frames {
		if ctx.Err() != nil {
			return
		}
		end := min(start+f.frames, len(samples))
		deliver(samples[start:end], rate)
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Done is closed once the whole file has been delivered or the source was
// stopped. It is nil before Start.
func (f *File) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *File) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
