package capture

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

func writeFixture(t *testing.T, n, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	if err := audio.WriteWAV(fh, samples, rate); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestFileDeliversWholeClip(t *testing.T) {
	path := writeFixture(t, 10000, 48000)
	src := NewFile(path, 1024, false)

	var mu sync.Mutex
	total := 0
	rates := map[int]bool{}
	err := src.Start(context.Background(), func(block []float32, rate int) {
		mu.Lock()
		total += len(block)
		rates[rate] = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-src.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("file replay did not finish")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if total != 10000 {
		t.Fatalf("expected 10000 samples, got %d", total)
	}
	if len(rates) != 1 || !rates[48000] {
		t.Fatalf("expected blocks at the file rate, got %v", rates)
	}
}

func TestFileStopInterruptsPacedReplay(t *testing.T) {
	path := writeFixture(t, 16000*5, 16000)
	src := NewFile(path, 1600, true)
	if err := src.Start(context.Background(), func([]float32, int) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := src.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-src.Done():
	default:
		t.Fatalf("replay should be finished after Stop")
	}
}

func TestFileMissing(t *testing.T) {
	src := NewFile(filepath.Join(t.TempDir(), "none.wav"), 0, false)
	if err := src.Start(context.Background(), func([]float32, int) {}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
