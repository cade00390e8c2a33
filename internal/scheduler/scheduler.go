// Package scheduler drives incremental transcription for one recording
// session: it polls the audio buffer, decides when to request a partial
// transcript, and issues a single quality request when recording stops.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Kind tags an Update.
type Kind int

const (
	KindState Kind = iota
	KindPartial
	KindFinal
	KindError
)

// Update is one message on the scheduler's output channel. Updates arrive
// in the order requests were issued; the channel is closed after Stopped.
type Update struct {
	Kind     Kind
	State    State
	Mode     stt.Mode
	Snapshot stt.Snapshot
	Err      error
	// Samples is the size of the window the result was decoded from.
	Samples int
	Latency time.Duration
}

type result struct {
	mode     stt.Mode
	snapshot stt.Snapshot
	err      error
	samples  int
	latency  time.Duration
}

// Scheduler is single use: construct one per session, call Run once.
type Scheduler struct {
	cfg     Config
	ring    *audio.Ring
	engine  stt.Engine
	planner *Planner
	log     *slog.Logger
	now     func() time.Time

	updates  chan Update
	stop     chan struct{}
	stopOnce sync.Once
	stopping atomic.Bool

	submissions metric.Int64Counter
}

func New(cfg Config, ring *audio.Ring, engine stt.Engine, est *vad.Estimator, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		ring:    ring,
		engine:  engine,
		log:     logger.With(slog.String("component", "scheduler")),
		now:     time.Now,
		updates: make(chan Update, 16),
		stop:    make(chan struct{}),
	}
	s.planner = NewPlanner(cfg, est, s.now())
	s.submissions, _ = otel.Meter("github.com/loqalabs/loqa-dictate/internal/scheduler").Int64Counter(
		"dictation.submissions",
		metric.WithDescription("Transcription requests issued by the scheduler"),
	)
	return s
}

// Updates returns the ordered output channel.
func (s *Scheduler) Updates() <-chan Update {
	return s.updates
}

// Stop ends the recording phase. Ticking stops immediately, an in-flight
// partial is abandoned and its result dropped, and the final request is
// issued. Safe to call more than once and before Run.
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run blocks until the session reaches Stopped or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.updates)

	s.planner.Submitted(s.now())
	s.emit(ctx, Update{Kind: KindState, State: Armed})

	fatal := false
	if s.cfg.Streaming {
		fatal = s.running(ctx)
	} else {
		select {
		case <-s.stop:
		case <-ctx.Done():
		}
	}

	if !fatal && ctx.Err() == nil {
		s.emit(ctx, Update{Kind: KindState, State: Finalizing})
		s.finalize(ctx)
	}
	s.emit(ctx, Update{Kind: KindState, State: Stopped})
}

// running returns true when the engine became unavailable mid-session.
func (s *Scheduler) running(ctx context.Context) bool {
	warmup := time.NewTimer(s.cfg.Warmup)
	defer warmup.Stop()
	select {
	case <-warmup.C:
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}

	s.emit(ctx, Update{Kind: KindState, State: Running})

	ticker := time.NewTicker(s.cfg.Poll)
	defer ticker.Stop()

	var results chan result
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.stop:
			return false
		case r := <-results:
			results = nil
			if s.stopping.Load() {
				return false
			}
			if r.err != nil {
				s.emit(ctx, Update{Kind: KindError, Mode: r.mode, Err: r.err, Samples: r.samples, Latency: r.latency})
				if errors.Is(r.err, stt.ErrUnavailable) {
					return true
				}
				continue
			}
			s.emit(ctx, Update{Kind: KindPartial, Mode: r.mode, Snapshot: r.snapshot, Samples: r.samples, Latency: r.latency})
		case <-ticker.C:
			if s.stopping.Load() {
				return false
			}
			if results != nil {
				continue
			}
			results = s.tick(ctx)
		}
	}
}

// tick returns nil when nothing was submitted.
func (s *Scheduler) tick(ctx context.Context) chan result {
	if s.stopping.Load() {
		return nil
	}
	now := s.now()
	decision := s.planner.Next(now, s.ring.Duration(), s.ring.Snapshot(s.planner.Window()))
	if !decision.Submit {
		return nil
	}
	s.planner.Submitted(now)

	window := s.ring.Snapshot(s.cfg.PartialWindow)
	s.log.Debug("submitting partial",
		slog.Bool("speech", decision.Speech),
		slog.Int("samples", len(window)),
	)
	// Capacity 1 lets an abandoned request finish without a reader.
	out := make(chan result, 1)
	go func() {
		reqCtx, cancel := withTimeout(ctx, s.cfg.SubmitTimeout)
		defer cancel()
		out <- s.transcribe(reqCtx, window, stt.ModeFast)
	}()
	return out
}

func (s *Scheduler) finalize(ctx context.Context) {
	samples := s.ring.Snapshot(0)
	reqCtx, cancel := withTimeout(ctx, s.cfg.FinalTimeout)
	defer cancel()

	r := s.transcribe(reqCtx, samples, stt.ModeQuality)
	if r.err != nil {
		s.emit(ctx, Update{Kind: KindError, Mode: r.mode, Err: r.err, Samples: r.samples, Latency: r.latency})
		return
	}
	r.snapshot.Final = true
	s.emit(ctx, Update{Kind: KindFinal, Mode: r.mode, Snapshot: r.snapshot, Samples: r.samples, Latency: r.latency})
}

func (s *Scheduler) transcribe(ctx context.Context, samples []float32, mode stt.Mode) result {
	if s.submissions != nil {
		s.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
	}
	start := time.Now()
	snap, err := s.engine.Transcribe(ctx, samples, mode)
	return result{mode: mode, snapshot: snap, err: err, samples: len(samples), latency: time.Since(start)}
}

func (s *Scheduler) emit(ctx context.Context, u Update) {
	select {
	case s.updates <- u:
	case <-ctx.Done():
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
