// Package session ties the audio buffer, scheduler and reconciler together
// into push-to-talk dictation sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/reconcile"
	"github.com/loqalabs/loqa-dictate/internal/scheduler"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var ErrClosed = errors.New("session controller closed")

type Config struct {
	SampleRate  int
	MaxSeconds  float64
	LoadTimeout time.Duration
	SinkTimeout time.Duration
	Scheduler   scheduler.Config
	VAD         vad.Config
}

func FromConfig(cfg config.Config) Config {
	return Config{
		SampleRate:  cfg.Audio.SampleRate,
		MaxSeconds:  cfg.Audio.MaxSeconds,
		LoadTimeout: time.Duration(cfg.STT.LoadTimeoutMS) * time.Millisecond,
		SinkTimeout: 5 * time.Second,
		Scheduler:   scheduler.FromConfig(cfg.Scheduler),
		VAD:         vad.FromConfig(cfg.VAD),
	}
}

type Option func(*Controller)

// WithSource lets the controller start and stop capture with each session.
// Without a source, audio must be pushed through Feed.
func WithSource(src Source) Option {
	return func(c *Controller) { c.source = src }
}

func WithListener(l Listener) Option {
	return func(c *Controller) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

// Controller runs at most one session at a time. BeginSession and EndSession
// may be called from any goroutine.
type Controller struct {
	cfg       Config
	engine    stt.Engine
	sink      Sink
	source    Source
	listeners Fanout
	log       *slog.Logger
	ring      *audio.Ring
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	loadMu sync.Mutex

	mu       sync.Mutex
	active   *run
	state    scheduler.State
	prepared bool
	loadErr  error
	closed   bool

	feedMu       sync.Mutex
	accepting    bool
	resampler    *audio.Resampler
	resampleFrom int

	sessions     metric.Int64Counter
	deltas       metric.Int64Counter
	sinkFailures metric.Int64Counter
}

type run struct {
	id     string
	sched  *scheduler.Scheduler
	done   chan struct{}
	ending bool
}

func NewController(parent context.Context, cfg Config, engine stt.Engine, sink Sink, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("session sample rate must be positive")
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.VAD.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		cfg:    cfg,
		engine: engine,
		sink:   sink,
		log:    logger.With(slog.String("component", "session")),
		ring:   audio.NewRing(cfg.SampleRate, cfg.MaxSeconds),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter("github.com/loqalabs/loqa-dictate/internal/session")
	c.sessions, _ = meter.Int64Counter("dictation.sessions", metric.WithDescription("Dictation sessions started"))
	c.deltas, _ = meter.Int64Counter("dictation.deltas", metric.WithDescription("Non-empty text deltas emitted"))
	c.sinkFailures, _ = meter.Int64Counter("dictation.sink.failures", metric.WithDescription("Text sink insert failures"))
	return c, nil
}

// Prepare loads the engine, bounded by the configured load timeout. The
// engine is loaded once; a failed load is remembered and every BeginSession
// afterwards fails closed.
func (c *Controller) Prepare(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.Lock()
	if c.prepared {
		err := c.loadErr
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	// c.mu stays free while the model loads so State and SessionID answer.
	err := stt.Prepare(ctx, c.engine, c.cfg.LoadTimeout)
	c.mu.Lock()
	c.prepared = true
	c.loadErr = err
	c.mu.Unlock()
	if err != nil {
		c.log.Error("transcription engine unavailable", slogError(err))
		return err
	}
	c.log.Info("transcription engine ready")
	return nil
}

// BeginSession starts recording. It does nothing if a session is already
// active and returns an error wrapping stt.ErrUnavailable if the engine did
// not load.
func (c *Controller) BeginSession() error {
	c.mu.Lock()
	closed, busy := c.closed, c.active != nil
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if busy {
		return nil
	}
	loadErr := c.Prepare(c.ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.active != nil {
		c.mu.Unlock()
		return nil
	}
	id := uuid.NewString()
	if loadErr != nil {
		c.mu.Unlock()
		c.emit(Event{SessionID: id, Type: EventError, Err: loadErr, Fatal: true})
		return loadErr
	}

	est, err := vad.New(c.cfg.VAD)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.ring.Clear()
	r := &run{
		id:    id,
		sched: scheduler.New(c.cfg.Scheduler, c.ring, c.engine, est, c.log.With(slog.String("session_id", id))),
		done:  make(chan struct{}),
	}
	// The session is reserved before the source starts so a concurrent
	// BeginSession is a no-op and EndSession can stop it.
	c.active = r
	c.wg.Add(2)
	c.setAccepting(true)
	c.mu.Unlock()

	if c.source != nil {
		if err := c.source.Start(c.ctx, c.Feed); err != nil {
			c.setAccepting(false)
			c.mu.Lock()
			c.active = nil
			c.mu.Unlock()
			close(r.done)
			c.wg.Add(-2)
			err = fmt.Errorf("start audio source: %w", err)
			c.log.Error("session failed to start", slog.String("session_id", id), slogError(err))
			c.emit(Event{SessionID: id, Type: EventError, Err: err, Fatal: true})
			return err
		}
	}
	c.mu.Lock()
	ending := r.ending
	c.mu.Unlock()
	if ending {
		c.stopCapture()
	}
	go func() {
		defer c.wg.Done()
		r.sched.Run(c.ctx)
	}()
	go c.consume(r)

	if c.sessions != nil {
		c.sessions.Add(c.ctx, 1)
	}
	c.log.Info("session started", slog.String("session_id", id))
	return nil
}

// EndSession stops recording and lets the final transcription run in the
// background. It does nothing if no session is active. Use Wait to block
// until the session is over.
func (c *Controller) EndSession() {
	c.mu.Lock()
	r := c.active
	if r == nil || r.ending {
		c.mu.Unlock()
		return
	}
	r.ending = true
	c.mu.Unlock()

	c.stopCapture()
	r.sched.Stop()
	c.log.Info("session ending", slog.String("session_id", r.id))
}

// Wait blocks until the active session, if any, has returned to idle.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed appends a block of mono samples captured at sampleRate. Blocks
// arriving while no session is recording are dropped.
func (c *Controller) Feed(block []float32, sampleRate int) {
	if len(block) == 0 {
		return
	}
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	if !c.accepting {
		return
	}
	if c.resampler == nil || c.resampleFrom != sampleRate {
		c.resampler = audio.NewResampler(sampleRate, c.cfg.SampleRate)
		c.resampleFrom = sampleRate
	}
	c.ring.Append(c.resampler.Process(block))
}

// State returns the scheduler state of the current session, or Idle.
func (c *Controller) State() scheduler.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session ID, or "" when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.id
}

// Ready reports whether the engine loaded successfully.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepared && c.loadErr == nil
}

// Close ends any active session, waits for its final transcript up to the
// final timeout, and stops all goroutines.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.EndSession()
	grace := c.cfg.Scheduler.FinalTimeout + time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	err := c.Wait(ctx)
	cancel()

	c.cancel()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("session did not finish: %w", err)
	}
	return nil
}

func (c *Controller) consume(r *run) {
	defer c.wg.Done()
	log := c.log.With(slog.String("session_id", r.id))

	var rec reconcile.Reconciler
	for u := range r.sched.Updates() {
		switch u.Kind {
		case scheduler.KindState:
			c.mu.Lock()
			c.state = u.State
			c.mu.Unlock()
			c.emit(Event{SessionID: r.id, Type: EventState, State: u.State})
		case scheduler.KindPartial:
			c.deliver(r.id, log, &rec, u.Snapshot.Text, EventDelta)
		case scheduler.KindFinal:
			c.deliver(r.id, log, &rec, u.Snapshot.Text, EventFinal)
		case scheduler.KindError:
			if errors.Is(u.Err, stt.ErrUnavailable) {
				log.Error("transcription engine became unavailable", slogError(u.Err))
				c.halt(r)
				c.emit(Event{SessionID: r.id, Type: EventError, Err: u.Err, Fatal: true})
				continue
			}
			log.Warn("transcription failed",
				slog.String("mode", u.Mode.String()),
				slog.Int("samples", u.Samples),
				slogError(u.Err),
			)
		}
	}
	c.finish(r)
}

func (c *Controller) deliver(id string, log *slog.Logger, rec *reconcile.Reconciler, text string, typ EventType) {
	delta := rec.Next(text)
	if delta == "" && typ != EventFinal {
		return
	}
	c.emit(Event{SessionID: id, Type: typ, Text: delta, Transcript: text})
	if delta == "" {
		return
	}
	if c.deltas != nil {
		c.deltas.Add(c.ctx, 1)
	}
	if c.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SinkTimeout)
	err := c.sink.Insert(ctx, delta)
	cancel()
	if err != nil {
		log.Warn("text sink insert failed", slogError(err))
		if c.sinkFailures != nil {
			c.sinkFailures.Add(c.ctx, 1)
		}
		c.emit(Event{SessionID: id, Type: EventError, Err: fmt.Errorf("insert text: %w", err)})
	}
}

// halt stops capture for a session that failed on its own.
func (c *Controller) halt(r *run) {
	c.mu.Lock()
	ending := r.ending
	r.ending = true
	c.mu.Unlock()
	if !ending {
		c.stopCapture()
	}
	r.sched.Stop()
}

func (c *Controller) finish(r *run) {
	c.halt(r)
	c.ring.Clear()

	c.mu.Lock()
	c.active = nil
	c.state = scheduler.Idle
	c.mu.Unlock()

	c.emit(Event{SessionID: r.id, Type: EventState, State: scheduler.Idle})
	close(r.done)
	c.log.Info("session finished", slog.String("session_id", r.id))
}

func (c *Controller) stopCapture() {
	if c.source != nil {
		if err := c.source.Stop(); err != nil {
			c.log.Warn("audio source stop failed", slogError(err))
		}
	}
	c.setAccepting(false)
}

func (c *Controller) setAccepting(v bool) {
	c.feedMu.Lock()
	c.accepting = v
	c.resampler = nil
	c.feedMu.Unlock()
}

func (c *Controller) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = c.now().UTC()
	}
	c.listeners.OnEvent(e)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
