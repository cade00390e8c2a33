package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/scheduler"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/vad"
)

var script = strings.Fields("one two three four five six seven eight nine ten")

// prefixEngine returns a prefix of script proportional to the audio length,
// reaching the full sentence at two seconds.
type prefixEngine struct {
	mu       sync.Mutex
	quality  []int
	fast     int
	block    chan struct{}
	started  chan struct{}
	startOne sync.Once
	loadErr  error
	// loading, when set, is closed once Load starts; Load then waits for
	// loaded.
	loading chan struct{}
	loaded  chan struct{}
}

func (e *prefixEngine) Load(ctx context.Context) error {
	if e.loading != nil {
		close(e.loading)
		select {
		case <-e.loaded:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.loadErr
}

func (e *prefixEngine) Transcribe(ctx context.Context, samples []float32, mode stt.Mode) (stt.Snapshot, error) {
	e.mu.Lock()
	if mode == stt.ModeQuality {
		e.quality = append(e.quality, len(samples))
	} else {
		e.fast++
	}
	e.mu.Unlock()

	if mode == stt.ModeFast && e.block != nil {
		e.startOne.Do(func() { close(e.started) })
		<-e.block
	}
	n := len(samples) * len(script) / 32000
	if n > len(script) {
		n = len(script)
	}
	return stt.Snapshot{Text: strings.Join(script[:n], " ")}, nil
}

func (e *prefixEngine) qualityRequests() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.quality...)
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *recordingSink) Insert(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		SampleRate:  16000,
		MaxSeconds:  30,
		LoadTimeout: time.Second,
		SinkTimeout: time.Second,
		Scheduler: scheduler.Config{
			Streaming:      true,
			Warmup:         time.Millisecond,
			Poll:           2 * time.Millisecond,
			MinInterval:    4 * time.Millisecond,
			MaxInterval:    8 * time.Millisecond,
			MinProcessable: 30 * time.Millisecond,
			SubmitTimeout:  time.Second,
			FinalTimeout:   2 * time.Second,
		},
		VAD: vad.DefaultConfig(),
	}
}

func newController(t *testing.T, cfg Config, engine stt.Engine, sink Sink, opts ...Option) *Controller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewController(context.Background(), cfg, engine, sink, logger, opts...)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func speech(n, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return out
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestEndToEndDeltasConcatenateToFinal(t *testing.T) {
	engine := &prefixEngine{}
	sink := &recordingSink{}
	events := &recorder{}
	c := newController(t, testConfig(), engine, sink, WithListener(events))

	if err := c.BeginSession(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < 20; i++ {
		c.Feed(speech(1600, 16000), 16000)
		time.Sleep(3 * time.Millisecond)
	}
	c.EndSession()
	waitIdle(t, c)

	quality := engine.qualityRequests()
	if len(quality) != 1 || quality[0] != 32000 {
		t.Fatalf("expected one quality request over 2s of audio, got %v", quality)
	}

	finals := events.ofType(EventFinal)
	if len(finals) != 1 {
		t.Fatalf("expected one final event, got %d", len(finals))
	}
	full := strings.Join(script, " ")
	if finals[0].Transcript != full {
		t.Fatalf("unexpected final transcript %q", finals[0].Transcript)
	}
	if got := strings.Join(sink.all(), ""); got != full {
		t.Fatalf("deltas %q do not add up to %q", sink.all(), full)
	}
	if c.State() != scheduler.Idle || c.SessionID() != "" {
		t.Fatalf("controller should be idle after the session")
	}
}

func TestCancelledPartialNeverReachesSink(t *testing.T) {
	engine := &prefixEngine{block: make(chan struct{}), started: make(chan struct{})}
	sink := &recordingSink{}
	c := newController(t, testConfig(), engine, sink)

	if err := c.BeginSession(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.Feed(speech(16000, 16000), 16000)

	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("no partial was submitted")
	}
	c.EndSession()
	waitIdle(t, c)

	close(engine.block)
	time.Sleep(20 * time.Millisecond)

	texts := sink.all()
	if len(texts) != 1 || texts[0] != strings.Join(script[:5], " ") {
		t.Fatalf("expected only the final text in the sink, got %q", texts)
	}
}

func TestBeginAndEndAreIdempotent(t *testing.T) {
	engine := &prefixEngine{}
	c := newController(t, testConfig(), engine, &recordingSink{})

	c.EndSession()
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("wait with no session: %v", err)
	}

	if err := c.BeginSession(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	id := c.SessionID()
	if err := c.BeginSession(); err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if c.SessionID() != id {
		t.Fatalf("second begin must not start a new session")
	}
	c.EndSession()
	c.EndSession()
	waitIdle(t, c)

	if n := len(engine.qualityRequests()); n != 1 {
		t.Fatalf("expected one final request, got %d", n)
	}
}

func TestUnavailableEngineFailsClosed(t *testing.T) {
	engine := &prefixEngine{loadErr: errors.New("model missing")}
	events := &recorder{}
	c := newController(t, testConfig(), engine, &recordingSink{}, WithListener(events))

	if err := c.Prepare(context.Background()); !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from prepare, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.BeginSession(); !errors.Is(err, stt.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable from begin, got %v", err)
		}
	}
	errs := events.ofType(EventError)
	if len(errs) != 2 {
		t.Fatalf("expected one error event per attempt, got %d", len(errs))
	}
	if !errs[0].Fatal {
		t.Fatalf("engine unavailable should be fatal")
	}
	if c.Ready() || c.State() != scheduler.Idle {
		t.Fatalf("controller should be idle and not ready")
	}
	if engine.fast != 0 || len(engine.qualityRequests()) != 0 {
		t.Fatalf("no transcription should be attempted")
	}
}

func TestSinkFailureDoesNotStopSession(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Streaming = false
	sink := &recordingSink{err: errors.New("accessibility denied")}
	events := &recorder{}
	c := newController(t, cfg, &prefixEngine{}, sink, WithListener(events))

	if err := c.BeginSession(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.Feed(speech(16000, 16000), 16000)
	c.EndSession()
	waitIdle(t, c)

	if len(events.ofType(EventFinal)) != 1 {
		t.Fatalf("expected the final event despite the sink failure")
	}
	errs := events.ofType(EventError)
	if len(errs) != 1 || errs[0].Fatal {
		t.Fatalf("expected one non-fatal error event, got %+v", errs)
	}

	if err := c.BeginSession(); err != nil {
		t.Fatalf("a new session should start after a sink failure: %v", err)
	}
	c.EndSession()
	waitIdle(t, c)
}

func TestFeedResamplesDeviceRate(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Streaming = false
	engine := &prefixEngine{}
	c := newController(t, cfg, engine, &recordingSink{})

	c.Feed(speech(4800, 48000), 48000)
	if err := c.BeginSession(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.Feed(speech(4800, 48000), 48000)
	c.Feed(speech(4800, 48000), 48000)
	c.EndSession()
	c.Feed(speech(4800, 48000), 48000)
	waitIdle(t, c)

	quality := engine.qualityRequests()
	if len(quality) != 1 || quality[0] != 3200 {
		t.Fatalf("expected 3200 samples at 16kHz, got %v", quality)
	}
}

type fakeSource struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (s *fakeSource) Start(ctx context.Context, deliver func([]float32, int)) error {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	deliver(speech(8000, 16000), 16000)
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
	return nil
}

func TestSourceFollowsSession(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Streaming = false
	src := &fakeSource{}
	engine := &prefixEngine{}
	c := newController(t, cfg, engine, &recordingSink{}, WithSource(src))

	if err := c.BeginSession(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.EndSession()
	waitIdle(t, c)

	src.mu.Lock()
	started, stopped := src.started, src.stopped
	src.mu.Unlock()
	if started != 1 || stopped != 1 {
		t.Fatalf("expected one start and one stop, got %d/%d", started, stopped)
	}
	if q := engine.qualityRequests(); len(q) != 1 || q[0] != 8000 {
		t.Fatalf("expected source audio in the final request, got %v", q)
	}
}

func TestStatusAnswersWhileEngineLoads(t *testing.T) {
	engine := &prefixEngine{loading: make(chan struct{}), loaded: make(chan struct{})}
	c := newController(t, testConfig(), engine, &recordingSink{})

	began := make(chan error, 1)
	go func() { began <- c.BeginSession() }()

	select {
	case <-engine.loading:
	case <-time.After(5 * time.Second):
		t.Fatalf("engine load never started")
	}

	answered := make(chan struct{})
	go func() {
		_ = c.State()
		_ = c.SessionID()
		_ = c.Ready()
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("status calls blocked behind the engine load")
	}

	close(engine.loaded)
	if err := <-began; err != nil {
		t.Fatalf("begin: %v", err)
	}
	if c.SessionID() == "" {
		t.Fatalf("expected an active session after the load finished")
	}
	c.EndSession()
	waitIdle(t, c)

	if n := len(engine.qualityRequests()); n != 1 {
		t.Fatalf("expected one final request, got %d", n)
	}
}
