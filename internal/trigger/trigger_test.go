package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/scheduler"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

type fakeController struct {
	mu       sync.Mutex
	active   bool
	begins   int
	ends     int
	beginErr error
}

func (f *fakeController) BeginSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	if f.beginErr != nil {
		return f.beginErr
	}
	f.active = true
	return nil
}

func (f *fakeController) EndSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	f.active = false
}

func (f *fakeController) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return "session-1"
	}
	return ""
}

func (f *fakeController) State() scheduler.State {
	if f.SessionID() != "" {
		return scheduler.Running
	}
	return scheduler.Idle
}

func (f *fakeController) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.ends
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPBeginEnd(t *testing.T) {
	ctrl := &fakeController{}
	mux := http.NewServeMux()
	NewHTTP(ctrl, discard()).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/session/begin", "application/json", nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || status.SessionID != "session-1" || status.State != "running" {
		t.Fatalf("unexpected begin response %d %+v", resp.StatusCode, status)
	}

	resp, err = http.Post(srv.URL+"/v1/session/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	resp.Body.Close()
	if begins, ends := ctrl.counts(); begins != 1 || ends != 1 {
		t.Fatalf("expected one begin and one end, got %d/%d", begins, ends)
	}

	resp, err = http.Get(srv.URL + "/v1/session/begin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected GET to be rejected, got %d", resp.StatusCode)
	}
}

func TestHTTPUnavailableEngine(t *testing.T) {
	ctrl := &fakeController{beginErr: fmt.Errorf("%w: model missing", stt.ErrUnavailable)}
	mux := http.NewServeMux()
	NewHTTP(ctrl, discard()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/session/toggle", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model missing") {
		t.Fatalf("expected error in body, got %s", rec.Body.String())
	}
}

func TestLinesToggle(t *testing.T) {
	ctrl := &fakeController{}
	var out strings.Builder
	lines := NewLines(strings.NewReader("\n\n\n"), &out, ctrl, discard())
	if err := lines.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if begins, ends := ctrl.counts(); begins != 2 || ends != 1 {
		t.Fatalf("expected begin/end/begin, got %d/%d", begins, ends)
	}
	if !strings.Contains(out.String(), "recording") {
		t.Fatalf("expected prompts, got %q", out.String())
	}
}

func TestBusTrigger(t *testing.T) {
	logger := discard()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	ctrl := &fakeController{}
	trig := NewBus(client, ctrl)
	if err := trig.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer trig.Close()

	if err := client.Conn().Publish(protocol.SubjectTriggerBegin, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := client.Conn().Publish(protocol.SubjectTriggerEnd, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		begins, ends := ctrl.counts()
		if begins == 1 && ends == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("bus commands not received: %d/%d", begins, ends)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
