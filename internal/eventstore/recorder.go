package eventstore

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/scheduler"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

const recordTimeout = 2 * time.Second

// Recorder is a session listener that writes the session timeline to the
// store.
type Recorder struct {
	store *Store
	log   *slog.Logger

	mu     sync.Mutex
	active map[string]*recording
}

type recording struct {
	text   strings.Builder
	failed bool
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store:  store,
		log:    store.log,
		active: make(map[string]*recording),
	}
}

func (r *Recorder) OnEvent(e session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	var err error
	switch e.Type {
	case session.EventState:
		switch e.State {
		case scheduler.Armed:
			r.mu.Lock()
			r.active[e.SessionID] = &recording{}
			r.mu.Unlock()
			err = r.store.AppendSession(ctx, e.SessionID)
		case scheduler.Idle:
			err = r.complete(ctx, e.SessionID)
		}
	case session.EventDelta, session.EventFinal:
		r.mu.Lock()
		if rec := r.active[e.SessionID]; rec != nil {
			rec.text.WriteString(e.Text)
		}
		r.mu.Unlock()
		err = r.store.AppendEvent(ctx, Event{SessionID: e.SessionID, Type: string(e.Type), Text: e.Text, CreatedAt: e.Time})
	case session.EventError:
		err = r.recordError(ctx, e)
	}
	if err != nil {
		r.log.Warn("failed to record session event",
			slog.String("session_id", e.SessionID),
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Recorder) recordError(ctx context.Context, e session.Event) error {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	r.mu.Lock()
	rec := r.active[e.SessionID]
	if rec != nil && e.Fatal {
		rec.failed = true
	}
	r.mu.Unlock()

	// Sessions refused at begin never reached Armed.
	if rec == nil {
		if err := r.store.AppendSession(ctx, e.SessionID); err != nil {
			return err
		}
	}
	if err := r.store.AppendEvent(ctx, Event{SessionID: e.SessionID, Type: string(e.Type), Error: msg, CreatedAt: e.Time}); err != nil {
		return err
	}
	if rec == nil {
		return r.store.CompleteSession(ctx, e.SessionID, "failed", "")
	}
	return nil
}

func (r *Recorder) complete(ctx context.Context, id string) error {
	r.mu.Lock()
	rec := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()
	if rec == nil {
		return nil
	}
	status := "completed"
	if rec.failed {
		status = "failed"
	}
	return r.store.CompleteSession(ctx, id, status, rec.text.String())
}
