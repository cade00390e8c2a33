package session

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/scheduler"
)

type EventType string

const (
	EventState EventType = "state"
	EventDelta EventType = "delta"
	EventFinal EventType = "final"
	EventError EventType = "error"
)

// Event is reported to listeners from the session goroutine, in order.
type Event struct {
	SessionID string
	Type      EventType
	State     scheduler.State
	// Text is the reconciled delta for delta and final events.
	Text string
	// Transcript is the engine's full hypothesis the delta was taken from.
	Transcript string
	Err        error
	// Fatal marks errors that ended the session.
	Fatal bool
	Time  time.Time
}

// Listener observes session events. OnEvent runs on the session goroutine
// and must not block for long or call back into the controller.
type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Fanout forwards each event to every listener in order.
type Fanout []Listener

func (f Fanout) OnEvent(e Event) {
	for _, l := range f {
		if l != nil {
			l.OnEvent(e)
		}
	}
}

// Sink receives reconciled text, typically inserting it at the cursor.
type Sink interface {
	Insert(ctx context.Context, text string) error
}

// Source produces audio blocks while a session is recording. deliver may be
// called from any goroutine and must not be called after Stop returns.
type Source interface {
	Start(ctx context.Context, deliver func(block []float32, sampleRate int)) error
	Stop() error
}
