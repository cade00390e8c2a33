// Package notify publishes session events to the bus, the desktop and
// websocket clients.
package notify

import (
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

// Message converts a session event to its wire form.
func Message(e session.Event) protocol.SessionEvent {
	msg := protocol.SessionEvent{
		SessionID: e.SessionID,
		Type:      string(e.Type),
		Text:      e.Text,
		Timestamp: e.Time,
	}
	if e.Type == session.EventState {
		msg.State = e.State.String()
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// Subject returns the bus subject an event type is published on.
func Subject(t session.EventType) string {
	switch t {
	case session.EventDelta:
		return protocol.SubjectTranscriptDelta
	case session.EventFinal:
		return protocol.SubjectTranscriptFinal
	case session.EventError:
		return protocol.SubjectSessionError
	default:
		return protocol.SubjectSessionState
	}
}
