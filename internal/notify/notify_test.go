package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/scheduler"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMessageCarriesStateAndError(t *testing.T) {
	msg := Message(session.Event{SessionID: "s1", Type: session.EventState, State: scheduler.Finalizing})
	if msg.State != "finalizing" || msg.Type != "state" {
		t.Fatalf("unexpected message %+v", msg)
	}
	msg = Message(session.Event{SessionID: "s1", Type: session.EventError, Err: errors.New("boom")})
	if msg.Error != "boom" || msg.State != "" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if Subject(session.EventDelta) != protocol.SubjectTranscriptDelta {
		t.Fatalf("delta events belong on the delta subject")
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(discard())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.OnEvent(session.Event{SessionID: "s1", Type: session.EventDelta, Text: " world"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg protocol.SessionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "delta" || msg.Text != " world" || msg.SessionID != "s1" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDesktopNotifiesOnErrorsOnly(t *testing.T) {
	d := NewDesktop("Loqa Dictate", discard())
	got := make(chan string, 4)
	d.notify = func(title, message string) error {
		got <- message
		return nil
	}

	d.OnEvent(session.Event{Type: session.EventDelta, Text: "hi"})
	d.OnEvent(session.Event{Type: session.EventError, Err: fmt.Errorf("%w: no model", stt.ErrUnavailable), Fatal: true})

	select {
	case msg := <-got:
		if !strings.Contains(msg, "unavailable") {
			t.Fatalf("unexpected notification %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra notification %q", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusPublisherRoutesBySubject(t *testing.T) {
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

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	NewBusPublisher(client).OnEvent(session.Event{SessionID: "s1", Type: session.EventFinal, Text: "done"})

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var evt protocol.SessionEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Text != "done" || evt.Type != "final" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
