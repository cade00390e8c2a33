package trigger

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Bus listens for begin/end commands published on the message bus.
type Bus struct {
	bus  *bus.Client
	ctrl Controller
	log  *slog.Logger
	subs []*nats.Subscription
}

func NewBus(busClient *bus.Client, ctrl Controller) *Bus {
	return &Bus{
		bus:  busClient,
		ctrl: ctrl,
		log:  busClient.Logger().With(slog.String("component", "trigger-bus")),
	}
}

func (b *Bus) Start() error {
	begin, err := b.bus.Conn().Subscribe(protocol.SubjectTriggerBegin, func(msg *nats.Msg) {
		if err := b.ctrl.BeginSession(); err != nil {
			b.log.Warn("begin session via bus failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectTriggerBegin, err)
	}
	b.subs = append(b.subs, begin)

	end, err := b.bus.Conn().Subscribe(protocol.SubjectTriggerEnd, func(msg *nats.Msg) {
		b.ctrl.EndSession()
	})
	if err != nil {
		b.Close()
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectTriggerEnd, err)
	}
	b.subs = append(b.subs, end)
	return nil
}

func (b *Bus) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
}
