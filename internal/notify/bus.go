package notify

import (
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

// BusPublisher mirrors session events onto the message bus.
type BusPublisher struct {
	bus *bus.Client
	log *slog.Logger
}

func NewBusPublisher(busClient *bus.Client) *BusPublisher {
	return &BusPublisher{bus: busClient, log: busClient.Logger().With(slog.String("component", "notify-bus"))}
}

func (p *BusPublisher) OnEvent(e session.Event) {
	if err := p.bus.PublishJSON(Subject(e.Type), Message(e)); err != nil {
		p.log.Warn("failed to publish session event", slog.String("error", err.Error()))
	}
}
