// Package eventbus publishes the engine's lifecycle events onto an
// external NATS subject for observers outside the daemon's process. It is
// entirely optional: disabled unless a bus URL is configured, and a
// publish failure is logged and never allowed to influence engine state.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// Bus is a graph.Listener that republishes every event it observes.
type Bus struct {
	nc      *nats.Conn
	subject string
	logger  graph.Logger
}

// Connect dials url and returns a Bus publishing to subject. A nil Bus
// with a nil error is never returned; callers that want the event bus
// disabled should simply not call Connect.
func Connect(url, subject string, logger graph.Logger) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("latticed"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = graph.NopLogger{}
	}
	return &Bus{nc: nc, subject: subject, logger: logger}, nil
}

// envelope is the wire shape published for every event.
type envelope struct {
	Service string    `json:"service"`
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
}

// ServiceEvent implements graph.Listener.
func (b *Bus) ServiceEvent(name string, ev graph.Event) {
	payload, err := json.Marshal(envelope{Service: name, Event: ev.String(), At: time.Now()})
	if err != nil {
		b.logger.Errorf("eventbus: marshal %s/%s: %v", name, ev, err)
		return
	}
	if err := b.nc.Publish(b.subject, payload); err != nil {
		b.logger.Errorf("eventbus: publish %s/%s: %v", name, ev, err)
	}
}

// Close flushes and closes the underlying connection.
func (b *Bus) Close() {
	_ = b.nc.FlushTimeout(time.Second)
	b.nc.Close()
}
