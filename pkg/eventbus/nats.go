package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus wraps a Bus and additionally republishes every event onto a
// NATS subject, so out-of-process observers (a dashboard, a second AESP
// process for the same agent) can watch review/freeze/negotiation
// activity. It is strictly optional: a Bus alone is a complete,
// correct, in-process event system, matching the design note that the
// publish channel is delivered on the same cooperative task regardless
// of whether a distributed transport is attached.
type NATSBus struct {
	*Bus
	conn          *nats.Conn
	subjectPrefix string
	log           *zap.Logger
}

// NewNATSBus wraps bus so every Publish also sends to
// "<subjectPrefix>.<topic>" on conn. conn may be nil, in which case
// NATSBus behaves exactly like Bus (publishing is local-only) — useful
// for tests and for deployments that never provision a NATS server.
func NewNATSBus(bus *Bus, conn *nats.Conn, subjectPrefix string, log *zap.Logger) *NATSBus {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = NewBus()
	}
	return &NATSBus{Bus: bus, conn: conn, subjectPrefix: subjectPrefix, log: log}
}

// Publish delivers to local subscribers first (so in-process ordering
// guarantees hold unconditionally), then best-effort publishes to NATS.
// A NATS publish failure is logged and swallowed — it must never make
// local event delivery, which is authoritative, appear to have failed.
func (n *NATSBus) Publish(ev Event) {
	n.Bus.Publish(ev)
	if n.conn == nil {
		return
	}
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		n.log.Warn("eventbus: marshal event for NATS publish failed", zap.String("topic", ev.Topic), zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", n.subjectPrefix, ev.Topic)
	if err := n.conn.Publish(subject, body); err != nil {
		n.log.Warn("eventbus: NATS publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
