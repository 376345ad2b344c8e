package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// natsPublisher implements Publisher over core NATS pub/sub, grounded on
// two-barrels-ari-proxy's messagebus.NatsBus wiring (it pairs the same
// ARI-style driver this package's sibling switchdriver package adopts with
// a NATS publish/subscribe layer).
type natsPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher connects to the given NATS URL and returns a Publisher.
func NewNATSPublisher(url, subjectPrefix string, logger *slog.Logger) (Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("dialer-engine"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &natsPublisher{conn: conn, prefix: subjectPrefix, logger: logger.With("component", "events.nats")}, nil
}

// Publish encodes the envelope and publishes it to "<prefix><topic>.<callId>",
// per SPEC_FULL.md §6's expansion, so subscribers can wildcard-subscribe per
// call without JetStream. Core NATS pub/sub is at-most-once on the wire,
// and Publish makes a single attempt: a failure is returned, and callers
// log it and continue without retrying. Every call mints a new eventId,
// which consumers dedupe on per spec.md §8.
func (p *natsPublisher) Publish(ctx context.Context, topic Topic, tenantID string, payload CallPayload) error {
	eventID := NewEventID()
	env := newEnvelope(eventID, topic, tenantID, payload)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding event envelope: %w", err)
	}

	subject := fmt.Sprintf("%s%s.%s", p.prefix, topic, payload.CallID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("event publish failed", "subject", subject, "event_id", eventID, "error", err)
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

func (p *natsPublisher) Close() error {
	p.conn.Close()
	return nil
}
