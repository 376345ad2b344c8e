// Package eventstest provides a hand-written fake events.Publisher for
// tests.
package eventstest

import (
	"context"
	"sync"

	"github.com/flowdial/dialer/internal/events"
)

// Published records one call to Publish.
type Published struct {
	Topic    events.Topic
	TenantID string
	Payload  events.CallPayload
}

// Publisher is an in-memory fake that records every publication.
type Publisher struct {
	mu   sync.Mutex
	All  []Published
	Fail bool
}

// New creates an empty fake publisher.
func New() *Publisher { return &Publisher{} }

func (p *Publisher) Publish(_ context.Context, topic events.Topic, tenantID string, payload events.CallPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return errPublishFailed
	}
	p.All = append(p.All, Published{Topic: topic, TenantID: tenantID, Payload: payload})
	return nil
}

func (p *Publisher) Close() error { return nil }

// Count returns how many events were published to the given topic.
func (p *Publisher) Count(topic events.Topic) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.All {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errPublishFailed = fakeErr("fake publisher: forced publish failure")

var _ events.Publisher = (*Publisher)(nil)
