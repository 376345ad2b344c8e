// Package events implements the Event Publisher: publication of lifecycle
// events to the external event bus, per spec.md §6. Each event is published
// once; this package does not retry a failed publish.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topic names the three output topics spec.md §6 requires.
type Topic string

const (
	TopicCallsStarted  Topic = "calls.started"
	TopicCallsAnswered Topic = "calls.answered"
	TopicCallsEnded    Topic = "calls.ended"
)

// Envelope is the wire format for every published event, per spec.md §6.
type Envelope struct {
	EventID   string    `json:"eventId"`
	TenantID  string    `json:"tenantId"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
	Type      Topic     `json:"type"`
	Payload   any       `json:"payload"`
}

const envelopeVersion = 1

// CallPayload is the minimal set of fields spec.md §6 requires downstream:
// call id, direction, phone number, campaign/lead/agent ids where
// applicable, answer-time, ring-duration, end-time, terminal status,
// talk-duration, total-duration.
type CallPayload struct {
	CallID          string     `json:"callId"`
	Direction       string     `json:"direction"`
	Phone           string     `json:"phone"`
	CampaignID      string     `json:"campaignId,omitempty"`
	LeadID          string     `json:"leadId,omitempty"`
	AgentID         string     `json:"agentId,omitempty"`
	Status          string     `json:"status,omitempty"`
	StartTime       time.Time  `json:"startTime"`
	AnswerTime      *time.Time `json:"answerTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	RingDurationMs  int64      `json:"ringDurationMs,omitempty"`
	TalkDurationMs  int64      `json:"talkDurationMs,omitempty"`
	TotalDurationMs int64      `json:"totalDurationMs,omitempty"`
}

// Publisher publishes lifecycle events to the event bus, keyed by call id
// for partition affinity. Each Publish is a single attempt with no retry at
// this layer. Publish failures are logged by the
// implementation and returned to the caller, who per spec.md §5 must log
// and continue rather than block the call.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, tenantID string, payload CallPayload) error
	Close() error
}

// NewEventID generates a fresh eventId for a publication. natsPublisher's
// Publish calls it once per call, so every Publish carries a new eventId
// for consumers to dedupe on (spec.md §6 and §8).
func NewEventID() string { return uuid.NewString() }

func newEnvelope(eventID string, topic Topic, tenantID string, payload CallPayload) Envelope {
	return Envelope{
		EventID:   eventID,
		TenantID:  tenantID,
		Timestamp: time.Now(),
		Version:   envelopeVersion,
		Type:      topic,
		Payload:   payload,
	}
}
