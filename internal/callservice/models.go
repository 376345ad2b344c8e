// Package callservice implements the two-tier Call Service: a fast,
// TTL-bounded live-state store (Redis) and a durable row store (SQLite),
// fronted by a single CallService API matching spec.md §4.2.
package callservice

import (
	"errors"
	"time"
)

// ErrNotFound is returned (or, per spec.md §4.2, simply surfaced as a nil
// result) when an operation targets a call or agent that does not exist.
var ErrNotFound = errors.New("callservice: not found")

// CallStatus is the lifecycle state of a live call.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallConnected CallStatus = "connected"
	CallCompleted CallStatus = "completed"
	CallAbandoned CallStatus = "abandoned"
	CallFailed    CallStatus = "failed"
	CallNoAnswer  CallStatus = "no-answer"
	CallBusy      CallStatus = "busy"
)

// Terminal reports whether the status is one from which a call never
// transitions further (spec.md §3's active-index invariant).
func (s CallStatus) Terminal() bool {
	switch s {
	case CallCompleted, CallAbandoned, CallFailed, CallNoAnswer, CallBusy:
		return true
	default:
		return false
	}
}

// Direction is the call's originating direction. The dialer core only ever
// creates outbound calls, but the type allows the store to be shared with
// inbound bookkeeping if a future caller needs it.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Call is the live (fast-store) representation of a call, per spec.md §3.
type Call struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	CampaignID string         `json:"campaignId,omitempty"`
	LeadID     string         `json:"leadId,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	Direction  Direction      `json:"direction"`
	Status     CallStatus     `json:"status"`
	Phone      string         `json:"phone"`
	CallerID   string         `json:"callerId,omitempty"`
	SwitchUUID string         `json:"switchUuid,omitempty"`
	StartTime  time.Time      `json:"startTime"`
	AnswerTime *time.Time     `json:"answerTime,omitempty"`
	EndTime    *time.Time     `json:"endTime,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RingDuration returns time from start to answer, zero if not yet answered.
func (c *Call) RingDuration() time.Duration {
	if c.AnswerTime == nil {
		return 0
	}
	return c.AnswerTime.Sub(c.StartTime)
}

// TalkDuration returns time from answer to end, zero if never answered or
// not yet ended.
func (c *Call) TalkDuration() time.Duration {
	if c.AnswerTime == nil || c.EndTime == nil {
		return 0
	}
	return c.EndTime.Sub(*c.AnswerTime)
}

// CallPatch is a partial update merged into a live call by UpdateCall.
// Nil fields are left unchanged.
type CallPatch struct {
	Status     *CallStatus
	AgentID    *string
	SwitchUUID *string
	AnswerTime *time.Time
	EndTime    *time.Time
	Metadata   map[string]any
}

// AgentState is an agent's current pacing state.
type AgentState string

const (
	AgentAvailable AgentState = "available"
	AgentOnCall    AgentState = "on-call"
	AgentWrapUp    AgentState = "wrap-up"
	AgentBreak     AgentState = "break"
	AgentOffline   AgentState = "offline"
)

// AgentStatus is the fast-store representation of an agent's pacing state.
type AgentStatus struct {
	AgentID         string     `json:"agentId"`
	TenantID        string     `json:"tenantId"`
	State           AgentState `json:"state"`
	CurrentCallID   string     `json:"currentCallId,omitempty"`
	LastStateChange time.Time  `json:"lastStateChange"`
}
