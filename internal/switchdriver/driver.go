// Package switchdriver implements the Switch Driver: one long-lived,
// authenticated connection to the media switch, exposing originate/bridge/
// hangup/record/DTMF commands and an inbound channel-event stream, per
// spec.md §4.1.
package switchdriver

import (
	"context"
	"time"
)

// EventType enumerates the switch-side channel event types the core
// consumes, per spec.md §4.1 and §6.
type EventType string

const (
	EventChannelCreate         EventType = "CHANNEL_CREATE"
	EventChannelAnswer         EventType = "CHANNEL_ANSWER"
	EventChannelHangupComplete EventType = "CHANNEL_HANGUP_COMPLETE"
)

// CorrelationVars are the well-known variables attached at originate time
// and echoed on every downstream event for a channel, per spec.md §4.1's
// contract.
type CorrelationVars struct {
	CallID     string
	CampaignID string
	LeadID     string
	TenantID   string
	AgentID    string // optional
}

// AsVars flattens the correlation set into the string map the switch
// transport actually carries as channel variables.
func (c CorrelationVars) AsVars() map[string]string {
	vars := map[string]string{
		"call-id":     c.CallID,
		"campaign-id": c.CampaignID,
		"lead-id":     c.LeadID,
		"tenant-id":   c.TenantID,
	}
	if c.AgentID != "" {
		vars["agent-id"] = c.AgentID
	}
	return vars
}

// correlationFromVars reconstructs the correlation set from echoed channel
// variables, tolerating missing optional fields.
func correlationFromVars(vars map[string]string) CorrelationVars {
	return CorrelationVars{
		CallID:     vars["call-id"],
		CampaignID: vars["campaign-id"],
		LeadID:     vars["lead-id"],
		TenantID:   vars["tenant-id"],
		AgentID:    vars["agent-id"],
	}
}

// Event is one channel-event notification from the switch, carrying the
// echoed correlation variables so the core can rejoin event to call.
type Event struct {
	Type        EventType
	SwitchUUID  string
	Correlation CorrelationVars
	HangupCause string // set only for EventChannelHangupComplete
	At          time.Time
}

// OriginateParams describes an outbound origination request.
type OriginateParams struct {
	Destination string
	CallerID    string
	Timeout     time.Duration
	Vars        CorrelationVars
	EarlyMedia  bool
	RingReady   bool
}

// EavesdropMode selects how a third party joins an existing call.
type EavesdropMode string

const (
	EavesdropListen  EavesdropMode = "listen"
	EavesdropWhisper EavesdropMode = "whisper"
	EavesdropBarge   EavesdropMode = "barge"
)

// Driver is the Switch Driver's command surface. The ARI implementation runs
// commands on a bounded background worker pool; each command method waits
// for its command's reply (or for ctx to end) before returning, so the
// calling goroutine blocks for the duration of the switch I/O and a command
// failure is returned to it.
type Driver interface {
	// Connect establishes the long-lived switch connection and starts the
	// event-stream read loop. It returns once the first connection attempt
	// completes (nil on success, that attempt's error on failure) or ctx is
	// cancelled; after a failed first attempt the loop keeps reconnecting
	// with backoff in the background.
	Connect(ctx context.Context) error
	// Close tears down the connection and stops the read loop.
	Close() error
	// Connected reports whether the switch connection is currently live,
	// for health reporting.
	Connected() bool
	// Events returns the channel-event stream. Closed when the driver
	// shuts down cleanly; a closed channel without a preceding Close() call
	// signals the fatal, unrecoverable disconnect described in spec.md §7.
	Events() <-chan Event

	// Originate returns a correlation handle once the switch has accepted
	// the request; the call's progress is observed through Events(), not
	// the return value.
	Originate(ctx context.Context, params OriginateParams) (jobID string, err error)
	Bridge(ctx context.Context, uuidA, uuidB string) error
	Hangup(ctx context.Context, uuid, cause string) error
	Transfer(ctx context.Context, uuid, dest, dialplan, dialplanContext string) error
	Hold(ctx context.Context, uuid string) error
	Unhold(ctx context.Context, uuid string) error
	Playback(ctx context.Context, uuid, soundURI string) error
	StartRecording(ctx context.Context, uuid, name string) error
	StopRecording(ctx context.Context, uuid, name string) error
	SendDTMF(ctx context.Context, uuid, digits string) error
	Eavesdrop(ctx context.Context, uuid, targetUUID string, mode EavesdropMode) error
	SetVariable(ctx context.Context, uuid, key, value string) error
	GetVariable(ctx context.Context, uuid, key string) (string, error)
	Park(ctx context.Context, uuid string) error
	Answer(ctx context.Context, uuid string) error
	PreAnswer(ctx context.Context, uuid string) error
	Broadcast(ctx context.Context, uuids []string, soundURI string) error
	Deflect(ctx context.Context, uuid, dest string) error
}

// hangupStatusMap maps switch hangup causes to terminal call statuses, per
// spec.md §4.6. It lives here, next to the event types it classifies,
// rather than in the manager package, so any consumer of the driver's
// events can share the same mapping without importing the manager.
var hangupStatusMap = map[string]string{
	"NO_ANSWER":         "no-answer",
	"NO_USER_RESPONSE":  "no-answer",
	"USER_BUSY":         "busy",
	"CALL_REJECTED":     "busy",
	"ORIGINATOR_CANCEL": "abandoned",
	"LOSE_RACE":         "abandoned",
	"NORMAL_CLEARING":   "completed",
	"SUCCESS":           "completed",
}

// TerminalStatusForCause returns the terminal call status for a switch
// hangup cause, defaulting to "failed" for any cause not in the table.
func TerminalStatusForCause(cause string) string {
	if status, ok := hangupStatusMap[cause]; ok {
		return status
	}
	return "failed"
}
