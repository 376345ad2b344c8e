package manager

import (
	"context"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/events"
	"github.com/flowdial/dialer/internal/switchdriver"
)

// handleEvent dispatches one switch channel event to the handler matching
// its type, per spec.md §4.6. Unknown correlation (a call id the Call
// Service has never heard of) is dropped without logging — it cannot belong
// to any registered campaign.
func (m *Manager) handleEvent(ctx context.Context, evt switchdriver.Event) {
	switch evt.Type {
	case switchdriver.EventChannelCreate:
		m.onChannelCreate(ctx, evt)
	case switchdriver.EventChannelAnswer:
		m.onChannelAnswer(ctx, evt)
	case switchdriver.EventChannelHangupComplete:
		m.onChannelHangupComplete(ctx, evt)
	default:
		m.logger.Error("unrecognized switch event type", "type", evt.Type)
	}
}

func (m *Manager) onChannelCreate(ctx context.Context, evt switchdriver.Event) {
	status := callservice.CallRinging
	uuid := evt.SwitchUUID
	_, err := m.calls.UpdateCall(ctx, evt.Correlation.CallID, callservice.CallPatch{
		Status:     &status,
		SwitchUUID: &uuid,
	})
	if err != nil {
		m.logger.Error("updating call on channel create", "call_id", evt.Correlation.CallID, "error", err)
	}
}

func (m *Manager) onChannelAnswer(ctx context.Context, evt switchdriver.Event) {
	call, err := m.calls.AnswerCall(ctx, evt.Correlation.CallID, evt.Correlation.AgentID)
	if err != nil {
		m.logger.Error("answering call", "call_id", evt.Correlation.CallID, "error", err)
		return
	}
	if call == nil {
		return
	}

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, events.TopicCallsAnswered, call.TenantID, toPayload(call)); err != nil {
			m.logger.Error("publishing calls.answered", "call_id", call.ID, "error", err)
		}
	}

	entry := m.entryFor(call.CampaignID)
	if entry == nil {
		return
	}
	switch entry.mode {
	case catalog.ModeProgressive:
		if entry.progressive != nil {
			entry.progressive.CallAnswered(call.ID, call.Phone)
		}
	case catalog.ModePredictive:
		if entry.predictive != nil {
			entry.predictive.CallAnswered(call.ID, call.Phone)
		}
	}
}

func (m *Manager) onChannelHangupComplete(ctx context.Context, evt switchdriver.Event) {
	call, err := m.calls.GetCall(ctx, evt.Correlation.CallID)
	if err != nil {
		m.logger.Error("reading call on hangup", "call_id", evt.Correlation.CallID, "error", err)
		return
	}
	if call == nil {
		return
	}

	// A call already finalized as abandoned was ended by its own dialer's
	// waiting-for-agent reaper, which already recorded the controller
	// outcome directly; this switch-side hangup is just the eventual
	// echo of the Hangup command that reaper issued. Skip re-ending and
	// re-publishing to avoid double-counting.
	alreadyAbandoned := call.Status == callservice.CallAbandoned

	terminalStatus := callservice.CallStatus(switchdriver.TerminalStatusForCause(evt.HangupCause))
	if !alreadyAbandoned {
		call, err = m.calls.EndCall(ctx, evt.Correlation.CallID, terminalStatus)
		if err != nil {
			m.logger.Error("ending call", "call_id", evt.Correlation.CallID, "error", err)
			return
		}
		if call == nil {
			return
		}

		if m.publisher != nil {
			if err := m.publisher.Publish(ctx, events.TopicCallsEnded, call.TenantID, toPayload(call)); err != nil {
				m.logger.Error("publishing calls.ended", "call_id", call.ID, "error", err)
			}
		}
	}

	if call.AgentID != "" {
		if err := m.calls.UpdateAgentStatus(ctx, &callservice.AgentStatus{
			AgentID:  call.AgentID,
			TenantID: call.TenantID,
			State:    callservice.AgentWrapUp,
		}); err != nil {
			m.logger.Error("transitioning agent to wrap-up", "agent_id", call.AgentID, "error", err)
		}
	}

	entry := m.entryFor(call.CampaignID)
	if entry == nil || entry.predictive == nil {
		return
	}
	if alreadyAbandoned {
		return
	}
	entry.predictive.RecordCallOutcome(terminalStatus == callservice.CallCompleted, false)
}

func (m *Manager) entryFor(campaignID string) *campaignEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[campaignID]
}

func toPayload(call *callservice.Call) events.CallPayload {
	payload := events.CallPayload{
		CallID:         call.ID,
		Direction:      string(call.Direction),
		Phone:          call.Phone,
		CampaignID:     call.CampaignID,
		LeadID:         call.LeadID,
		AgentID:        call.AgentID,
		Status:         string(call.Status),
		StartTime:      call.StartTime,
		AnswerTime:     call.AnswerTime,
		EndTime:        call.EndTime,
		RingDurationMs: call.RingDuration().Milliseconds(),
		TalkDurationMs: call.TalkDuration().Milliseconds(),
	}
	if call.EndTime != nil {
		payload.TotalDurationMs = call.EndTime.Sub(call.StartTime).Milliseconds()
	}
	return payload
}
