// Package watchdog implements the periodic reaper sweeps described in
// spec.md §7: calls that never receive the switch event their lifecycle
// depends on are force-terminated rather than left stuck forever.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/events"
)

const (
	initiatedSweepInterval = 15 * time.Second
	initiatedStuckAfter    = 60 * time.Second
)

// StartRingingSweep reaps calls stuck in status=ringing past
// ringTimeout+grace with no recent switch activity: force endCall(failed)
// and emit calls.ended, per spec.md §7. Follows the teacher's
// StartCleanupTicker idiom (internal/voicemail/cleanup.go,
// internal/recording/cleanup.go): a ticker loop selecting on ctx.Done() and
// ticker.C, logging and continuing on a per-sweep error.
func StartRingingSweep(ctx context.Context, calls *callservice.CallService, publisher events.Publisher, ringTimeout, grace time.Duration, logger *slog.Logger) {
	logger = logger.With("component", "watchdog.ringing")
	threshold := ringTimeout + grace

	go func() {
		ticker := time.NewTicker(ringTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sweepStatus(ctx, calls, publisher, callservice.CallRinging, threshold, logger); err != nil {
					logger.Error("ringing sweep failed", "error", err)
				}
			}
		}
	}()
}

// StartInitiatedSweep reaps calls stuck in status=initiated beyond 60s
// (originate never produced CHANNEL_CREATE), force-ending and emitting
// calls.ended per spec.md §7.
func StartInitiatedSweep(ctx context.Context, calls *callservice.CallService, publisher events.Publisher, logger *slog.Logger) {
	logger = logger.With("component", "watchdog.initiated")

	go func() {
		ticker := time.NewTicker(initiatedSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sweepStatus(ctx, calls, publisher, callservice.CallInitiated, initiatedStuckAfter, logger); err != nil {
					logger.Error("initiated sweep failed", "error", err)
				}
			}
		}
	}()
}

// sweepStatus force-ends every active call in the given status whose
// start-time is older than threshold, publishing calls.ended for each one
// it reaps (spec.md §7: "force endCall(failed) and emit").
func sweepStatus(ctx context.Context, calls *callservice.CallService, publisher events.Publisher, status callservice.CallStatus, threshold time.Duration, logger *slog.Logger) error {
	active, err := calls.ActiveCalls(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-threshold)
	reaped := 0
	for _, call := range active {
		if call.Status != status {
			continue
		}
		if !call.StartTime.Before(cutoff) {
			continue
		}
		ended, err := calls.EndCall(ctx, call.ID, callservice.CallFailed)
		if err != nil {
			logger.Error("reaping stuck call", "call_id", call.ID, "status", status, "error", err)
			continue
		}
		reaped++

		if publisher != nil && ended != nil {
			if err := publisher.Publish(ctx, events.TopicCallsEnded, ended.TenantID, toPayload(ended)); err != nil {
				logger.Error("publishing calls.ended for reaped call", "call_id", ended.ID, "error", err)
			}
		}
	}
	if reaped > 0 {
		logger.Info("reaped stuck calls", "status", status, "count", reaped)
	}
	return nil
}

// toPayload mirrors manager/events.go's toPayload: the watchdog package has
// no dependency on manager, so the same field mapping from a terminal call
// to the wire payload is duplicated here rather than creating a cross-
// dependency between the two.
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
