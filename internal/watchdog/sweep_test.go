package watchdog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/callservice/callservicetest"
	"github.com/flowdial/dialer/internal/events"
	"github.com/flowdial/dialer/internal/events/eventstest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepStatusReapsStuckRinging(t *testing.T) {
	fast := callservicetest.NewFastStore()
	durable := callservicetest.NewDurableStore()
	calls := callservice.New(fast, durable, testLogger())
	ctx := context.Background()

	call, err := calls.CreateCall(ctx, callservice.CreateCallInput{
		TenantID: "tenant-1", CampaignID: "camp-1", Direction: callservice.DirectionOutbound, Phone: "+15551234",
	})
	if err != nil {
		t.Fatalf("creating call: %v", err)
	}
	ringing := callservice.CallRinging
	if _, err := calls.UpdateCall(ctx, call.ID, callservice.CallPatch{Status: &ringing}); err != nil {
		t.Fatalf("marking ringing: %v", err)
	}

	// Back-date the call's start time past the sweep threshold by replacing
	// the fast-store entry directly — CreateCall always stamps "now".
	stale, err := calls.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("getting call: %v", err)
	}
	stale.StartTime = time.Now().Add(-time.Hour)
	if err := fast.CreateCall(ctx, stale); err != nil {
		t.Fatalf("seeding stale call: %v", err)
	}

	publisher := eventstest.New()
	if err := sweepStatus(ctx, calls, publisher, callservice.CallRinging, 30*time.Second, testLogger()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	final, err := calls.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("getting final call: %v", err)
	}
	if final.Status != callservice.CallFailed {
		t.Fatalf("expected status failed after reap, got %q", final.Status)
	}

	if publisher.Count(events.TopicCallsEnded) != 1 {
		t.Fatalf("expected exactly one calls.ended publication for the reaped call, got %d", publisher.Count(events.TopicCallsEnded))
	}
}

func TestSweepStatusIgnoresFreshCalls(t *testing.T) {
	fast := callservicetest.NewFastStore()
	durable := callservicetest.NewDurableStore()
	calls := callservice.New(fast, durable, testLogger())
	ctx := context.Background()

	call, err := calls.CreateCall(ctx, callservice.CreateCallInput{
		TenantID: "tenant-1", CampaignID: "camp-1", Direction: callservice.DirectionOutbound, Phone: "+15551234",
	})
	if err != nil {
		t.Fatalf("creating call: %v", err)
	}
	ringing := callservice.CallRinging
	if _, err := calls.UpdateCall(ctx, call.ID, callservice.CallPatch{Status: &ringing}); err != nil {
		t.Fatalf("marking ringing: %v", err)
	}

	publisher := eventstest.New()
	if err := sweepStatus(ctx, calls, publisher, callservice.CallRinging, 30*time.Second, testLogger()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	final, err := calls.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("getting final call: %v", err)
	}
	if final.Status != callservice.CallRinging {
		t.Fatalf("expected status unchanged (ringing), got %q", final.Status)
	}
	if publisher.Count(events.TopicCallsEnded) != 0 {
		t.Fatalf("expected no calls.ended publication when nothing was reaped")
	}
}
