package progressive

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/callservice/callservicetest"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/catalog/catalogtest"
	"github.com/flowdial/dialer/internal/events/eventstest"
	"github.com/flowdial/dialer/internal/switchdriver/switchdrivertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDialer(t *testing.T, settings catalog.CampaignSettings) (*Dialer, *callservice.CallService, *switchdrivertest.Driver) {
	t.Helper()
	return newDialerWithSchedule(t, settings, catalog.CampaignSchedule{})
}

func newDialerWithSchedule(t *testing.T, settings catalog.CampaignSettings, schedule catalog.CampaignSchedule) (*Dialer, *callservice.CallService, *switchdrivertest.Driver) {
	t.Helper()
	leads := catalogtest.NewLeadRepository()
	fast := callservicetest.NewFastStore()
	durable := callservicetest.NewDurableStore()
	calls := callservice.New(fast, durable, testLogger())
	driver := switchdrivertest.New()
	pub := eventstest.New()

	d := New(Dependencies{
		CampaignID: "camp-1",
		TenantID:   "tenant-1",
		Settings:   settings,
		Schedule:   schedule,
		Leads:      leads,
		Calls:      calls,
		Driver:     driver,
		Publisher:  pub,
		Logger:     testLogger(),
	})
	return d, calls, driver
}

// TestTickSkipsOutsideScheduleWindow exercises spec.md §9's schedule gate:
// a campaign whose schedule never matches today must not originate.
func TestTickSkipsOutsideScheduleWindow(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	schedule := catalog.CampaignSchedule{
		Windows: []catalog.ScheduleWindow{
			{Weekday: (time.Now().Weekday() + 1) % 7, Start: "00:00", End: "23:59"},
		},
	}
	d, calls, _ := newDialerWithSchedule(t, settings, schedule)
	ctx := context.Background()

	mustUpsertAgent(t, calls, "agent-1", time.Now())
	repo := d.leads.(*catalogtest.LeadRepository)
	repo.Put(&catalog.Lead{
		ID:         "a",
		TenantID:   "tenant-1",
		CampaignID: "camp-1",
		Phone:      "+15550000",
		Status:     catalog.LeadNew,
	})

	if err := d.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	active, err := calls.ActiveCallCountForCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("counting active calls: %v", err)
	}
	if active != 0 {
		t.Fatalf("expected tick to skip dialing outside the schedule window, got %d active calls", active)
	}
}

// Scenario 3 from spec.md §8: two available agents idle since T-30s and
// T-10s, one waiting call; matching picks the agent idle since T-30s.
func TestMatchPicksLongestIdleAgent(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	settings.WaitForAgentCap = 10 * time.Second
	d, calls, _ := newDialer(t, settings)
	ctx := context.Background()

	now := time.Now()
	mustUpsertAgent(t, calls, "agent-old", now.Add(-30*time.Second))
	mustUpsertAgent(t, calls, "agent-new", now.Add(-10*time.Second))

	call, err := calls.CreateCall(ctx, callservice.CreateCallInput{
		TenantID: "tenant-1", CampaignID: "camp-1", Direction: callservice.DirectionOutbound, Phone: "+15550000",
	})
	if err != nil {
		t.Fatalf("creating call: %v", err)
	}
	d.CallAnswered(call.ID, call.Phone)

	d.match(ctx)

	updated, err := calls.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("getting call: %v", err)
	}
	if updated.AgentID != "agent-old" {
		t.Fatalf("expected pairing with longest-idle agent-old, got %q", updated.AgentID)
	}
	if updated.Status != callservice.CallConnected {
		t.Fatalf("expected status connected, got %q", updated.Status)
	}
}

// Scenario 3's second half: no match within wait-for-agent yields a hangup
// with NO_USER_RESPONSE and status=abandoned.
func TestReapExpiredAbandonsUnpairedCall(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	settings.WaitForAgentCap = 10 * time.Second
	d, calls, driver := newDialer(t, settings)
	ctx := context.Background()

	call, err := calls.CreateCall(ctx, callservice.CreateCallInput{
		TenantID: "tenant-1", CampaignID: "camp-1", Direction: callservice.DirectionOutbound, Phone: "+15550000",
	})
	if err != nil {
		t.Fatalf("creating call: %v", err)
	}
	switchUUID := "ari-channel-1"
	if _, err := calls.UpdateCall(ctx, call.ID, callservice.CallPatch{SwitchUUID: &switchUUID}); err != nil {
		t.Fatalf("setting switch uuid: %v", err)
	}

	d.mu.Lock()
	d.waiting = append(d.waiting, &waitingCall{callID: call.ID, phone: call.Phone, answeredAt: time.Now().Add(-11 * time.Second)})
	d.mu.Unlock()

	d.reapExpired(ctx)

	found := false
	for _, id := range driver.HungUp {
		if id == switchUUID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected expired call's switch channel to be hung up, got %v", driver.HungUp)
	}

	updated, err := calls.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("getting call: %v", err)
	}
	if updated.Status != callservice.CallAbandoned {
		t.Fatalf("expected status abandoned, got %q", updated.Status)
	}
}

func mustUpsertAgent(t *testing.T, calls *callservice.CallService, id string, lastChange time.Time) {
	t.Helper()
	if err := calls.UpdateAgentStatus(context.Background(), &callservice.AgentStatus{
		AgentID:         id,
		TenantID:        "tenant-1",
		State:           callservice.AgentAvailable,
		LastStateChange: lastChange,
	}); err != nil {
		t.Fatalf("seeding agent %s: %v", id, err)
	}
}
