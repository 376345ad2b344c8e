package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/callservice/callservicetest"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/catalog/catalogtest"
	"github.com/flowdial/dialer/internal/events/eventstest"
	"github.com/flowdial/dialer/internal/switchdriver"
	"github.com/flowdial/dialer/internal/switchdriver/switchdrivertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T) (*Manager, *catalogtest.CampaignRepository, *callservice.CallService, *switchdrivertest.Driver, *eventstest.Publisher) {
	t.Helper()
	campaigns := catalogtest.NewCampaignRepository()
	leads := catalogtest.NewLeadRepository()
	fast := callservicetest.NewFastStore()
	durable := callservicetest.NewDurableStore()
	calls := callservice.New(fast, durable, testLogger())
	driver := switchdrivertest.New()
	pub := eventstest.New()

	m := New(campaigns, leads, calls, driver, pub, testLogger())
	return m, campaigns, calls, driver, pub
}

// Scenario 6 from spec.md §8: starting a draft campaign is rejected.
func TestStartCampaignRejectsNonActive(t *testing.T) {
	m, campaigns, _, _, _ := newManager(t)
	campaigns.Put(&catalog.Campaign{
		ID: "camp-1", TenantID: "tenant-1", Mode: catalog.ModePredictive,
		Status: catalog.CampaignDraft, Settings: catalog.DefaultCampaignSettings(),
	})

	err := m.StartCampaign(context.Background(), "camp-1")
	if !errors.Is(err, ErrCampaignNotActive) {
		t.Fatalf("expected ErrCampaignNotActive, got %v", err)
	}
	if len(m.ActiveCampaigns()) != 0 {
		t.Fatalf("expected no dialer registered")
	}
}

func TestStartCampaignTwiceIsNoOp(t *testing.T) {
	m, campaigns, _, _, _ := newManager(t)
	campaigns.Put(&catalog.Campaign{
		ID: "camp-1", TenantID: "tenant-1", Mode: catalog.ModePredictive,
		Status: catalog.CampaignActive, Settings: catalog.DefaultCampaignSettings(),
	})

	if err := m.StartCampaign(context.Background(), "camp-1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := m.StartCampaign(context.Background(), "camp-1"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := m.ActiveCampaigns(); len(got) != 1 {
		t.Fatalf("expected exactly one registered campaign, got %v", got)
	}
	m.StopCampaign("camp-1")
}

func TestStopUnregisteredCampaignIsNoOp(t *testing.T) {
	m, _, _, _, _ := newManager(t)
	if err := m.StopCampaign("does-not-exist"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

// Scenario 5 from spec.md §8: USER_BUSY maps to terminal status busy, and
// the calls.ended payload status field reflects it.
func TestHangupMapsCauseToTerminalStatus(t *testing.T) {
	m, campaigns, calls, driver, pub := newManager(t)
	campaigns.Put(&catalog.Campaign{
		ID: "camp-1", TenantID: "tenant-1", Mode: catalog.ModePredictive,
		Status: catalog.CampaignActive, Settings: catalog.DefaultCampaignSettings(),
	})
	if err := m.StartCampaign(context.Background(), "camp-1"); err != nil {
		t.Fatalf("starting campaign: %v", err)
	}
	defer m.StopCampaign("camp-1")

	call, err := calls.CreateCall(context.Background(), callservice.CreateCallInput{
		TenantID: "tenant-1", CampaignID: "camp-1", Direction: callservice.DirectionOutbound, Phone: "+15551234",
	})
	if err != nil {
		t.Fatalf("creating call: %v", err)
	}

	m.handleEvent(context.Background(), switchdriver.Event{
		Type:        switchdriver.EventChannelHangupComplete,
		HangupCause: "USER_BUSY",
		Correlation: switchdriver.CorrelationVars{CallID: call.ID, CampaignID: "camp-1", TenantID: "tenant-1"},
	})

	updated, err := calls.GetCall(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("getting call: %v", err)
	}
	if updated.Status != callservice.CallBusy {
		t.Fatalf("expected status busy, got %q", updated.Status)
	}

	found := false
	for _, p := range pub.All {
		if p.Topic == "calls.ended" && p.Payload.CallID == call.ID {
			found = true
			if p.Payload.Status != "busy" {
				t.Fatalf("expected published status busy, got %q", p.Payload.Status)
			}
		}
	}
	if !found {
		t.Fatalf("expected a calls.ended publication")
	}
	_ = driver
}

func TestChannelCreateMarksRinging(t *testing.T) {
	m, campaigns, calls, _, _ := newManager(t)
	campaigns.Put(&catalog.Campaign{
		ID: "camp-1", TenantID: "tenant-1", Mode: catalog.ModeProgressive,
		Status: catalog.CampaignActive, Settings: catalog.DefaultCampaignSettings(),
	})
	if err := m.StartCampaign(context.Background(), "camp-1"); err != nil {
		t.Fatalf("starting campaign: %v", err)
	}
	defer m.StopCampaign("camp-1")

	call, err := calls.CreateCall(context.Background(), callservice.CreateCallInput{
		TenantID: "tenant-1", CampaignID: "camp-1", Direction: callservice.DirectionOutbound, Phone: "+15551234",
	})
	if err != nil {
		t.Fatalf("creating call: %v", err)
	}

	m.handleEvent(context.Background(), switchdriver.Event{
		Type:        switchdriver.EventChannelCreate,
		SwitchUUID:  "switch-uuid-1",
		Correlation: switchdriver.CorrelationVars{CallID: call.ID, CampaignID: "camp-1", TenantID: "tenant-1"},
		At:          time.Now(),
	})

	updated, err := calls.GetCall(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("getting call: %v", err)
	}
	if updated.Status != callservice.CallRinging {
		t.Fatalf("expected status ringing, got %q", updated.Status)
	}
	if updated.SwitchUUID != "switch-uuid-1" {
		t.Fatalf("expected switch uuid recorded, got %q", updated.SwitchUUID)
	}
}
