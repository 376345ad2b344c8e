package preview

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
	"github.com/flowdial/dialer/internal/switchdriver/switchdrivertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDialer(t *testing.T, settings catalog.CampaignSettings) (*Dialer, *catalogtest.LeadRepository, *callservice.CallService) {
	t.Helper()
	return newDialerWithSchedule(t, settings, catalog.CampaignSchedule{})
}

func newDialerWithSchedule(t *testing.T, settings catalog.CampaignSettings, schedule catalog.CampaignSchedule) (*Dialer, *catalogtest.LeadRepository, *callservice.CallService) {
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
	return d, leads, calls
}

// TestRequestNextLeadSkipsOutsideScheduleWindow exercises spec.md §9's
// schedule gate: a campaign whose schedule never matches today must not
// offer a lead, even when one is eligible.
func TestRequestNextLeadSkipsOutsideScheduleWindow(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	schedule := catalog.CampaignSchedule{
		Windows: []catalog.ScheduleWindow{
			{Weekday: (time.Now().Weekday() + 1) % 7, Start: "00:00", End: "23:59"},
		},
	}
	d, leads, _ := newDialerWithSchedule(t, settings, schedule)
	leads.Put(&catalog.Lead{ID: "lead-1", TenantID: "tenant-1", CampaignID: "camp-1", Phone: "+15551234", Status: catalog.LeadNew})

	req, err := d.RequestNextLead(context.Background(), "agent-a")
	if err != nil {
		t.Fatalf("requesting lead: %v", err)
	}
	if req != nil {
		t.Fatalf("expected no request outside the schedule window, got %+v", req)
	}
}

// Scenario 4 from spec.md §8: accept within the preview window dials with
// the agent bound; accepting after expiry fails.
func TestAcceptWithinWindow(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	settings.PreviewTime = 30 * time.Second
	d, leads, _ := newDialer(t, settings)
	leads.Put(&catalog.Lead{ID: "lead-1", TenantID: "tenant-1", CampaignID: "camp-1", Phone: "+15551234", Status: catalog.LeadNew})

	req, err := d.RequestNextLead(context.Background(), "agent-a")
	if err != nil {
		t.Fatalf("requesting lead: %v", err)
	}
	if req == nil {
		t.Fatalf("expected a preview request")
	}

	accepted, err := d.AcceptPreview(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("accepting preview: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Fatalf("expected status accepted, got %q", accepted.Status)
	}
}

func TestAcceptAfterExpiryFails(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	settings.PreviewTime = 30 * time.Second
	d, leads, _ := newDialer(t, settings)
	leads.Put(&catalog.Lead{ID: "lead-1", TenantID: "tenant-1", CampaignID: "camp-1", Phone: "+15551234", Status: catalog.LeadNew})

	req, err := d.RequestNextLead(context.Background(), "agent-a")
	if err != nil {
		t.Fatalf("requesting lead: %v", err)
	}

	d.mu.Lock()
	d.requests[req.ID].ExpiresAt = time.Now().Add(-1 * time.Second)
	d.mu.Unlock()

	if _, err := d.AcceptPreview(context.Background(), req.ID); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestAtMostOnePendingPerAgent(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	d, leads, _ := newDialer(t, settings)
	leads.Put(&catalog.Lead{ID: "lead-1", TenantID: "tenant-1", CampaignID: "camp-1", Phone: "+15551234", Status: catalog.LeadNew})
	leads.Put(&catalog.Lead{ID: "lead-2", TenantID: "tenant-1", CampaignID: "camp-1", Phone: "+15555678", Status: catalog.LeadNew})

	if _, err := d.RequestNextLead(context.Background(), "agent-a"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := d.RequestNextLead(context.Background(), "agent-a"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
}

func TestRedriveNonPendingFailsWithAlreadyState(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	d, leads, _ := newDialer(t, settings)
	leads.Put(&catalog.Lead{ID: "lead-1", TenantID: "tenant-1", CampaignID: "camp-1", Phone: "+15551234", Status: catalog.LeadNew})

	req, err := d.RequestNextLead(context.Background(), "agent-a")
	if err != nil {
		t.Fatalf("requesting lead: %v", err)
	}
	if _, err := d.RejectPreview(context.Background(), req.ID, "not interested"); err != nil {
		t.Fatalf("rejecting: %v", err)
	}

	_, err = d.RejectPreview(context.Background(), req.ID, "again")
	if err == nil || err.Error() != "already rejected" {
		t.Fatalf(`expected "already rejected", got %v`, err)
	}
}

func TestSkipRecordsSkippingAgentOnLead(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	d, leads, _ := newDialer(t, settings)
	leads.Put(&catalog.Lead{ID: "lead-1", TenantID: "tenant-1", CampaignID: "camp-1", Phone: "+15551234", Status: catalog.LeadNew})

	req, err := d.RequestNextLead(context.Background(), "agent-a")
	if err != nil {
		t.Fatalf("requesting lead: %v", err)
	}
	if _, err := d.SkipPreview(context.Background(), req.ID); err != nil {
		t.Fatalf("skipping: %v", err)
	}

	lead := leads.Leads["lead-1"]
	if lead.CustomFields["skipped_by_agent"] != "agent-a" {
		t.Fatalf("expected skipped_by_agent recorded, got %v", lead.CustomFields)
	}
}
