package predictive

import (
	"context"
	"io"
	"log/slog"
	"math"
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

func newDialer(t *testing.T, settings catalog.CampaignSettings) (*Dialer, *callservice.CallService) {
	t.Helper()
	return newDialerWithSchedule(t, settings, catalog.CampaignSchedule{})
}

func newDialerWithSchedule(t *testing.T, settings catalog.CampaignSettings, schedule catalog.CampaignSchedule) (*Dialer, *callservice.CallService) {
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
	return d, calls
}

func approxEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

// Scenario 1 from spec.md §8: steady state, abandon rate within the
// dead-band leaves r unchanged.
func TestAdjustSteadyState(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	settings.DialRatioMin = 1.2
	settings.DialRatioMax = 2.5
	settings.AbandonRateTarget = 0.03

	d, _ := newDialer(t, settings)
	d.r = 1.85

	for i := 0; i < 25; i++ {
		d.RecordCallOutcome(true, false)
	}
	for i := 0; i < 3; i++ {
		d.RecordCallOutcome(false, true)
	}
	for i := 0; i < 72; i++ {
		d.RecordCallOutcome(false, false)
	}

	d.adjust()

	if !approxEqual(d.CurrentRatio(), 1.85, 1e-9) {
		t.Fatalf("expected r to remain 1.85, got %v", d.CurrentRatio())
	}
}

// Scenario 2 from spec.md §8: over-abandon shrinks r by the computed delta.
func TestAdjustOverAbandon(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	settings.DialRatioMin = 1.2
	settings.DialRatioMax = 2.5
	settings.AbandonRateTarget = 0.03

	d, _ := newDialer(t, settings)
	d.r = 1.85

	for i := 0; i < 6; i++ {
		d.RecordCallOutcome(false, true)
	}
	for i := 0; i < 94; i++ {
		d.RecordCallOutcome(false, false)
	}

	d.adjust()

	if !approxEqual(d.CurrentRatio(), 1.75, 1e-9) {
		t.Fatalf("expected r to shrink to 1.75, got %v", d.CurrentRatio())
	}
}

func TestAdjustSkippedBelowMinimumSamples(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	d, _ := newDialer(t, settings)
	d.r = 1.5

	for i := 0; i < 10; i++ {
		d.RecordCallOutcome(false, true)
	}
	d.adjust()

	if !approxEqual(d.CurrentRatio(), 1.5, 1e-9) {
		t.Fatalf("expected no adjustment below sample floor, got %v", d.CurrentRatio())
	}
}

func TestAdjustClampsToBounds(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	settings.DialRatioMin = 1.0
	settings.DialRatioMax = 2.0
	settings.AbandonRateTarget = 0.01

	d, _ := newDialer(t, settings)
	d.r = 1.01

	for i := 0; i < 100; i++ {
		d.RecordCallOutcome(false, true) // a = 1.0, far above target
	}
	d.adjust()

	if d.CurrentRatio() < settings.DialRatioMin {
		t.Fatalf("r dropped below minimum: %v", d.CurrentRatio())
	}
}

func TestTickDialsEligibleLeadsUpToTarget(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	d, calls := newDialer(t, settings)

	now := time.Now()
	repo := d.leads.(*catalogtest.LeadRepository)
	for i := 0; i < 5; i++ {
		repo.Put(&catalog.Lead{
			ID:         string(rune('a' + i)),
			TenantID:   "tenant-1",
			CampaignID: "camp-1",
			Phone:      "+15550000",
			Status:     catalog.LeadNew,
		})
	}

	if err := calls.UpdateAgentStatus(context.Background(), &callservice.AgentStatus{
		AgentID:         "agent-1",
		TenantID:        "tenant-1",
		State:           callservice.AgentAvailable,
		LastStateChange: now,
	}); err != nil {
		t.Fatalf("seeding agent: %v", err)
	}

	if err := d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	active, err := calls.ActiveCallCountForCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("counting active calls: %v", err)
	}
	if active == 0 {
		t.Fatalf("expected tick to dial at least one lead, got 0 active calls")
	}
}

// TestTickSkipsOutsideScheduleWindow exercises spec.md §9's schedule gate: a
// campaign with a schedule that never matches today must not originate,
// regardless of agent/lead availability.
func TestTickSkipsOutsideScheduleWindow(t *testing.T) {
	settings := catalog.DefaultCampaignSettings()
	schedule := catalog.CampaignSchedule{
		Windows: []catalog.ScheduleWindow{
			{Weekday: (time.Now().Weekday() + 1) % 7, Start: "00:00", End: "23:59"},
		},
	}
	d, calls := newDialerWithSchedule(t, settings, schedule)

	repo := d.leads.(*catalogtest.LeadRepository)
	repo.Put(&catalog.Lead{
		ID:         "a",
		TenantID:   "tenant-1",
		CampaignID: "camp-1",
		Phone:      "+15550000",
		Status:     catalog.LeadNew,
	})

	if err := calls.UpdateAgentStatus(context.Background(), &callservice.AgentStatus{
		AgentID:         "agent-1",
		TenantID:        "tenant-1",
		State:           callservice.AgentAvailable,
		LastStateChange: time.Now(),
	}); err != nil {
		t.Fatalf("seeding agent: %v", err)
	}

	if err := d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	active, err := calls.ActiveCallCountForCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("counting active calls: %v", err)
	}
	if active != 0 {
		t.Fatalf("expected tick to skip dialing outside the schedule window, got %d active calls", active)
	}
}
