// Package manager implements the Dialer Manager: campaign lifecycle,
// switch-event demultiplexing, and event publication, per spec.md §4.6.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/dialer/predictive"
	"github.com/flowdial/dialer/internal/dialer/preview"
	"github.com/flowdial/dialer/internal/dialer/progressive"
	"github.com/flowdial/dialer/internal/events"
	"github.com/flowdial/dialer/internal/switchdriver"
)

// ErrCampaignNotActive is returned by StartCampaign when the campaign's
// durable status is not "active".
var ErrCampaignNotActive = errors.New("manager: campaign is not active")

// ErrUnsupportedMode is returned when a campaign names a dial mode the
// Manager does not know how to construct a Dialer for.
var ErrUnsupportedMode = errors.New("manager: unsupported dial mode")

// campaignDialer is the subset of behavior every concrete Dialer type
// shares: its own scheduler identity, started and stopped by the Manager,
// per spec.md §5.
type campaignDialer interface {
	Start(ctx context.Context)
	Stop()
}

type campaignEntry struct {
	tenantID    string
	mode        catalog.DialMode
	dialer      campaignDialer
	predictive  *predictive.Dialer
	progressive *progressive.Dialer
	preview     *preview.Dialer
}

// Manager owns one Switch Driver connection, one Event Publisher, and the
// campaign-id -> (Dialer, mode) map, per spec.md §4.6.
type Manager struct {
	campaigns catalog.CampaignRepository
	leads     catalog.LeadRepository
	calls     *callservice.CallService
	driver    switchdriver.Driver
	publisher events.Publisher
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*campaignEntry

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

// New constructs a Manager over the given substrate components.
func New(campaigns catalog.CampaignRepository, leads catalog.LeadRepository, calls *callservice.CallService, driver switchdriver.Driver, publisher events.Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		campaigns: campaigns,
		leads:     leads,
		calls:     calls,
		driver:    driver,
		publisher: publisher,
		logger:    logger.With("component", "manager"),
		entries:   make(map[string]*campaignEntry),
	}
}

// Run starts the switch-event consumer loop. It returns once ctx is
// cancelled or the driver's event stream closes.
func (m *Manager) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.runCancel = cancel
	m.runWG.Add(1)
	defer m.runWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-m.driver.Events():
			if !ok {
				m.logger.Error("switch event stream closed")
				return
			}
			m.handleEvent(ctx, evt)
		}
	}
}

// StartCampaign loads the campaign row, rejects if its status is not
// active, constructs the Dialer matching its mode, starts it, and
// registers it. Starting an already-registered campaign is a no-op.
func (m *Manager) StartCampaign(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, exists := m.entries[id]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	campaign, err := m.campaigns.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading campaign %s: %w", id, err)
	}
	if campaign.Status != catalog.CampaignActive {
		return fmt.Errorf("campaign %s is not active: %w", id, ErrCampaignNotActive)
	}

	entry := &campaignEntry{tenantID: campaign.TenantID, mode: campaign.Mode}

	switch campaign.Mode {
	case catalog.ModePredictive:
		d := predictive.New(predictive.Dependencies{
			CampaignID: campaign.ID,
			TenantID:   campaign.TenantID,
			Settings:   campaign.Settings,
			Schedule:   campaign.Schedule,
			Leads:      m.leads,
			Calls:      m.calls,
			Driver:     m.driver,
			Publisher:  m.publisher,
			Logger:     m.logger,
		})
		entry.predictive = d
		entry.dialer = d
	case catalog.ModeProgressive:
		d := progressive.New(progressive.Dependencies{
			CampaignID: campaign.ID,
			TenantID:   campaign.TenantID,
			Settings:   campaign.Settings,
			Schedule:   campaign.Schedule,
			Leads:      m.leads,
			Calls:      m.calls,
			Driver:     m.driver,
			Publisher:  m.publisher,
			Logger:     m.logger,
		})
		entry.progressive = d
		entry.dialer = d
	case catalog.ModePreview:
		d := preview.New(preview.Dependencies{
			CampaignID: campaign.ID,
			TenantID:   campaign.TenantID,
			Settings:   campaign.Settings,
			Schedule:   campaign.Schedule,
			Leads:      m.leads,
			Calls:      m.calls,
			Driver:     m.driver,
			Publisher:  m.publisher,
			Logger:     m.logger,
		})
		entry.preview = d
		entry.dialer = d
	default:
		return fmt.Errorf("campaign %s names mode %q: %w", id, campaign.Mode, ErrUnsupportedMode)
	}

	m.mu.Lock()
	if _, exists := m.entries[id]; exists {
		m.mu.Unlock()
		return nil
	}
	m.entries[id] = entry
	m.mu.Unlock()

	entry.dialer.Start(ctx)
	m.logger.Info("campaign started", "campaign_id", id, "mode", campaign.Mode)
	return nil
}

// StopCampaign stops and deregisters a campaign's Dialer. Calls already in
// flight drain naturally through switch events. Stopping an unregistered
// campaign is a no-op.
func (m *Manager) StopCampaign(id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, id)
	m.mu.Unlock()

	entry.dialer.Stop()
	m.logger.Info("campaign stopped", "campaign_id", id)
	return nil
}

// ActiveCampaigns lists currently registered campaign ids.
func (m *Manager) ActiveCampaigns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	return out
}

// CampaignMode returns the dial mode of a registered campaign, or "" if not
// registered.
func (m *Manager) CampaignMode(id string) catalog.DialMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return ""
	}
	return entry.mode
}

// PredictiveRatio returns the current dial ratio for a registered
// predictive campaign, and whether one was found.
func (m *Manager) PredictiveRatio(id string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok || entry.predictive == nil {
		return 0, false
	}
	return entry.predictive.CurrentRatio(), true
}

// Preview returns the preview.Dialer registered for a campaign, or nil.
func (m *Manager) Preview(id string) *preview.Dialer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil
	}
	return entry.preview
}

// Shutdown stops all registered campaigns, disconnects the switch driver,
// and closes the event publisher, per spec.md §4.6.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.runCancel != nil {
		m.runCancel()
	}

	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*campaignEntry)
	m.mu.Unlock()

	for id, entry := range entries {
		entry.dialer.Stop()
		m.logger.Info("campaign stopped on shutdown", "campaign_id", id)
	}

	done := make(chan struct{})
	go func() {
		m.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Error("timed out waiting for event loop to drain")
	case <-time.After(5 * time.Second):
		m.logger.Error("timed out waiting for event loop to drain")
	}

	if err := m.driver.Close(); err != nil {
		m.logger.Error("closing switch driver", "error", err)
	}
	if err := m.publisher.Close(); err != nil {
		m.logger.Error("closing event publisher", "error", err)
	}
	return nil
}
