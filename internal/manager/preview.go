package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowdial/dialer/internal/dialer/preview"
)

// ErrCampaignNotFound is returned by the preview passthroughs when the
// named campaign has no registered Dialer.
var ErrCampaignNotFound = errors.New("manager: campaign not registered")

// ErrNotPreviewCampaign is returned when a preview operation targets a
// campaign registered under a different dial mode.
var ErrNotPreviewCampaign = errors.New("manager: campaign is not a preview campaign")

func (m *Manager) previewDialer(campaignID string) (*preview.Dialer, error) {
	m.mu.RLock()
	entry, ok := m.entries[campaignID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrCampaignNotFound)
	}
	if entry.preview == nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrNotPreviewCampaign)
	}
	return entry.preview, nil
}

// RequestNextLead delegates to the named campaign's preview Dialer.
func (m *Manager) RequestNextLead(ctx context.Context, campaignID, agentID string) (*preview.Request, error) {
	d, err := m.previewDialer(campaignID)
	if err != nil {
		return nil, err
	}
	return d.RequestNextLead(ctx, agentID)
}

// AcceptPreview delegates to the named campaign's preview Dialer.
func (m *Manager) AcceptPreview(ctx context.Context, campaignID, requestID string) (*preview.Request, error) {
	d, err := m.previewDialer(campaignID)
	if err != nil {
		return nil, err
	}
	return d.AcceptPreview(ctx, requestID)
}

// RejectPreview delegates to the named campaign's preview Dialer.
func (m *Manager) RejectPreview(ctx context.Context, campaignID, requestID, reason string) (*preview.Request, error) {
	d, err := m.previewDialer(campaignID)
	if err != nil {
		return nil, err
	}
	return d.RejectPreview(ctx, requestID, reason)
}

// SkipPreview delegates to the named campaign's preview Dialer.
func (m *Manager) SkipPreview(ctx context.Context, campaignID, requestID string) (*preview.Request, error) {
	d, err := m.previewDialer(campaignID)
	if err != nil {
		return nil, err
	}
	return d.SkipPreview(ctx, requestID)
}
