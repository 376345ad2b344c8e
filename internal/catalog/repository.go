package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested campaign or lead does not exist.
var ErrNotFound = errors.New("catalog: not found")

// CampaignRepository reads campaign rows maintained by external CRUD. The
// core never creates, updates, or deletes a campaign.
type CampaignRepository interface {
	Get(ctx context.Context, id string) (*Campaign, error)
	ListActive(ctx context.Context) ([]*Campaign, error)
}

// EligibleLeadFilter selects the next batch of dialable leads for a campaign,
// ordered by priority ascending then last-attempt ascending (nulls first),
// per spec.md §4.3's ordering rule.
type EligibleLeadFilter struct {
	CampaignID string
	Now        time.Time
	Limit      int
}

// LeadRepository reads lead rows and writes back only the bookkeeping fields
// the core owns (status, last-attempt, attempt-count). It never creates a
// lead.
type LeadRepository interface {
	NextEligible(ctx context.Context, filter EligibleLeadFilter) ([]*Lead, error)
	RecordAttempt(ctx context.Context, id string, at time.Time) error
	SetStatus(ctx context.Context, id string, status LeadStatus) error
	SetStatusWithNote(ctx context.Context, id string, status LeadStatus, noteKey, note string) error
}
