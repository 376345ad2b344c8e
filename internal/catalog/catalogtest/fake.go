// Package catalogtest provides hand-written fake catalog repositories for
// tests, in the teacher's no-mocking-framework idiom.
package catalogtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowdial/dialer/internal/catalog"
)

// CampaignRepository is an in-memory fake of catalog.CampaignRepository.
type CampaignRepository struct {
	mu        sync.Mutex
	Campaigns map[string]*catalog.Campaign
}

func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{Campaigns: make(map[string]*catalog.Campaign)}
}

func (r *CampaignRepository) Put(c *catalog.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.Campaigns[c.ID] = &cp
}

func (r *CampaignRepository) Get(_ context.Context, id string) (*catalog.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Campaigns[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepository) ListActive(_ context.Context) ([]*catalog.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*catalog.Campaign
	for _, c := range r.Campaigns {
		if c.Status == catalog.CampaignActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LeadRepository is an in-memory fake of catalog.LeadRepository.
type LeadRepository struct {
	mu    sync.Mutex
	Leads map[string]*catalog.Lead
}

func NewLeadRepository() *LeadRepository {
	return &LeadRepository{Leads: make(map[string]*catalog.Lead)}
}

func (r *LeadRepository) Put(l *catalog.Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.Leads[l.ID] = &cp
}

// NextEligible mirrors sqliteLeads.NextEligible's ordering: priority
// ascending, then last-attempt ascending (nulls first), filtered to
// status=new and due for retry.
func (r *LeadRepository) NextEligible(_ context.Context, filter catalog.EligibleLeadFilter) ([]*catalog.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []*catalog.Lead
	for _, l := range r.Leads {
		if l.CampaignID != filter.CampaignID {
			continue
		}
		if l.Status != catalog.LeadNew {
			continue
		}
		if l.LastAttempt != nil && !l.LastAttempt.Before(filter.Now) {
			continue
		}
		cp := *l
		eligible = append(eligible, &cp)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		li, lj := eligible[i].LastAttempt, eligible[j].LastAttempt
		if li == nil && lj == nil {
			return eligible[i].ID < eligible[j].ID
		}
		if li == nil {
			return true
		}
		if lj == nil {
			return false
		}
		return li.Before(*lj)
	})

	if filter.Limit > 0 && len(eligible) > filter.Limit {
		eligible = eligible[:filter.Limit]
	}
	return eligible, nil
}

func (r *LeadRepository) RecordAttempt(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.Leads[id]
	if !ok {
		return catalog.ErrNotFound
	}
	l.AttemptCount++
	t := at
	l.LastAttempt = &t
	l.Status = catalog.LeadDialing
	return nil
}

func (r *LeadRepository) SetStatus(_ context.Context, id string, status catalog.LeadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.Leads[id]
	if !ok {
		return catalog.ErrNotFound
	}
	l.Status = status
	return nil
}

func (r *LeadRepository) SetStatusWithNote(_ context.Context, id string, status catalog.LeadStatus, noteKey, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.Leads[id]
	if !ok {
		return catalog.ErrNotFound
	}
	l.Status = status
	if l.CustomFields == nil {
		l.CustomFields = make(map[string]any)
	}
	l.CustomFields[noteKey] = note
	return nil
}

var (
	_ catalog.CampaignRepository = (*CampaignRepository)(nil)
	_ catalog.LeadRepository     = (*LeadRepository)(nil)
)
