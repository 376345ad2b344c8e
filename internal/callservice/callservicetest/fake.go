// Package callservicetest provides hand-written in-memory fakes for
// callservice.FastStore and callservice.DurableStore, in the teacher's own
// testing idiom: the example repo has no mocking framework anywhere in its
// go.mod, and constructs real or fake collaborators directly instead
// (see internal/sip/trunk_test.go in the teacher).
package callservicetest

import (
	"context"
	"sort"
	"sync"

	"github.com/flowdial/dialer/internal/callservice"
)

// FastStore is an in-memory callservice.FastStore for tests.
type FastStore struct {
	mu     sync.Mutex
	calls  map[string]*callservice.Call
	active map[string]struct{}
	byCamp map[string]map[string]struct{}
	agents map[string]*callservice.AgentStatus
}

// NewFastStore creates an empty in-memory fast store.
func NewFastStore() *FastStore {
	return &FastStore{
		calls:  make(map[string]*callservice.Call),
		active: make(map[string]struct{}),
		byCamp: make(map[string]map[string]struct{}),
		agents: make(map[string]*callservice.AgentStatus),
	}
}

func clone(c *callservice.Call) *callservice.Call {
	cp := *c
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *FastStore) CreateCall(_ context.Context, call *callservice.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = clone(call)
	s.active[call.ID] = struct{}{}
	if call.CampaignID != "" {
		if s.byCamp[call.CampaignID] == nil {
			s.byCamp[call.CampaignID] = make(map[string]struct{})
		}
		s.byCamp[call.CampaignID][call.ID] = struct{}{}
	}
	return nil
}

func (s *FastStore) GetCall(_ context.Context, id string) (*callservice.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, nil
	}
	return clone(c), nil
}

func (s *FastStore) UpdateCall(_ context.Context, id string, patch callservice.CallPatch) (*callservice.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, nil
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.AgentID != nil {
		c.AgentID = *patch.AgentID
	}
	if patch.SwitchUUID != nil {
		c.SwitchUUID = *patch.SwitchUUID
	}
	if patch.AnswerTime != nil {
		c.AnswerTime = patch.AnswerTime
	}
	if patch.EndTime != nil {
		c.EndTime = patch.EndTime
	}
	if patch.Metadata != nil {
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		for k, v := range patch.Metadata {
			c.Metadata[k] = v
		}
	}
	return clone(c), nil
}

func (s *FastStore) RemoveFromActive(_ context.Context, call *callservice.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, call.ID)
	if set, ok := s.byCamp[call.CampaignID]; ok {
		delete(set, call.ID)
	}
	return nil
}

func (s *FastStore) ActiveCalls(_ context.Context) ([]*callservice.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*callservice.Call, 0, len(s.active))
	for id := range s.active {
		out = append(out, clone(s.calls[id]))
	}
	return out, nil
}

func (s *FastStore) CampaignCalls(_ context.Context, campaignID string) ([]*callservice.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.byCamp[campaignID]
	out := make([]*callservice.Call, 0, len(set))
	for id := range set {
		out = append(out, clone(s.calls[id]))
	}
	return out, nil
}

func (s *FastStore) ActiveCallCountForCampaign(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCamp[campaignID]), nil
}

func (s *FastStore) UpsertAgentStatus(_ context.Context, status *callservice.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *status
	s.agents[status.AgentID] = &cp
	return nil
}

func (s *FastStore) GetAgentStatus(_ context.Context, agentID string) (*callservice.AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *FastStore) AvailableAgents(_ context.Context, tenantID string) ([]*callservice.AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*callservice.AgentStatus
	for _, a := range s.agents {
		if a.TenantID == tenantID && a.State == callservice.AgentAvailable {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastStateChange.Equal(out[j].LastStateChange) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].LastStateChange.Before(out[j].LastStateChange)
	})
	return out, nil
}

// Ping always succeeds for the in-memory fake.
func (s *FastStore) Ping(_ context.Context) error { return nil }

// DurableStore is an in-memory callservice.DurableStore for tests.
type DurableStore struct {
	mu   sync.Mutex
	Rows map[string]*callservice.Call
	Fail bool // when true, WriteTerminalCall returns an error without storing
}

// NewDurableStore creates an empty in-memory durable store.
func NewDurableStore() *DurableStore {
	return &DurableStore{Rows: make(map[string]*callservice.Call)}
}

func (d *DurableStore) WriteTerminalCall(_ context.Context, call *callservice.Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return errWriteFailed
	}
	cp := clone(call)
	d.Rows[call.ID] = cp
	return nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errWriteFailed = fakeError("fake durable store: forced write failure")
