// Package preview implements the Preview Dialer: an agent-pull model where
// an agent previews a lead before choosing to dial, reject, or skip it, per
// spec.md §4.5.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/events"
	"github.com/flowdial/dialer/internal/switchdriver"
)

const watchTickInterval = 1 * time.Second

// ErrAlreadyPending is returned by requestNextLead when the agent already
// has a pending request, per spec.md §8's "at most one pending per agent"
// invariant.
var ErrAlreadyPending = errors.New("preview: agent already has a pending request")

// ErrNotFound is returned when an operation targets an unknown request id.
var ErrNotFound = errors.New("preview: request not found")

// Status is a Preview Request's lifecycle state, per spec.md §4.5.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusSkipped  Status = "skipped"
	StatusExpired  Status = "expired"
)

// Request is one ephemeral Preview Request, living only in the Preview
// Dialer's memory per spec.md §3.
type Request struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agentId"`
	LeadID      string    `json:"leadId"`
	Phone       string    `json:"phone"`
	RequestedAt time.Time `json:"requestedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Status      Status    `json:"status"`
}

// alreadyStatusError reports a one-way transition attempted on a non-pending
// request, per spec.md §4.5's "already {state}" contract.
type alreadyStatusError struct{ status Status }

func (e alreadyStatusError) Error() string { return fmt.Sprintf("already %s", e.status) }

// IsStateConflict reports whether err is one of the "already {state}"
// transition errors returned by AcceptPreview/RejectPreview/SkipPreview, or
// the expiry error from AcceptPreview — both are 409s at the HTTP layer,
// per spec.md §7.
func IsStateConflict(err error) bool {
	var e alreadyStatusError
	if errors.As(err, &e) {
		return true
	}
	return err != nil && err.Error() == "preview has expired"
}

// Dependencies wires a preview Dialer to the campaign it serves and the
// shared substrate components.
type Dependencies struct {
	CampaignID string
	TenantID   string
	Settings   catalog.CampaignSettings
	Schedule   catalog.CampaignSchedule
	Leads      catalog.LeadRepository
	Calls      *callservice.CallService
	Driver     switchdriver.Driver
	Publisher  events.Publisher
	Logger     *slog.Logger
	IDFunc     func() string // overridable for tests; defaults to a counter
}

// Dialer is the preview dialer for one campaign, owning the in-memory set
// of pending/terminal requests.
type Dialer struct {
	campaignID string
	tenantID   string
	settings   catalog.CampaignSettings
	schedule   catalog.CampaignSchedule
	leads      catalog.LeadRepository
	calls      *callservice.CallService
	driver     switchdriver.Driver
	publisher  events.Publisher
	logger     *slog.Logger
	idFunc     func() string

	mu        sync.Mutex
	requests  map[string]*Request
	pendingBy map[string]string // agentID -> requestID
	seq       int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a preview Dialer.
func New(deps Dependencies) *Dialer {
	d := &Dialer{
		campaignID: deps.CampaignID,
		tenantID:   deps.TenantID,
		settings:   deps.Settings,
		schedule:   deps.Schedule,
		leads:      deps.Leads,
		calls:      deps.Calls,
		driver:     deps.Driver,
		publisher:  deps.Publisher,
		logger:     deps.Logger.With("component", "dialer.preview", "campaign_id", deps.CampaignID),
		idFunc:     deps.IDFunc,
		requests:   make(map[string]*Request),
		pendingBy:  make(map[string]string),
	}
	return d
}

func (d *Dialer) nextID() string {
	if d.idFunc != nil {
		return d.idFunc()
	}
	d.seq++
	return fmt.Sprintf("preview-%s-%d", d.campaignID, d.seq)
}

// Start launches the expiry watcher loop.
func (d *Dialer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.watchLoop(ctx)
}

// Stop cancels the watcher loop and waits for it to exit.
func (d *Dialer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// RequestNextLead selects the next eligible lead for agentID, using the
// same ordering as the Predictive Dialer (§4.3), and creates a pending
// request expiring at now+preview_time. Returns nil, nil if no lead is
// eligible.
func (d *Dialer) RequestNextLead(ctx context.Context, agentID string) (*Request, error) {
	d.mu.Lock()
	if _, exists := d.pendingBy[agentID]; exists {
		d.mu.Unlock()
		return nil, ErrAlreadyPending
	}
	d.mu.Unlock()

	if !d.schedule.Active(time.Now()) {
		return nil, nil
	}

	leads, err := d.leads.NextEligible(ctx, catalog.EligibleLeadFilter{
		CampaignID: d.campaignID,
		Now:        time.Now(),
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, nil
	}
	lead := leads[0]

	now := time.Now()
	req := &Request{
		ID:          d.nextID(),
		AgentID:     agentID,
		LeadID:      lead.ID,
		Phone:       lead.Phone,
		RequestedAt: now,
		ExpiresAt:   now.Add(d.settings.PreviewTime),
		Status:      StatusPending,
	}

	d.mu.Lock()
	d.requests[req.ID] = req
	d.pendingBy[agentID] = req.ID
	d.mu.Unlock()

	if err := d.leads.RecordAttempt(ctx, lead.ID, now); err != nil {
		d.logger.Error("recording preview attempt", "lead_id", lead.ID, "error", err)
	}
	return req, nil
}

// AcceptPreview transitions a pending, unexpired request to accepted,
// originates the call with the agent already bound, and sets the agent's
// state to on-call.
func (d *Dialer) AcceptPreview(ctx context.Context, id string) (*Request, error) {
	req, err := d.takePending(id)
	if err != nil {
		return nil, err
	}
	if time.Now().After(req.ExpiresAt) {
		d.finish(req, StatusExpired)
		return nil, errors.New("preview has expired")
	}

	if err := d.dialWithAgent(ctx, req); err != nil {
		return nil, err
	}
	d.finish(req, StatusAccepted)
	return req, nil
}

// RejectPreview marks the request rejected and the lead rejected with a
// reason note; does not dial.
func (d *Dialer) RejectPreview(ctx context.Context, id, reason string) (*Request, error) {
	req, err := d.takePending(id)
	if err != nil {
		return nil, err
	}
	if err := d.leads.SetStatusWithNote(ctx, req.LeadID, catalog.LeadRejected, "reject_reason", reason); err != nil {
		d.logger.Error("setting lead rejected", "lead_id", req.LeadID, "error", err)
	}
	d.finish(req, StatusRejected)
	return req, nil
}

// SkipPreview marks the request skipped and records the skipping agent on
// the lead's metadata so it can be offered to someone else; does not dial.
func (d *Dialer) SkipPreview(ctx context.Context, id string) (*Request, error) {
	req, err := d.takePending(id)
	if err != nil {
		return nil, err
	}
	if err := d.leads.SetStatusWithNote(ctx, req.LeadID, catalog.LeadNew, "skipped_by_agent", req.AgentID); err != nil {
		d.logger.Error("recording skip on lead", "lead_id", req.LeadID, "error", err)
	}
	d.finish(req, StatusSkipped)
	return req, nil
}

// Get returns a snapshot of a request by id, or nil if unknown.
func (d *Dialer) Get(id string) *Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	req, ok := d.requests[id]
	if !ok {
		return nil
	}
	cp := *req
	return &cp
}

// takePending returns a copy of the request if it exists and is pending,
// without mutating its status — callers decide the outcome.
func (d *Dialer) takePending(id string) (*Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	req, ok := d.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, alreadyStatusError{status: req.Status}
	}
	cp := *req
	return &cp, nil
}

// finish persists a terminal status for req and releases the agent's
// pending slot.
func (d *Dialer) finish(req *Request, status Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stored, ok := d.requests[req.ID]; ok {
		stored.Status = status
	}
	delete(d.pendingBy, req.AgentID)
}

func (d *Dialer) dialWithAgent(ctx context.Context, req *Request) error {
	call, err := d.calls.CreateCall(ctx, callservice.CreateCallInput{
		TenantID:   d.tenantID,
		CampaignID: d.campaignID,
		LeadID:     req.LeadID,
		Direction:  callservice.DirectionOutbound,
		Phone:      req.Phone,
	})
	if err != nil {
		return fmt.Errorf("creating call: %w", err)
	}

	_, err = d.driver.Originate(ctx, switchdriver.OriginateParams{
		Destination: req.Phone,
		Timeout:     d.settings.RingTimeout,
		Vars: switchdriver.CorrelationVars{
			CallID:     call.ID,
			CampaignID: d.campaignID,
			LeadID:     req.LeadID,
			TenantID:   d.tenantID,
			AgentID:    req.AgentID,
		},
	})
	if err != nil {
		if _, endErr := d.calls.EndCall(ctx, call.ID, callservice.CallFailed); endErr != nil {
			d.logger.Error("ending failed preview call", "call_id", call.ID, "error", endErr)
		}
		return fmt.Errorf("originate: %w", err)
	}

	agentID := req.AgentID
	if _, err := d.calls.UpdateCall(ctx, call.ID, callservice.CallPatch{AgentID: &agentID}); err != nil {
		d.logger.Error("binding agent to call", "call_id", call.ID, "error", err)
	}
	if err := d.calls.UpdateAgentStatus(ctx, &callservice.AgentStatus{
		AgentID:       req.AgentID,
		TenantID:      d.tenantID,
		State:         callservice.AgentOnCall,
		CurrentCallID: call.ID,
	}); err != nil {
		d.logger.Error("updating agent state on accept", "agent_id", req.AgentID, "error", err)
	}
	return nil
}

func (d *Dialer) watchLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(watchTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepExpired(ctx)
		}
	}
}

// sweepExpired scans pending requests past their expires-at and either
// auto-dials (if configured) or transitions to expired with no call.
func (d *Dialer) sweepExpired(ctx context.Context) {
	now := time.Now()

	d.mu.Lock()
	var expired []*Request
	for _, req := range d.requests {
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			cp := *req
			expired = append(expired, &cp)
		}
	}
	d.mu.Unlock()

	for _, req := range expired {
		if d.settings.AutoDialAfterPreview {
			if err := d.dialWithAgent(ctx, req); err != nil {
				d.logger.Error("auto-dial on preview expiry failed", "request_id", req.ID, "error", err)
			}
			d.finish(req, StatusAccepted)
			continue
		}
		d.finish(req, StatusExpired)
	}
}
