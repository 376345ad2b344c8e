package callservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CallService is the spec.md §4.2 API: a two-tier store (fast + durable)
// presented as one set of operations. All operations except CreateCall are
// idempotent under retry.
type CallService struct {
	fast    FastStore
	durable DurableStore
	logger  *slog.Logger
}

// New constructs a CallService over the given fast and durable tiers.
func New(fast FastStore, durable DurableStore, logger *slog.Logger) *CallService {
	return &CallService{
		fast:    fast,
		durable: durable,
		logger:  logger.With("component", "callservice"),
	}
}

// CreateCallInput describes a new outbound call attempt.
type CreateCallInput struct {
	TenantID   string
	CampaignID string
	LeadID     string
	Direction  Direction
	Phone      string
	CallerID   string
	Metadata   map[string]any
}

// CreateCall returns a fresh call id, added to the active set and (if any)
// the campaign set, with status=initiated.
func (s *CallService) CreateCall(ctx context.Context, in CreateCallInput) (*Call, error) {
	call := &Call{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		CampaignID: in.CampaignID,
		LeadID:     in.LeadID,
		Direction:  in.Direction,
		Status:     CallInitiated,
		Phone:      in.Phone,
		CallerID:   in.CallerID,
		StartTime:  time.Now(),
		Metadata:   in.Metadata,
	}
	if err := s.fast.CreateCall(ctx, call); err != nil {
		return nil, fmt.Errorf("creating call: %w", err)
	}
	return call, nil
}

// UpdateCall merges patch into the live call and refreshes its TTL. Returns
// nil, nil if the call does not exist.
func (s *CallService) UpdateCall(ctx context.Context, id string, patch CallPatch) (*Call, error) {
	return s.fast.UpdateCall(ctx, id, patch)
}

// GetCall returns a snapshot of the live call, or nil if not found.
func (s *CallService) GetCall(ctx context.Context, id string) (*Call, error) {
	return s.fast.GetCall(ctx, id)
}

// AnswerCall sets status=answered, answer-time=now, computing ring-duration
// as now minus start-time.
func (s *CallService) AnswerCall(ctx context.Context, id string, agentID string) (*Call, error) {
	now := time.Now()
	status := CallAnswered
	patch := CallPatch{Status: &status, AnswerTime: &now}
	if agentID != "" {
		patch.AgentID = &agentID
	}

	call, err := s.fast.UpdateCall(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("answering call: %w", err)
	}
	return call, nil
}

// EndCall sets status, end-time=now, computes talk-duration, removes the
// call from the active index, and writes the terminal row durably. A call
// that is already terminal is returned unchanged, so a repeated EndCall
// leaves the state the first one set. Per spec.md §4.2 and §7: if the
// durable write fails, fast state is retained and the error is logged, not
// returned (RetryDurableWrite re-attempts the write) — callers must still
// publish the terminal event.
func (s *CallService) EndCall(ctx context.Context, id string, status CallStatus) (*Call, error) {
	existing, err := s.fast.GetCall(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ending call: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.Status.Terminal() {
		return existing, nil
	}

	now := time.Now()
	st := status
	call, err := s.fast.UpdateCall(ctx, id, CallPatch{Status: &st, EndTime: &now})
	if err != nil {
		return nil, fmt.Errorf("ending call: %w", err)
	}
	if call == nil {
		return nil, nil
	}

	if err := s.fast.RemoveFromActive(ctx, call); err != nil {
		s.logger.Error("failed to remove call from active index", "call_id", id, "error", err)
	}

	if err := s.durable.WriteTerminalCall(ctx, call); err != nil {
		s.logger.Error("durable write failed, call remains in fast state",
			"call_id", id, "status", status, "error", err)
	}

	return call, nil
}

// RetryDurableWrite re-attempts the durable write for a call already marked
// terminal in the fast store. The sweeps in internal/watchdog do not call
// it: they reap only active calls, so a terminal call whose durable write
// failed is re-persisted only when a caller invokes this method.
func (s *CallService) RetryDurableWrite(ctx context.Context, call *Call) error {
	return s.durable.WriteTerminalCall(ctx, call)
}

// ActiveCalls returns all currently active (non-terminal) calls.
func (s *CallService) ActiveCalls(ctx context.Context) ([]*Call, error) {
	return s.fast.ActiveCalls(ctx)
}

// CampaignCalls returns the active calls belonging to a campaign.
func (s *CallService) CampaignCalls(ctx context.Context, campaignID string) ([]*Call, error) {
	return s.fast.CampaignCalls(ctx, campaignID)
}

// ActiveCallCountForCampaign returns the number of in-progress calls for a
// campaign, used by the dialers to compute calls_to_make.
func (s *CallService) ActiveCallCountForCampaign(ctx context.Context, campaignID string) (int, error) {
	return s.fast.ActiveCallCountForCampaign(ctx, campaignID)
}

// UpdateAgentStatus upserts an agent's pacing state, resetting
// last-state-change.
func (s *CallService) UpdateAgentStatus(ctx context.Context, status *AgentStatus) error {
	return s.fast.UpsertAgentStatus(ctx, status)
}

// GetAgentStatus returns an agent's current status, or nil if not found.
func (s *CallService) GetAgentStatus(ctx context.Context, agentID string) (*AgentStatus, error) {
	return s.fast.GetAgentStatus(ctx, agentID)
}

// GetAvailableAgents returns all agents in state=available for tenant,
// sorted by last-state-change ascending (longest-idle-first).
func (s *CallService) GetAvailableAgents(ctx context.Context, tenantID string) ([]*AgentStatus, error) {
	return s.fast.AvailableAgents(ctx, tenantID)
}

// Ping reports whether the fast store is reachable, for health reporting.
func (s *CallService) Ping(ctx context.Context) error {
	return s.fast.Ping(ctx)
}

// ActiveCallCount returns the number of currently active calls, for the
// metrics collector.
func (s *CallService) ActiveCallCount(ctx context.Context) (int, error) {
	calls, err := s.fast.ActiveCalls(ctx)
	if err != nil {
		return 0, err
	}
	return len(calls), nil
}
