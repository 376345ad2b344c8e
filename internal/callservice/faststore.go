package callservice

import "context"

// callTTL is the fixed TTL for all live call-service keys, per spec.md §4.2.
const callTTL = 24 * 60 * 60 // seconds, kept as an int for redis EX options

// FastStore is the sub-second live-state tier of the Call Service. All
// operations are expected to return in low single-digit milliseconds
// (spec.md §5).
type FastStore interface {
	CreateCall(ctx context.Context, call *Call) error
	GetCall(ctx context.Context, id string) (*Call, error)
	UpdateCall(ctx context.Context, id string, patch CallPatch) (*Call, error)
	RemoveFromActive(ctx context.Context, call *Call) error

	ActiveCalls(ctx context.Context) ([]*Call, error)
	CampaignCalls(ctx context.Context, campaignID string) ([]*Call, error)
	ActiveCallCountForCampaign(ctx context.Context, campaignID string) (int, error)

	UpsertAgentStatus(ctx context.Context, status *AgentStatus) error
	GetAgentStatus(ctx context.Context, agentID string) (*AgentStatus, error)
	AvailableAgents(ctx context.Context, tenantID string) ([]*AgentStatus, error)

	// Ping reports whether the fast store is currently reachable, for the
	// health endpoint's multi-component check.
	Ping(ctx context.Context) error
}
