package callservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore implements FastStore against Redis, generalizing the teacher's
// in-memory map+RWMutex DialogManager shape (internal/sip/dialog.go) to a
// remote store: per-key atomicity replaces the mutex, and WATCH/MULTI/EXEC
// replaces the read-modify-write-under-lock pattern for merge patches.
type redisStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a FastStore backed by the given Redis client.
func NewRedisStore(rdb *redis.Client, logger *slog.Logger) FastStore {
	return &redisStore{rdb: rdb, logger: logger.With("component", "callservice.redis")}
}

func callKey(id string) string        { return "call:" + id }
func agentKey(id string) string       { return "agent:" + id }
func campaignSetKey(id string) string { return "campaign:calls:" + id }
func agentIndexKey(id string) string  { return "index:agent:calls:" + id }

const activeSetKey = "calls:active"
const availableAgentsZSetPrefix = "agents:available:"

func (s *redisStore) CreateCall(ctx context.Context, call *Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshaling call: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, callKey(call.ID), data, callTTL*time.Second)
	pipe.SAdd(ctx, activeSetKey, call.ID)
	if call.CampaignID != "" {
		pipe.SAdd(ctx, campaignSetKey(call.CampaignID), call.ID)
		pipe.Expire(ctx, campaignSetKey(call.CampaignID), callTTL*time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("creating call: %w", err)
	}
	return nil
}

func (s *redisStore) GetCall(ctx context.Context, id string) (*Call, error) {
	raw, err := s.rdb.Get(ctx, callKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting call %s: %w", id, err)
	}
	var call Call
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, fmt.Errorf("decoding call %s: %w", id, err)
	}
	return &call, nil
}

// UpdateCall merges patch into the stored call under optimistic retry, per
// SPEC_FULL.md §4.2's expansion: go-redis has no merge-patch primitive, so
// the read-modify-write cycle is wrapped in WATCH/MULTI/EXEC and retried a
// bounded number of times on a concurrent-write conflict.
func (s *redisStore) UpdateCall(ctx context.Context, id string, patch CallPatch) (*Call, error) {
	const maxAttempts = 5
	key := callKey(id)

	var result *Call
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				result = nil
				return nil
			}
			if err != nil {
				return err
			}

			var call Call
			if err := json.Unmarshal(raw, &call); err != nil {
				return err
			}
			applyPatch(&call, patch)

			data, err := json.Marshal(&call)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, callTTL*time.Second)
				return nil
			})
			if err != nil {
				return err
			}
			result = &call
			return nil
		}, key)

		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("updating call %s: %w", id, err)
	}
	return nil, fmt.Errorf("updating call %s: exceeded %d optimistic-retry attempts", id, maxAttempts)
}

func applyPatch(call *Call, patch CallPatch) {
	if patch.Status != nil {
		call.Status = *patch.Status
	}
	if patch.AgentID != nil {
		call.AgentID = *patch.AgentID
	}
	if patch.SwitchUUID != nil {
		call.SwitchUUID = *patch.SwitchUUID
	}
	if patch.AnswerTime != nil {
		call.AnswerTime = patch.AnswerTime
	}
	if patch.EndTime != nil {
		call.EndTime = patch.EndTime
	}
	if patch.Metadata != nil {
		if call.Metadata == nil {
			call.Metadata = map[string]any{}
		}
		for k, v := range patch.Metadata {
			call.Metadata[k] = v
		}
	}
}

func (s *redisStore) RemoveFromActive(ctx context.Context, call *Call) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, activeSetKey, call.ID)
	if call.CampaignID != "" {
		pipe.SRem(ctx, campaignSetKey(call.CampaignID), call.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing call %s from active set: %w", call.ID, err)
	}
	return nil
}

func (s *redisStore) ActiveCalls(ctx context.Context) ([]*Call, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing active calls: %w", err)
	}
	return s.getMany(ctx, ids)
}

func (s *redisStore) CampaignCalls(ctx context.Context, campaignID string) ([]*Call, error) {
	ids, err := s.rdb.SMembers(ctx, campaignSetKey(campaignID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing campaign calls: %w", err)
	}
	return s.getMany(ctx, ids)
}

func (s *redisStore) ActiveCallCountForCampaign(ctx context.Context, campaignID string) (int, error) {
	n, err := s.rdb.SCard(ctx, campaignSetKey(campaignID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting campaign calls: %w", err)
	}
	return int(n), nil
}

func (s *redisStore) getMany(ctx context.Context, ids []string) ([]*Call, error) {
	calls := make([]*Call, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCall(ctx, id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			// Expired or already reaped; drop stale index entry best-effort.
			s.rdb.SRem(ctx, activeSetKey, id)
			continue
		}
		calls = append(calls, c)
	}
	return calls, nil
}

func (s *redisStore) UpsertAgentStatus(ctx context.Context, status *AgentStatus) error {
	status.LastStateChange = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling agent status: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, agentKey(status.AgentID), data, callTTL*time.Second)
	if status.CurrentCallID != "" {
		pipe.SAdd(ctx, agentIndexKey(status.AgentID), status.CurrentCallID)
		pipe.Expire(ctx, agentIndexKey(status.AgentID), callTTL*time.Second)
	}

	setKey := availableAgentsZSetPrefix + status.TenantID
	if status.State == AgentAvailable {
		pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(status.LastStateChange.UnixNano()), Member: status.AgentID})
	} else {
		pipe.ZRem(ctx, setKey, status.AgentID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upserting agent status: %w", err)
	}
	return nil
}

func (s *redisStore) GetAgentStatus(ctx context.Context, agentID string) (*AgentStatus, error) {
	raw, err := s.rdb.Get(ctx, agentKey(agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent status %s: %w", agentID, err)
	}
	var status AgentStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decoding agent status %s: %w", agentID, err)
	}
	return &status, nil
}

// AvailableAgents returns all agents in state=available for tenant, sorted
// by last-state-change ascending (longest-idle-first), per spec.md §4.2 and
// the ordering guarantee in §4.4. The sorted set score is the last-state-change
// nanosecond timestamp, so ZRange already returns ascending order; the
// in-process sort.Slice below is a defensive re-sort in case of clock-skew
// writes from multiple processes racing the same agent key.
func (s *redisStore) AvailableAgents(ctx context.Context, tenantID string) ([]*AgentStatus, error) {
	ids, err := s.rdb.ZRange(ctx, availableAgentsZSetPrefix+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing available agents: %w", err)
	}

	agents := make([]*AgentStatus, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAgentStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if a == nil || a.State != AgentAvailable {
			continue
		}
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].LastStateChange.Equal(agents[j].LastStateChange) {
			return agents[i].AgentID < agents[j].AgentID
		}
		return agents[i].LastStateChange.Before(agents[j].LastStateChange)
	})
	return agents, nil
}

// Ping reports whether Redis is reachable.
func (s *redisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
