package callservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowdial/dialer/internal/database"
)

// sqliteDurable implements DurableStore, following the teacher's CDR-insert
// idiom (internal/database/cdr.go's cdrRepo.Create): a single INSERT with
// one row per terminal call.
type sqliteDurable struct {
	db *database.DB
}

// NewSQLiteDurableStore creates a DurableStore backed by the shared SQLite
// database.
func NewSQLiteDurableStore(db *database.DB) DurableStore {
	return &sqliteDurable{db: db}
}

func (d *sqliteDurable) WriteTerminalCall(ctx context.Context, call *Call) error {
	metadata, err := json.Marshal(call.Metadata)
	if err != nil {
		return fmt.Errorf("encoding call metadata: %w", err)
	}

	var campaignID, leadID, agentID any
	if call.CampaignID != "" {
		campaignID = call.CampaignID
	}
	if call.LeadID != "" {
		leadID = call.LeadID
	}
	if call.AgentID != "" {
		agentID = call.AgentID
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO calls (id, tenant_id, campaign_id, lead_id, agent_id, direction,
		 status, phone, caller_id, switch_uuid, start_time, answer_time, end_time,
		 ring_duration_ms, talk_duration_ms, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   agent_id = excluded.agent_id,
		   answer_time = excluded.answer_time,
		   end_time = excluded.end_time,
		   ring_duration_ms = excluded.ring_duration_ms,
		   talk_duration_ms = excluded.talk_duration_ms,
		   metadata = excluded.metadata`,
		call.ID, call.TenantID, campaignID, leadID, agentID, string(call.Direction),
		string(call.Status), call.Phone, call.CallerID, call.SwitchUUID,
		call.StartTime, call.AnswerTime, call.EndTime,
		call.RingDuration().Milliseconds(), call.TalkDuration().Milliseconds(),
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("writing terminal call %s: %w", call.ID, err)
	}
	return nil
}
