package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowdial/dialer/internal/database"
)

// sqliteCampaigns implements CampaignRepository against the shared durable
// database, following the teacher's scan-row-per-query idiom
// (internal/database/cdr.go).
type sqliteCampaigns struct {
	db *database.DB
}

// NewCampaignRepository creates a CampaignRepository backed by SQLite.
func NewCampaignRepository(db *database.DB) CampaignRepository {
	return &sqliteCampaigns{db: db}
}

func (r *sqliteCampaigns) Get(ctx context.Context, id string) (*Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, mode, status, settings, schedule FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

func (r *sqliteCampaigns) ListActive(ctx context.Context) ([]*Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, mode, status, settings, schedule FROM campaigns WHERE status = ?`,
		string(CampaignActive))
	if err != nil {
		return nil, fmt.Errorf("listing active campaigns: %w", err)
	}
	defer rows.Close()

	var out []*Campaign
	for rows.Next() {
		c, err := scanCampaignRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCampaign(row scannable) (*Campaign, error) {
	var c Campaign
	var mode, status, settingsJSON, scheduleJSON string
	if err := row.Scan(&c.ID, &c.TenantID, &mode, &status, &settingsJSON, &scheduleJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	c.Mode = DialMode(mode)
	c.Status = CampaignStatus(status)

	settings := DefaultCampaignSettings()
	if settingsJSON != "" && settingsJSON != "{}" {
		if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
			return nil, fmt.Errorf("decoding campaign settings: %w", err)
		}
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("campaign %s has invalid settings: %w", c.ID, err)
	}
	c.Settings = settings

	var schedule CampaignSchedule
	if scheduleJSON != "" && scheduleJSON != "{}" {
		if err := json.Unmarshal([]byte(scheduleJSON), &schedule); err != nil {
			return nil, fmt.Errorf("decoding campaign schedule: %w", err)
		}
	}
	c.Schedule = schedule

	return &c, nil
}

func scanCampaignRows(rows *sql.Rows) (*Campaign, error) {
	return scanCampaign(rows)
}

// sqliteLeads implements LeadRepository against the shared durable database.
type sqliteLeads struct {
	db *database.DB
}

// NewLeadRepository creates a LeadRepository backed by SQLite.
func NewLeadRepository(db *database.DB) LeadRepository {
	return &sqliteLeads{db: db}
}

// NextEligible returns leads eligible for dialing, ordered by priority
// ascending then last_attempt ascending (NULLs first), per spec.md §4.3.
func (r *sqliteLeads) NextEligible(ctx context.Context, filter EligibleLeadFilter) ([]*Lead, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, campaign_id, phone, alt_phone, priority, attempt_count,
		        last_attempt, next_attempt, status, custom_fields
		 FROM leads
		 WHERE campaign_id = ?
		   AND status = ?
		   AND (last_attempt IS NULL OR last_attempt < ?)
		 ORDER BY priority ASC, last_attempt ASC
		 LIMIT ?`,
		filter.CampaignID, string(LeadNew), filter.Now, filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying eligible leads: %w", err)
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLead(rows *sql.Rows) (*Lead, error) {
	var l Lead
	var status, customJSON string
	var lastAttempt, nextAttempt sql.NullTime
	if err := rows.Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.Phone, &l.AlternatePhone,
		&l.Priority, &l.AttemptCount, &lastAttempt, &nextAttempt, &status, &customJSON); err != nil {
		return nil, fmt.Errorf("scanning lead: %w", err)
	}
	l.Status = LeadStatus(status)
	if lastAttempt.Valid {
		l.LastAttempt = &lastAttempt.Time
	}
	if nextAttempt.Valid {
		l.NextAttempt = &nextAttempt.Time
	}
	if customJSON != "" {
		_ = json.Unmarshal([]byte(customJSON), &l.CustomFields)
	}
	return &l, nil
}

// RecordAttempt bumps attempt_count and sets last_attempt. Per spec.md §3's
// invariant, attempt_count is strictly monotone and last_attempt never moves
// backward — enforced here by always writing `at`, which callers must pass
// as time.Now() at the moment of dialing.
func (r *sqliteLeads) RecordAttempt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE leads SET attempt_count = attempt_count + 1, last_attempt = ?, status = ?
		 WHERE id = ?`, at, string(LeadDialing), id)
	if err != nil {
		return fmt.Errorf("recording lead attempt: %w", err)
	}
	return nil
}

func (r *sqliteLeads) SetStatus(ctx context.Context, id string, status LeadStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE leads SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("setting lead status: %w", err)
	}
	return nil
}

// SetStatusWithNote sets status and records a note (e.g. reject reason, or
// the id of an agent who skipped the lead) into the custom_fields side map
// under noteKey, per spec.md §4.5's reject/skip semantics.
func (r *sqliteLeads) SetStatusWithNote(ctx context.Context, id string, status LeadStatus, noteKey, note string) error {
	row := r.db.QueryRowContext(ctx, `SELECT custom_fields FROM leads WHERE id = ?`, id)
	var customJSON string
	if err := row.Scan(&customJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("reading lead custom fields: %w", err)
	}

	fields := map[string]any{}
	if customJSON != "" {
		_ = json.Unmarshal([]byte(customJSON), &fields)
	}
	fields[noteKey] = note
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding lead custom fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `UPDATE leads SET status = ?, custom_fields = ? WHERE id = ?`,
		string(status), string(encoded), id)
	if err != nil {
		return fmt.Errorf("setting lead status with note: %w", err)
	}
	return nil
}
