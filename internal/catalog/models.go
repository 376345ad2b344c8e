// Package catalog provides read-mostly access to the external durable
// catalog of campaigns and leads. The core never creates or deletes a
// campaign; it reads campaign rows to drive dialing and writes back only
// lead status/attempt bookkeeping.
package catalog

import "time"

// DialMode is a campaign's dialing strategy.
type DialMode string

const (
	ModePredictive  DialMode = "predictive"
	ModeProgressive DialMode = "progressive"
	ModePreview     DialMode = "preview"
)

// CampaignStatus is the lifecycle state of a campaign row.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// LeadStatus is the lifecycle state of a lead row.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadDialing   LeadStatus = "dialing"
	LeadContacted LeadStatus = "contacted"
	LeadRejected  LeadStatus = "rejected"
	LeadCompleted LeadStatus = "completed"
	LeadDoNotCall LeadStatus = "do-not-call"
)

// ScheduleWindow is one allowed dialing window within a week.
type ScheduleWindow struct {
	Weekday time.Weekday
	Start   string // "HH:MM", local to Timezone
	End     string // "HH:MM", local to Timezone
}

// CampaignSchedule is the decoded form of a campaign's schedule blob.
// A campaign with no windows has no schedule gate (always eligible).
type CampaignSchedule struct {
	Timezone string
	Windows  []ScheduleWindow
}

// Active reports whether now falls inside one of the schedule's windows.
// An empty schedule (no windows configured) is always active.
func (s CampaignSchedule) Active(now time.Time) bool {
	if len(s.Windows) == 0 {
		return true
	}
	loc := time.UTC
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	clock := local.Format("15:04")
	for _, w := range s.Windows {
		if w.Weekday != local.Weekday() {
			continue
		}
		if clock >= w.Start && clock < w.End {
			return true
		}
	}
	return false
}

// CampaignSettings is the decoded, validated form of a campaign's settings
// blob. Decoding does not fill Extra: keys that match no field are dropped.
// Decoding and validation happen once at campaign load, never per tick.
type CampaignSettings struct {
	RingTimeout          time.Duration
	MaxAttempts          int
	RetryInterval        time.Duration
	WrapUpTime           time.Duration
	DialRatioTarget      float64
	DialRatioMin         float64
	DialRatioMax         float64
	AbandonRateTarget    float64
	WaitForAgentCap      time.Duration
	CallsPerAgent        float64
	PreviewTime          time.Duration
	AutoDialAfterPreview bool
	BridgeDirectly       bool

	Extra map[string]any
}

// DefaultCampaignSettings returns conservative defaults for fields a campaign
// row leaves unset.
func DefaultCampaignSettings() CampaignSettings {
	return CampaignSettings{
		RingTimeout:       20 * time.Second,
		MaxAttempts:       5,
		RetryInterval:     1 * time.Hour,
		WrapUpTime:        30 * time.Second,
		DialRatioTarget:   1.5,
		DialRatioMin:      1.0,
		DialRatioMax:      3.0,
		AbandonRateTarget: 0.03,
		WaitForAgentCap:   10 * time.Second,
		CallsPerAgent:     1.0,
		PreviewTime:       30 * time.Second,
	}
}

// Validate clamps and rejects nonsensical settings values. It is invoked once
// when a campaign is loaded into the Manager, not per tick.
func (s *CampaignSettings) Validate() error {
	if s.DialRatioMin <= 0 {
		return errInvalidSettings("dial_ratio_min must be positive")
	}
	if s.DialRatioMax < s.DialRatioMin {
		return errInvalidSettings("dial_ratio_max must be >= dial_ratio_min")
	}
	if s.DialRatioTarget < s.DialRatioMin || s.DialRatioTarget > s.DialRatioMax {
		if s.DialRatioTarget < s.DialRatioMin {
			s.DialRatioTarget = s.DialRatioMin
		} else {
			s.DialRatioTarget = s.DialRatioMax
		}
	}
	if s.AbandonRateTarget < 0 || s.AbandonRateTarget > 1 {
		return errInvalidSettings("abandon_rate_target must be in [0,1]")
	}
	if s.WaitForAgentCap <= 0 {
		return errInvalidSettings("wait_for_agent_cap must be positive")
	}
	if s.CallsPerAgent <= 0 {
		s.CallsPerAgent = 1.0
	}
	return nil
}

type errInvalidSettings string

func (e errInvalidSettings) Error() string { return string(e) }

// Campaign is the core's view of an externally-managed campaign row.
type Campaign struct {
	ID       string
	TenantID string
	Mode     DialMode
	Status   CampaignStatus
	Settings CampaignSettings
	Schedule CampaignSchedule
}

// Lead is the core's view of an externally-managed lead row.
type Lead struct {
	ID             string
	TenantID       string
	CampaignID     string
	Phone          string
	AlternatePhone string
	Priority       int
	AttemptCount   int
	LastAttempt    *time.Time
	NextAttempt    *time.Time
	Status         LeadStatus
	CustomFields   map[string]any
}
