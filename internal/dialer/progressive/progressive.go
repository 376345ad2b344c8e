// Package progressive implements the Progressive Dialer: one call per idle
// agent, paired through a waiting-for-agent queue, per spec.md §4.4.
package progressive

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/events"
	"github.com/flowdial/dialer/internal/switchdriver"
)

const (
	dialTickInterval  = 2 * time.Second
	matchTickInterval = 1 * time.Second
)

// Dependencies wires a progressive Dialer to the campaign it serves and the
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
}

// waitingCall is one answered call waiting to be paired with an agent,
// keyed by phone number per spec.md §4.4.
type waitingCall struct {
	callID     string
	phone      string
	answeredAt time.Time
}

// Dialer is the progressive pacer for one campaign. The waiting-for-agent
// queue is guarded by mu: the Manager's event loop appends to it through
// CallAnswered, and this struct's own goroutines drain it.
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

	mu      sync.Mutex
	waiting []*waitingCall

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a progressive Dialer.
func New(deps Dependencies) *Dialer {
	return &Dialer{
		campaignID: deps.CampaignID,
		tenantID:   deps.TenantID,
		settings:   deps.Settings,
		schedule:   deps.Schedule,
		leads:      deps.Leads,
		calls:      deps.Calls,
		driver:     deps.Driver,
		publisher:  deps.Publisher,
		logger:     deps.Logger.With("component", "dialer.progressive", "campaign_id", deps.CampaignID),
	}
}

// Start launches the dial-tick and matching loops.
func (d *Dialer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(2)
	go d.dialLoop(ctx)
	go d.matchLoop(ctx)
}

// Stop cancels both loops and waits for them to exit.
func (d *Dialer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dialer) dialLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(dialTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.tick(ctx); err != nil {
				d.logger.Error("dial tick failed", "error", err)
			}
		}
	}
}

func (d *Dialer) tick(ctx context.Context) error {
	if !d.schedule.Active(time.Now()) {
		return nil
	}

	agents, err := d.calls.GetAvailableAgents(ctx, d.tenantID)
	if err != nil {
		return err
	}

	inProgress, err := d.calls.ActiveCallCountForCampaign(ctx, d.campaignID)
	if err != nil {
		return err
	}

	callsToMake := int(float64(len(agents))*d.settings.CallsPerAgent) - inProgress
	if callsToMake <= 0 {
		return nil
	}

	leads, err := d.leads.NextEligible(ctx, catalog.EligibleLeadFilter{
		CampaignID: d.campaignID,
		Now:        time.Now(),
		Limit:      callsToMake,
	})
	if err != nil {
		return err
	}
	if len(leads) == 0 {
		d.logger.Debug("no-leads-available", "campaign_id", d.campaignID)
		return nil
	}

	for _, lead := range leads {
		d.dialLead(ctx, lead)
	}
	return nil
}

func (d *Dialer) dialLead(ctx context.Context, lead *catalog.Lead) {
	call, err := d.calls.CreateCall(ctx, callservice.CreateCallInput{
		TenantID:   d.tenantID,
		CampaignID: d.campaignID,
		LeadID:     lead.ID,
		Direction:  callservice.DirectionOutbound,
		Phone:      lead.Phone,
	})
	if err != nil {
		d.logger.Error("creating call failed", "lead_id", lead.ID, "error", err)
		return
	}

	// Originate without agent binding at originate time, per spec.md §4.4.
	_, err = d.driver.Originate(ctx, switchdriver.OriginateParams{
		Destination: lead.Phone,
		Timeout:     d.settings.RingTimeout,
		Vars: switchdriver.CorrelationVars{
			CallID:     call.ID,
			CampaignID: d.campaignID,
			LeadID:     lead.ID,
			TenantID:   d.tenantID,
		},
	})
	if err != nil {
		d.logger.Error("originate failed", "lead_id", lead.ID, "call_id", call.ID, "error", err)
		if _, endErr := d.calls.EndCall(ctx, call.ID, callservice.CallFailed); endErr != nil {
			d.logger.Error("ending failed call", "call_id", call.ID, "error", endErr)
		}
		return
	}

	if err := d.leads.RecordAttempt(ctx, lead.ID, time.Now()); err != nil {
		d.logger.Error("recording attempt", "lead_id", lead.ID, "error", err)
	}
}

// CallAnswered enqueues an answered call into the waiting-for-agent queue,
// called by the Manager on CHANNEL_ANSWER for a call this dialer
// originated.
func (d *Dialer) CallAnswered(callID, phone string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waiting = append(d.waiting, &waitingCall{callID: callID, phone: phone, answeredAt: time.Now()})
}

func (d *Dialer) matchLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(matchTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.match(ctx)
			d.reapExpired(ctx)
		}
	}
}

// match pairs waiting calls with available agents in insertion order,
// choosing the longest-idle available agent first (ties by agent id lex
// order), per spec.md §4.4's ordering guarantee.
func (d *Dialer) match(ctx context.Context) {
	agents, err := d.calls.GetAvailableAgents(ctx, d.tenantID)
	if err != nil {
		d.logger.Error("listing available agents", "error", err)
		return
	}
	if len(agents) == 0 {
		return
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].LastStateChange.Equal(agents[j].LastStateChange) {
			return agents[i].AgentID < agents[j].AgentID
		}
		return agents[i].LastStateChange.Before(agents[j].LastStateChange)
	})

	d.mu.Lock()
	n := len(d.waiting)
	if n > len(agents) {
		n = len(agents)
	}
	paired := d.waiting[:n]
	d.waiting = d.waiting[n:]
	d.mu.Unlock()

	for i, wc := range paired {
		agent := agents[i]
		d.pair(ctx, wc, agent.AgentID)
	}
}

func (d *Dialer) pair(ctx context.Context, wc *waitingCall, agentID string) {
	status := callservice.CallConnected
	if _, err := d.calls.UpdateCall(ctx, wc.callID, callservice.CallPatch{Status: &status, AgentID: &agentID}); err != nil {
		d.logger.Error("updating call on pairing", "call_id", wc.callID, "error", err)
		return
	}
	if err := d.calls.UpdateAgentStatus(ctx, &callservice.AgentStatus{
		AgentID:       agentID,
		TenantID:      d.tenantID,
		State:         callservice.AgentOnCall,
		CurrentCallID: wc.callID,
	}); err != nil {
		d.logger.Error("updating agent on pairing", "agent_id", agentID, "error", err)
	}

	// Bridge() takes switch channel UUIDs, not internal call/agent IDs, and
	// no agent-side channel UUID is tracked (AgentStatus has no such field),
	// so no Bridge() call is made here: with bridge_directly set, pairing
	// only logs a warning and the media join is left to switch-side routing.
	if d.settings.BridgeDirectly {
		d.logger.Warn("bridge_directly is set but agent channel UUIDs aren't tracked; skipping direct bridge", "call_id", wc.callID, "agent_id", agentID)
	}
}

// reapExpired force-terminates waiting calls past the wait-for-agent cap.
func (d *Dialer) reapExpired(ctx context.Context) {
	cutoff := time.Now().Add(-d.settings.WaitForAgentCap)

	d.mu.Lock()
	var expired []*waitingCall
	var remaining []*waitingCall
	for _, wc := range d.waiting {
		if wc.answeredAt.Before(cutoff) {
			expired = append(expired, wc)
		} else {
			remaining = append(remaining, wc)
		}
	}
	d.waiting = remaining
	d.mu.Unlock()

	for _, wc := range expired {
		if call, err := d.calls.GetCall(ctx, wc.callID); err != nil {
			d.logger.Error("looking up expired waiting call", "call_id", wc.callID, "error", err)
		} else if call != nil && call.SwitchUUID != "" {
			if err := d.driver.Hangup(ctx, call.SwitchUUID, "NO_USER_RESPONSE"); err != nil {
				d.logger.Error("hanging up expired waiting call", "call_id", wc.callID, "error", err)
			}
		}
		if _, err := d.calls.EndCall(ctx, wc.callID, callservice.CallAbandoned); err != nil {
			d.logger.Error("ending abandoned call", "call_id", wc.callID, "error", err)
		}
		if d.publisher != nil {
			if err := d.publisher.Publish(ctx, events.TopicCallsEnded, d.tenantID, events.CallPayload{
				CallID: wc.callID,
				Status: string(callservice.CallAbandoned),
			}); err != nil {
				d.logger.Error("publishing call-abandoned", "call_id", wc.callID, "error", err)
			}
		}
	}
}
