package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/dialer/preview"
	"github.com/flowdial/dialer/internal/manager"
	"github.com/go-chi/chi/v5"
)

// campaignIDRequest is the JSON body for the start/stop campaign endpoints.
type campaignIDRequest struct {
	CampaignID string `json:"campaignId"`
}

// handleHealth reports process liveness plus, per SPEC_FULL.md §9, the
// switch driver's connection state and the fast store's reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	driverConnected := s.driver.Connected()
	faststoreErr := s.calls.Ping(r.Context())

	status := http.StatusOK
	if !driverConnected || faststoreErr != nil {
		status = http.StatusServiceUnavailable
	}

	faststoreOK := faststoreErr == nil
	resp := map[string]any{
		"status":             "ok",
		"switchConnected":    driverConnected,
		"faststoreReachable": faststoreOK,
	}
	if faststoreErr != nil {
		resp["faststoreError"] = faststoreErr.Error()
	}
	if status != http.StatusOK {
		resp["status"] = "degraded"
	}

	writeJSON(w, status, resp)
}

// handleCampaignStart starts a campaign's Dialer. Per spec.md §7/§8's
// scenario 6, a campaign that is not active or names an unsupported mode
// fails loud with a 500 — it indicates a data-model mismatch, not a client
// error.
func (s *Server) handleCampaignStart(w http.ResponseWriter, r *http.Request) {
	var req campaignIDRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("campaignId", req.CampaignID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if err := s.manager.StartCampaign(r.Context(), req.CampaignID); err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(w, http.StatusNotFound, "campaign not found")
		case errors.Is(err, manager.ErrCampaignNotActive), errors.Is(err, manager.ErrUnsupportedMode):
			slog.Error("campaign start rejected", "campaign_id", req.CampaignID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			slog.Error("campaign start failed", "campaign_id", req.CampaignID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"campaignId": req.CampaignID, "status": "started"})
}

// handleCampaignStop stops a campaign's Dialer. Stopping an unregistered
// campaign is a no-op, per manager.StopCampaign.
func (s *Server) handleCampaignStop(w http.ResponseWriter, r *http.Request) {
	var req campaignIDRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("campaignId", req.CampaignID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if err := s.manager.StopCampaign(req.CampaignID); err != nil {
		slog.Error("campaign stop failed", "campaign_id", req.CampaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"campaignId": req.CampaignID, "status": "stopped"})
}

// handleCampaignsActive lists currently registered campaign ids.
func (s *Server) handleCampaignsActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"campaignIds": s.manager.ActiveCampaigns()})
}

// campaignStatusResponse reports a registered campaign's mode and, for
// predictive campaigns, its current dial ratio.
type campaignStatusResponse struct {
	CampaignID      string  `json:"campaignId"`
	Mode            string  `json:"mode"`
	PredictiveRatio float64 `json:"predictiveRatio,omitempty"`
}

// handleCampaignStatus reports a registered campaign's mode and metrics.
func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	mode := s.manager.CampaignMode(id)
	if mode == "" {
		writeError(w, http.StatusNotFound, "campaign not registered")
		return
	}

	resp := campaignStatusResponse{CampaignID: id, Mode: string(mode)}
	if ratio, ok := s.manager.PredictiveRatio(id); ok {
		resp.PredictiveRatio = ratio
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCampaignCalls lists the active calls belonging to a campaign.
func (s *Server) handleCampaignCalls(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	calls, err := s.calls.CampaignCalls(r.Context(), id)
	if err != nil {
		slog.Error("campaign calls lookup failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// previewRequestBody is the JSON body for POST /preview/request.
type previewRequestBody struct {
	CampaignID string `json:"campaignId"`
	AgentID    string `json:"agentId"`
}

// handlePreviewRequest asks the named campaign's preview Dialer for the next
// eligible lead on behalf of an agent.
func (s *Server) handlePreviewRequest(w http.ResponseWriter, r *http.Request) {
	var req previewRequestBody
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("campaignId", req.CampaignID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("agentId", req.AgentID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	preq, err := s.manager.RequestNextLead(r.Context(), req.CampaignID, req.AgentID)
	if err != nil {
		writePreviewError(w, "preview request", req.CampaignID, err)
		return
	}
	if preq == nil {
		writeJSON(w, http.StatusOK, map[string]any{"request": nil})
		return
	}
	writeJSON(w, http.StatusOK, preq)
}

// previewActionBody is the JSON body shared by accept/reject/skip.
type previewActionBody struct {
	CampaignID string `json:"campaignId"`
	PreviewID  string `json:"previewId"`
	Reason     string `json:"reason,omitempty"`
}

// handlePreviewAccept accepts a pending preview request, originating the
// call with the requesting agent already bound.
func (s *Server) handlePreviewAccept(w http.ResponseWriter, r *http.Request) {
	var req previewActionBody
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validatePreviewAction(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	preq, err := s.manager.AcceptPreview(r.Context(), req.CampaignID, req.PreviewID)
	if err != nil {
		writePreviewError(w, "preview accept", req.CampaignID, err)
		return
	}
	writeJSON(w, http.StatusOK, preq)
}

// handlePreviewReject marks a pending preview request rejected and notes the
// lead rejected; does not dial.
func (s *Server) handlePreviewReject(w http.ResponseWriter, r *http.Request) {
	var req previewActionBody
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validatePreviewAction(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	preq, err := s.manager.RejectPreview(r.Context(), req.CampaignID, req.PreviewID, req.Reason)
	if err != nil {
		writePreviewError(w, "preview reject", req.CampaignID, err)
		return
	}
	writeJSON(w, http.StatusOK, preq)
}

// handlePreviewSkip marks a pending preview request skipped so the lead can
// be offered to another agent; does not dial.
func (s *Server) handlePreviewSkip(w http.ResponseWriter, r *http.Request) {
	var req previewActionBody
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validatePreviewAction(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	preq, err := s.manager.SkipPreview(r.Context(), req.CampaignID, req.PreviewID)
	if err != nil {
		writePreviewError(w, "preview skip", req.CampaignID, err)
		return
	}
	writeJSON(w, http.StatusOK, preq)
}

// validatePreviewAction validates the fields common to accept/reject/skip.
func validatePreviewAction(req previewActionBody) string {
	if errMsg := validateRequiredStringLen("campaignId", req.CampaignID, maxNameLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateRequiredStringLen("previewId", req.PreviewID, maxNameLen); errMsg != "" {
		return errMsg
	}
	return validateNoControlChars("reason", req.Reason)
}

// writePreviewError maps manager/preview dialer errors to HTTP status codes
// per spec.md §7: unregistered/wrong-mode campaigns are client errors, a
// pending-slot or state conflict is 409, anything else (e.g. a dial
// failure) is an internal error.
func writePreviewError(w http.ResponseWriter, op, campaignID string, err error) {
	switch {
	case errors.Is(err, manager.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "campaign not registered")
	case errors.Is(err, manager.ErrNotPreviewCampaign):
		writeError(w, http.StatusBadRequest, "campaign is not a preview campaign")
	case errors.Is(err, preview.ErrNotFound):
		writeError(w, http.StatusNotFound, "preview request not found")
	case errors.Is(err, preview.ErrAlreadyPending):
		writeError(w, http.StatusConflict, "agent already has a pending preview request")
	case preview.IsStateConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error(op+" failed", "campaign_id", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleCallsActive lists all currently active calls.
func (s *Server) handleCallsActive(w http.ResponseWriter, r *http.Request) {
	calls, err := s.calls.ActiveCalls(r.Context())
	if err != nil {
		slog.Error("active calls lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// handleCallByID returns a snapshot of a single call.
func (s *Server) handleCallByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	call, err := s.calls.GetCall(r.Context(), id)
	if err != nil {
		slog.Error("call lookup failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// agentStatusRequest is the JSON body for POST /agents/status.
type agentStatusRequest struct {
	AgentID       string `json:"agentId"`
	TenantID      string `json:"tenantId"`
	State         string `json:"state"`
	CurrentCallID string `json:"currentCallId,omitempty"`
}

// handleAgentStatusUpsert upserts an agent's pacing state.
func (s *Server) handleAgentStatusUpsert(w http.ResponseWriter, r *http.Request) {
	var req agentStatusRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("agentId", req.AgentID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("tenantId", req.TenantID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	state := callservice.AgentState(req.State)
	switch state {
	case callservice.AgentAvailable, callservice.AgentOnCall, callservice.AgentWrapUp, callservice.AgentBreak, callservice.AgentOffline:
	default:
		writeError(w, http.StatusBadRequest, "state must be one of available, on-call, wrap-up, break, offline")
		return
	}

	status := &callservice.AgentStatus{
		AgentID:       req.AgentID,
		TenantID:      req.TenantID,
		State:         state,
		CurrentCallID: req.CurrentCallID,
	}
	if err := s.calls.UpdateAgentStatus(r.Context(), status); err != nil {
		slog.Error("agent status upsert failed", "agent_id", req.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"agentId": req.AgentID, "status": "updated"})
}

// handleAgentsAvailable lists available agents for a tenant.
func (s *Server) handleAgentsAvailable(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if errMsg := validateRequiredStringLen("tenantId", tenantID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	agents, err := s.calls.GetAvailableAgents(r.Context(), tenantID)
	if err != nil {
		slog.Error("available agents lookup failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// handleAgentStatus returns a single agent's pacing state.
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.calls.GetAgentStatus(r.Context(), id)
	if err != nil {
		slog.Error("agent status lookup failed", "agent_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
