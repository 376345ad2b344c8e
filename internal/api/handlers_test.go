package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/callservice/callservicetest"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/catalog/catalogtest"
	"github.com/flowdial/dialer/internal/events/eventstest"
	"github.com/flowdial/dialer/internal/manager"
	"github.com/flowdial/dialer/internal/switchdriver/switchdrivertest"
)

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer wires a Server over hand-written fakes, in the teacher's
// no-mocking-framework style.
type testServer struct {
	srv       *Server
	campaigns *catalogtest.CampaignRepository
	leads     *catalogtest.LeadRepository
	calls     *callservice.CallService
	fast      *callservicetest.FastStore
	driver    *switchdrivertest.Driver
	publisher *eventstest.Publisher
	mgr       *manager.Manager
}

func newTestServer() *testServer {
	campaigns := catalogtest.NewCampaignRepository()
	leads := catalogtest.NewLeadRepository()
	fast := callservicetest.NewFastStore()
	durable := callservicetest.NewDurableStore()
	calls := callservice.New(fast, durable, testLogger())
	driver := switchdrivertest.New()
	publisher := eventstest.New()
	mgr := manager.New(campaigns, leads, calls, driver, publisher, testLogger())

	srv := NewServer(mgr, calls, driver, Options{}, testLogger())
	return &testServer{
		srv: srv, campaigns: campaigns, leads: leads,
		calls: calls, fast: fast, driver: driver, publisher: publisher, mgr: mgr,
	}
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v, body=%s", err, rr.Body.String())
	}
	return env
}

func TestHandleHealthOK(t *testing.T) {
	ts := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Fatalf("expected success=true")
	}
}

func TestHandleHealthDegradedWhenDriverDisconnected(t *testing.T) {
	ts := newTestServer()
	ts.driver.Disconnected = true

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleCampaignStartNotActiveReturns500(t *testing.T) {
	ts := newTestServer()
	ts.campaigns.Put(&catalog.Campaign{
		ID:       "camp-1",
		TenantID: "tenant-1",
		Mode:     catalog.ModePredictive,
		Status:   catalog.CampaignDraft,
		Settings: catalog.DefaultCampaignSettings(),
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/start", jsonBody(`{"campaignId":"camp-1"}`))
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for non-active campaign start, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Success {
		t.Fatalf("expected success=false")
	}
}

func TestHandleCampaignStartUnknownCampaignReturns404(t *testing.T) {
	ts := newTestServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/start", jsonBody(`{"campaignId":"missing"}`))
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleCampaignStartAndStatus(t *testing.T) {
	ts := newTestServer()
	ts.campaigns.Put(&catalog.Campaign{
		ID:       "camp-1",
		TenantID: "tenant-1",
		Mode:     catalog.ModePreview,
		Status:   catalog.CampaignActive,
		Settings: catalog.DefaultCampaignSettings(),
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/start", jsonBody(`{"campaignId":"camp-1"}`))
	ts.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/camp-1/status", nil)
	ts.srv.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}

	ts.mgr.Shutdown(context.Background())
}

func TestHandleCampaignStatusNotRegisteredReturns404(t *testing.T) {
	ts := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/ghost/status", nil)
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandlePreviewRequestFlow(t *testing.T) {
	ts := newTestServer()
	ts.campaigns.Put(&catalog.Campaign{
		ID:       "camp-1",
		TenantID: "tenant-1",
		Mode:     catalog.ModePreview,
		Status:   catalog.CampaignActive,
		Settings: catalog.DefaultCampaignSettings(),
	})
	ts.leads.Put(&catalog.Lead{
		ID:         "lead-1",
		TenantID:   "tenant-1",
		CampaignID: "camp-1",
		Phone:      "+15550001111",
		Status:     catalog.LeadNew,
	})

	startReq := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/start", jsonBody(`{"campaignId":"camp-1"}`))
	ts.srv.ServeHTTP(httptest.NewRecorder(), startReq)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/preview/request", jsonBody(`{"campaignId":"camp-1","agentId":"agent-1"}`))
	ts.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	ts.mgr.Shutdown(context.Background())
}

func TestHandlePreviewRequestUnregisteredCampaignReturns404(t *testing.T) {
	ts := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/preview/request", jsonBody(`{"campaignId":"ghost","agentId":"agent-1"}`))
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleCallByIDNotFound(t *testing.T) {
	ts := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/missing", nil)
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleAgentStatusUpsertAndFetch(t *testing.T) {
	ts := newTestServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/status", jsonBody(`{"agentId":"agent-1","tenantId":"tenant-1","state":"available"}`))
	ts.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/agents/agent-1/status", nil)
	ts.srv.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
}

func TestHandleAgentStatusUpsertRejectsInvalidState(t *testing.T) {
	ts := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/status", jsonBody(`{"agentId":"agent-1","tenantId":"tenant-1","state":"napping"}`))
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleAgentsAvailableRequiresTenantID(t *testing.T) {
	ts := newTestServer()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/available", nil)
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestServiceAuthRequiredOnMutatingRoutes(t *testing.T) {
	campaigns := catalogtest.NewCampaignRepository()
	leads := catalogtest.NewLeadRepository()
	fast := callservicetest.NewFastStore()
	durable := callservicetest.NewDurableStore()
	calls := callservice.New(fast, durable, testLogger())
	driver := switchdrivertest.New()
	publisher := eventstest.New()
	mgr := manager.New(campaigns, leads, calls, driver, publisher, testLogger())

	secret := []byte("a-32-byte-test-secret-goes-here")
	srv := NewServer(mgr, calls, driver, Options{AuthSecret: secret}, testLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/start", jsonBody(`{"campaignId":"camp-1"}`))
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rr.Code)
	}

	rr2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/active", nil)
	srv.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected read route to remain open, got %d", rr2.Code)
	}
}
