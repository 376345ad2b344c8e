package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, 200, map[string]string{"foo": "bar"})

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success=true")
	}
	if env.Error != "" {
		t.Fatalf("expected no error, got %q", env.Error)
	}
	if env.Data == nil {
		t.Fatalf("expected data to be present")
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, 400, "bad request")

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Success {
		t.Fatalf("expected success=false")
	}
	if env.Error != "bad request" {
		t.Fatalf("expected error message, got %q", env.Error)
	}
	if env.Data != nil {
		t.Fatalf("expected no data on error response")
	}
}

func TestWriteErrorDetailsEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	writeErrorDetails(rr, 409, "conflict", map[string]string{"status": "draft"})

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Details == nil {
		t.Fatalf("expected details to be present")
	}
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", jsonBody(`{"campaignId":"c1","bogus":true}`))
	var dst campaignIDRequest
	if errMsg := readJSON(req, &dst); errMsg == "" {
		t.Fatalf("expected error for unknown field")
	}
}

func TestReadJSONRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", jsonBody(``))
	var dst campaignIDRequest
	if errMsg := readJSON(req, &dst); errMsg == "" {
		t.Fatalf("expected error for empty body")
	}
}
