package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/ratelimit"
	"github.com/dwizi/agent-orchestrator/internal/store"
)

func TestWebhookCRUD(t *testing.T) {
	server := newTestServer(t, nil)

	created := server.do(t, http.MethodPost, "/api/v1/webhooks", "key-city", map[string]any{
		"name":   "crm",
		"url":    "https://crm.example.com/hook",
		"events": []string{"message_processed"},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", created.Code, created.Body.String())
	}
	id, _ := decodeBody(t, created)["id"].(string)

	if rec := server.do(t, http.MethodPost, "/api/v1/webhooks", "key-city", map[string]any{"name": "bad", "url": "ftp://x"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid url, got %d", rec.Code)
	}

	updated := server.do(t, http.MethodPut, "/api/v1/webhooks/"+id, "key-city", map[string]any{
		"events": []string{"message_processed", "message_error"},
	})
	if updated.Code != http.StatusOK {
		t.Fatalf("expected 200 for update, got %d body=%s", updated.Code, updated.Body.String())
	}
	if events, _ := decodeBody(t, updated)["events"].([]any); len(events) != 2 {
		t.Fatalf("expected two events, got %#v", events)
	}

	list := decodeBody(t, server.do(t, http.MethodGet, "/api/v1/webhooks", "key-city", nil))
	if list["count"] != float64(1) {
		t.Fatalf("expected one webhook, got %#v", list)
	}
	if rec := server.do(t, http.MethodDelete, "/api/v1/webhooks/"+id, "key-city", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", rec.Code)
	}
	if rec := server.do(t, http.MethodGet, "/api/v1/webhooks/"+id, "key-city", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestEndpointsAndInboundHook(t *testing.T) {
	server := newTestServer(t, nil)
	agentID := server.createAgent(t, "Billing", "billing")
	server.createAgent(t, "Parks", "parks")

	created := server.do(t, http.MethodPost, "/api/v1/endpoints", "key-city", map[string]any{
		"name":     "CRM inbound",
		"path":     "crm-inbound",
		"agent_id": agentID,
		"secret":   "s3cret",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", created.Code, created.Body.String())
	}
	endpoint := decodeBody(t, created)
	endpointID, _ := endpoint["id"].(string)
	if endpoint["secret"] != "s3cret" || endpoint["url"] != "/api/v1/hooks/crm-inbound" {
		t.Fatalf("unexpected endpoint payload: %#v", endpoint)
	}
	if list := decodeBody(t, server.do(t, http.MethodGet, "/api/v1/endpoints", "key-city", nil)); list["count"] != float64(1) {
		t.Fatalf("expected one endpoint, got %#v", list)
	}

	post := func(path, secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set(webhookSecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		server.handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("/api/v1/hooks/unknown", "s3cret", `{"message":"hi"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
	if rec := post("/api/v1/hooks/crm-inbound", "wrong", `{"message":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad secret, got %d", rec.Code)
	}
	if rec := post("/api/v1/hooks/crm-inbound", "s3cret", `{"ticket":"1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without message, got %d", rec.Code)
	}
	ok := post("/api/v1/hooks/crm-inbound", "s3cret", `{"message":"about the parks","ticket":"42"}`)
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", ok.Code, ok.Body.String())
	}
	result, _ := decodeBody(t, ok)["result"].(map[string]any)
	agent, _ := result["agent"].(map[string]any)
	if agent["id"] != agentID || result["routing_reason"] != "hint" {
		t.Fatalf("expected bound agent to win over keywords, got %#v", result)
	}

	logs := decodeBody(t, server.do(t, http.MethodGet, "/api/v1/endpoints/"+endpointID+"/logs", "key-city", nil))
	if logs["count"] != float64(2) {
		t.Fatalf("expected two endpoint logs, got %#v", logs)
	}

	if rec := server.do(t, http.MethodDelete, "/api/v1/endpoints/"+endpointID, "key-city", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", rec.Code)
	}
	if _, err := server.store.LookupEndpoint(context.Background(), server.tenant.ID, endpointID); err == nil {
		t.Fatal("expected endpoint to be gone")
	}
}

func TestInboundHookLimitsOnlyKnownEndpoints(t *testing.T) {
	limiter := ratelimit.NewMemory(1, time.Minute)
	server := newTestServer(t, limiter)
	agentID := server.createAgent(t, "Billing", "billing")
	if _, err := server.store.CreateEndpoint(context.Background(), store.CreateEndpointInput{
		TenantID: server.tenant.ID,
		AgentID:  agentID,
		Name:     "CRM inbound",
		Path:     "crm-inbound",
		Secret:   "s3cret",
	}); err != nil {
		t.Fatalf("create endpoint: %v", err)
	}

	post := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"message":"hi"}`))
		req.Header.Set(webhookSecretHeader, "s3cret")
		rec := httptest.NewRecorder()
		server.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 50; i++ {
		if code := post(fmt.Sprintf("/api/v1/hooks/random-%d", i)); code != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown path, got %d", code)
		}
	}
	if buckets := limiter.Len(); buckets != 0 {
		t.Fatalf("expected no buckets for unknown paths, got %d", buckets)
	}

	if code := post("/api/v1/hooks/crm-inbound"); code != http.StatusOK {
		t.Fatalf("expected first call to pass, got %d", code)
	}
	if code := post("/api/v1/hooks/crm-inbound"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second call, got %d", code)
	}
}
