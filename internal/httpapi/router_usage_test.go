package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

func TestUsageStatsLogsAndDashboard(t *testing.T) {
	server := newTestServer(t, nil)
	agentID := server.createAgent(t, "Billing", "billing")
	ctx := context.Background()
	for _, status := range []string{store.UsageStatusSuccess, store.UsageStatusSuccess, store.UsageStatusSuccess, store.UsageStatusError} {
		if _, err := server.store.CreateUsageLog(ctx, store.CreateUsageLogInput{
			TenantID:       server.tenant.ID,
			AgentID:        agentID,
			RequestType:    "process_message",
			ProcessingTime: 0.5,
			Status:         status,
		}); err != nil {
			t.Fatalf("create usage log: %v", err)
		}
	}

	stats := server.do(t, http.MethodGet, "/api/v1/usage/stats?agent_id="+agentID, "key-city", nil)
	if stats.Code != http.StatusOK {
		t.Fatalf("expected 200 for stats, got %d body=%s", stats.Code, stats.Body.String())
	}
	payload := decodeBody(t, stats)
	if payload["total_requests"] != float64(4) || payload["success_rate"] != float64(75) || payload["average_processing_time"] != 0.5 {
		t.Fatalf("unexpected stats: %#v", payload)
	}

	empty := decodeBody(t, server.do(t, http.MethodGet, "/api/v1/usage/stats?start_date=2020-01-01&end_date=2020-01-31", "key-city", nil))
	if empty["total_requests"] != float64(0) || empty["success_rate"] != float64(0) {
		t.Fatalf("expected empty historical window, got %#v", empty)
	}
	if rec := server.do(t, http.MethodGet, "/api/v1/usage/stats?start_date=yesterday", "key-city", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
	if rec := server.do(t, http.MethodGet, "/api/v1/usage/stats?start_date=2024-02-01&end_date=2024-01-01", "key-city", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted window, got %d", rec.Code)
	}

	logs := decodeBody(t, server.do(t, http.MethodGet, "/api/v1/usage/logs?status=error", "key-city", nil))
	if logs["count"] != float64(1) {
		t.Fatalf("expected one error log, got %#v", logs)
	}

	dashboard := decodeBody(t, server.do(t, http.MethodGet, "/api/v1/dashboard", "key-city", nil))
	if dashboard["total_requests"] != float64(4) || dashboard["active_agents"] != float64(1) {
		t.Fatalf("unexpected dashboard: %#v", dashboard)
	}
	top, _ := dashboard["top_agents"].([]any)
	if len(top) != 1 || top[0].(map[string]any)["agent_name"] != "Billing" {
		t.Fatalf("unexpected top agents: %#v", dashboard["top_agents"])
	}
}
