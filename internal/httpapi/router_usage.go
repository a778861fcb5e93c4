package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

const defaultStatsWindow = 30 * 24 * time.Hour

func usageLogPayload(entry store.UsageLog) map[string]any {
	return map[string]any{
		"id":              entry.ID,
		"agent_id":        entry.AgentID,
		"user_id":         entry.UserID,
		"request_type":    entry.RequestType,
		"request_data":    entry.RequestData,
		"response_data":   entry.ResponseData,
		"processing_time": entry.ProcessingTime,
		"status":          entry.Status,
		"created_at_unix": unix(entry.CreatedAt),
	}
}

// handleUsageStats aggregates usage between start_date and end_date. The
// window defaults to the last 30 days.
func (r *router) handleUsageStats(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	end := time.Now().UTC()
	if raw := query.Get("end_date"); raw != "" {
		parsed, err := parseDate(raw, true)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD or RFC3339")
			return
		}
		end = parsed
	}
	start := end.Add(-defaultStatsWindow)
	if raw := query.Get("start_date"); raw != "" {
		parsed, err := parseDate(raw, false)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD or RFC3339")
			return
		}
		start = parsed
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, "start_date must not be after end_date")
		return
	}

	agentID := strings.TrimSpace(query.Get("agent_id"))
	stats, err := r.deps.Store.UsageStats(req.Context(), store.UsageFilter{
		TenantID: tenantFrom(req.Context()).ID,
		AgentID:  agentID,
		Start:    start,
		End:      end,
	})
	if err != nil {
		r.writeStoreError(w, "usage stats", err)
		return
	}
	average := 0.0
	if stats.TotalRequests > 0 {
		average = stats.TotalProcessingTime / float64(stats.TotalRequests)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start_date":              start.Format(time.RFC3339),
		"end_date":                end.Format(time.RFC3339),
		"agent_id":                agentID,
		"total_requests":          stats.TotalRequests,
		"total_processing_time":   stats.TotalProcessingTime,
		"average_processing_time": average,
		"success_count":           stats.SuccessCount,
		"error_count":             stats.ErrorCount,
		"success_rate":            stats.SuccessRate,
	})
}

func (r *router) handleUsageLogs(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	logs, err := r.deps.Store.ListUsageLogs(req.Context(), store.UsageFilter{
		TenantID: tenantFrom(req.Context()).ID,
		AgentID:  query.Get("agent_id"),
		Status:   query.Get("status"),
		Limit:    queryLimit(req, 100),
	})
	if err != nil {
		r.writeStoreError(w, "list usage logs", err)
		return
	}
	items := make([]map[string]any, 0, len(logs))
	for _, entry := range logs {
		items = append(items, usageLogPayload(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// handleDashboard summarises the last 24 hours for the calling tenant.
func (r *router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	tenant := tenantFrom(req.Context())
	since := time.Now().UTC().Add(-24 * time.Hour)
	stats, err := r.deps.Store.UsageStats(req.Context(), store.UsageFilter{TenantID: tenant.ID, Start: since})
	if err != nil {
		r.writeStoreError(w, "dashboard stats", err)
		return
	}
	top, err := r.deps.Store.TopAgents(req.Context(), tenant.ID, since, 5)
	if err != nil {
		r.writeStoreError(w, "dashboard top agents", err)
		return
	}
	agents, err := r.deps.Store.ListAgentsForTenant(req.Context(), tenant.ID, true)
	if err != nil {
		r.writeStoreError(w, "dashboard agents", err)
		return
	}
	topAgents := make([]map[string]any, 0, len(top))
	for _, usage := range top {
		topAgents = append(topAgents, map[string]any{
			"agent_id":   usage.AgentID,
			"agent_name": usage.AgentName,
			"requests":   usage.Requests,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":         map[string]string{"id": tenant.ID, "name": tenant.Name},
		"period_hours":   24,
		"total_requests": stats.TotalRequests,
		"success_count":  stats.SuccessCount,
		"error_count":    stats.ErrorCount,
		"success_rate":   stats.SuccessRate,
		"active_agents":  len(agents),
		"top_agents":     topAgents,
	})
}
