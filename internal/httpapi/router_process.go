package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dwizi/agent-orchestrator/internal/gateway"
	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/gorilla/mux"
)

type processRequest struct {
	Message string         `json:"message"`
	AgentID string         `json:"agent_id"`
	Context map[string]any `json:"context"`
}

func (r *router) handleProcess(w http.ResponseWriter, req *http.Request) {
	var payload processRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	tenant := tenantFrom(req.Context())

	values := map[string]any{}
	userID := ""
	for key, value := range payload.Context {
		if key == "user_id" {
			userID, _ = value.(string)
			continue
		}
		values[key] = value
	}

	result, err := r.deps.Gateway.ProcessMessage(req.Context(), gateway.ProcessInput{
		TenantID:    tenant.ID,
		Message:     payload.Message,
		Context:     values,
		UserID:      userID,
		AgentHint:   payload.AgentID,
		RequestType: gateway.RequestTypeProcessMessage,
		Source:      "api",
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleInboundHook serves POST /api/v1/hooks/{path}. The endpoint secret
// stands in for the API key. Only known endpoints get a rate-limit bucket.
func (r *router) handleInboundHook(w http.ResponseWriter, req *http.Request) {
	path := mux.Vars(req)["path"]
	endpoint, err := r.deps.Store.LookupEndpointByPath(req.Context(), path)
	if errors.Is(err, store.ErrEndpointNotFound) {
		writeError(w, http.StatusNotFound, "webhook endpoint not found")
		return
	}
	if err != nil {
		r.writeStoreError(w, "lookup endpoint", err)
		return
	}
	if !r.allow(w, req, "hook:"+endpoint.ID) {
		return
	}
	payload := map[string]any{}
	if !decodeJSON(w, req, &payload) {
		return
	}
	outcome, err := r.deps.Gateway.HandleWebhook(req.Context(), path, req.Header.Get(webhookSecretHeader), payload)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "webhook endpoint not found")
			return
		}
		writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"endpoint_id": outcome.Endpoint.ID,
		"result":      outcome.Result,
	})
}
