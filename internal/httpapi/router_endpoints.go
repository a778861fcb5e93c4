package httpapi

import (
	"net/http"

	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/gorilla/mux"
)

type endpointRequest struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	AgentID string `json:"agent_id"`
	Secret  string `json:"secret"`
}

// endpointPayload includes the secret only when it is first created.
func endpointPayload(endpoint store.Endpoint, withSecret bool) map[string]any {
	payload := map[string]any{
		"id":              endpoint.ID,
		"name":            endpoint.Name,
		"path":            endpoint.Path,
		"url":             "/api/v1/hooks/" + endpoint.Path,
		"agent_id":        endpoint.AgentID,
		"active":          endpoint.Active,
		"created_at_unix": unix(endpoint.CreatedAt),
	}
	if withSecret {
		payload["secret"] = endpoint.Secret
	}
	return payload
}

func (r *router) handleEndpointsList(w http.ResponseWriter, req *http.Request) {
	endpoints, err := r.deps.Store.ListEndpoints(req.Context(), tenantFrom(req.Context()).ID)
	if err != nil {
		r.writeStoreError(w, "list endpoints", err)
		return
	}
	items := make([]map[string]any, 0, len(endpoints))
	for _, endpoint := range endpoints {
		items = append(items, endpointPayload(endpoint, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (r *router) handleEndpointsCreate(w http.ResponseWriter, req *http.Request) {
	var payload endpointRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	endpoint, err := r.deps.Store.CreateEndpoint(req.Context(), store.CreateEndpointInput{
		TenantID: tenantFrom(req.Context()).ID,
		AgentID:  payload.AgentID,
		Name:     payload.Name,
		Path:     payload.Path,
		Secret:   payload.Secret,
	})
	if err != nil {
		r.writeStoreError(w, "create endpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, endpointPayload(endpoint, true))
}

func (r *router) handleEndpointDelete(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := r.deps.Store.DeleteEndpoint(req.Context(), tenantFrom(req.Context()).ID, id); err != nil {
		r.writeStoreError(w, "delete endpoint", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (r *router) handleEndpointLogs(w http.ResponseWriter, req *http.Request) {
	endpoint, err := r.deps.Store.LookupEndpoint(req.Context(), tenantFrom(req.Context()).ID, mux.Vars(req)["id"])
	if err != nil {
		r.writeStoreError(w, "lookup endpoint", err)
		return
	}
	logs, err := r.deps.Store.ListEndpointLogs(req.Context(), endpoint.ID, queryLimit(req, 50))
	if err != nil {
		r.writeStoreError(w, "list endpoint logs", err)
		return
	}
	items := make([]map[string]any, 0, len(logs))
	for _, entry := range logs {
		items = append(items, map[string]any{
			"id":              entry.ID,
			"request_data":    entry.RequestData,
			"response_data":   entry.ResponseData,
			"status_code":     entry.StatusCode,
			"created_at_unix": unix(entry.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}
