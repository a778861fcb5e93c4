package httpapi

import (
	"net/http"

	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/gorilla/mux"
)

type webhookRequest struct {
	Name    *string           `json:"name"`
	URL     *string           `json:"url"`
	Events  []string          `json:"events"`
	Headers map[string]string `json:"headers"`
	Status  *string           `json:"status"`
}

func webhookPayload(webhook store.Webhook) map[string]any {
	events := webhook.Events
	if events == nil {
		events = []string{}
	}
	headers := webhook.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return map[string]any{
		"id":              webhook.ID,
		"name":            webhook.Name,
		"url":             webhook.URL,
		"events":          events,
		"headers":         headers,
		"status":          webhook.Status,
		"created_at_unix": unix(webhook.CreatedAt),
		"updated_at_unix": unix(webhook.UpdatedAt),
	}
}

func (r *router) handleWebhooksList(w http.ResponseWriter, req *http.Request) {
	webhooks, err := r.deps.Store.ListWebhooks(req.Context(), tenantFrom(req.Context()).ID)
	if err != nil {
		r.writeStoreError(w, "list webhooks", err)
		return
	}
	items := make([]map[string]any, 0, len(webhooks))
	for _, webhook := range webhooks {
		items = append(items, webhookPayload(webhook))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (r *router) handleWebhooksCreate(w http.ResponseWriter, req *http.Request) {
	var payload webhookRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	input := store.CreateWebhookInput{
		TenantID: tenantFrom(req.Context()).ID,
		Events:   payload.Events,
		Headers:  payload.Headers,
	}
	if payload.Name != nil {
		input.Name = *payload.Name
	}
	if payload.URL != nil {
		input.URL = *payload.URL
	}
	if payload.Status != nil {
		input.Status = *payload.Status
	}
	webhook, err := r.deps.Store.CreateWebhook(req.Context(), input)
	if err != nil {
		r.writeStoreError(w, "create webhook", err)
		return
	}
	writeJSON(w, http.StatusCreated, webhookPayload(webhook))
}

func (r *router) handleWebhookGet(w http.ResponseWriter, req *http.Request) {
	webhook, err := r.deps.Store.LookupWebhook(req.Context(), tenantFrom(req.Context()).ID, mux.Vars(req)["id"])
	if err != nil {
		r.writeStoreError(w, "lookup webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, webhookPayload(webhook))
}

func (r *router) handleWebhookUpdate(w http.ResponseWriter, req *http.Request) {
	var payload webhookRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	webhook, err := r.deps.Store.UpdateWebhook(req.Context(), store.UpdateWebhookInput{
		TenantID: tenantFrom(req.Context()).ID,
		ID:       mux.Vars(req)["id"],
		Name:     payload.Name,
		URL:      payload.URL,
		Events:   payload.Events,
		Headers:  payload.Headers,
		Status:   payload.Status,
	})
	if err != nil {
		r.writeStoreError(w, "update webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, webhookPayload(webhook))
}

func (r *router) handleWebhookDelete(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := r.deps.Store.DeleteWebhook(req.Context(), tenantFrom(req.Context()).ID, id); err != nil {
		r.writeStoreError(w, "delete webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
