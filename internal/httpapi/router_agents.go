package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/gorilla/mux"
)

type agentRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Type        *string  `json:"type"`
	Endpoint    string   `json:"endpoint"`
	Keywords    []string `json:"keywords"`
	Status      *string  `json:"status"`
	Template    *string  `json:"template"`
}

func agentPayload(agent store.Agent) map[string]any {
	keywords := agent.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return map[string]any{
		"id":              agent.ID,
		"name":            agent.Name,
		"description":     agent.Description,
		"type":            agent.Type,
		"endpoint":        agent.Endpoint,
		"keywords":        keywords,
		"status":          agent.Status,
		"created_at_unix": unix(agent.CreatedAt),
		"updated_at_unix": unix(agent.UpdatedAt),
	}
}

func templatePayload(template store.Template) map[string]any {
	return map[string]any{
		"id":              template.ID,
		"agent_id":        template.AgentID,
		"name":            template.Name,
		"content":         template.Content,
		"is_default":      template.IsDefault,
		"created_at_unix": unix(template.CreatedAt),
		"updated_at_unix": unix(template.UpdatedAt),
	}
}

func examplePayload(example store.TrainingExample) map[string]any {
	return map[string]any{
		"id":              example.ID,
		"agent_id":        example.AgentID,
		"input":           example.Input,
		"output":          example.Output,
		"description":     example.Description,
		"active":          example.Active,
		"created_at_unix": unix(example.CreatedAt),
	}
}

// permittedAgent loads the agent named in the route and writes 403 when the
// calling tenant has no permission for it.
func (r *router) permittedAgent(w http.ResponseWriter, req *http.Request) (store.Agent, bool) {
	tenant := tenantFrom(req.Context())
	agentID := mux.Vars(req)["id"]
	allowed, err := r.deps.Store.HasPermission(req.Context(), tenant.ID, agentID)
	if err != nil {
		r.writeStoreError(w, "check permission", err)
		return store.Agent{}, false
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "You don't have permission to access this agent")
		return store.Agent{}, false
	}
	agent, err := r.deps.Store.LookupAgent(req.Context(), agentID)
	if err != nil {
		r.writeStoreError(w, "lookup agent", err)
		return store.Agent{}, false
	}
	return agent, true
}

func (r *router) handleAgentsList(w http.ResponseWriter, req *http.Request) {
	tenant := tenantFrom(req.Context())
	activeOnly := req.URL.Query().Get("status") == store.StatusActive
	agents, err := r.deps.Store.ListAgentsForTenant(req.Context(), tenant.ID, activeOnly)
	if err != nil {
		r.writeStoreError(w, "list agents", err)
		return
	}
	items := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		items = append(items, agentPayload(agent))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (r *router) handleAgentsCreate(w http.ResponseWriter, req *http.Request) {
	var payload agentRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	input := store.CreateAgentInput{
		TenantID: tenantFrom(req.Context()).ID,
		Endpoint: payload.Endpoint,
		Keywords: payload.Keywords,
	}
	if payload.Name != nil {
		input.Name = *payload.Name
	}
	if payload.Description != nil {
		input.Description = *payload.Description
	}
	if payload.Type != nil {
		input.Type = *payload.Type
	}
	if payload.Status != nil {
		input.Status = *payload.Status
	}
	if payload.Template != nil {
		input.TemplateContent = *payload.Template
	}
	agent, err := r.deps.Store.CreateAgent(req.Context(), input)
	if err != nil {
		r.writeStoreError(w, "create agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, agentPayload(agent))
}

func (r *router) handleAgentGet(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	payload := agentPayload(agent)
	template, err := r.deps.Store.DefaultTemplate(req.Context(), agent.ID)
	switch {
	case err == nil:
		payload["template"] = template.Content
	case !errors.Is(err, store.ErrTemplateNotFound):
		r.writeStoreError(w, "load default template", err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *router) handleAgentUpdate(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	var payload agentRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	updated, err := r.deps.Store.UpdateAgent(req.Context(), store.UpdateAgentInput{
		ID:              agent.ID,
		Name:            payload.Name,
		Description:     payload.Description,
		Type:            payload.Type,
		Keywords:        payload.Keywords,
		Status:          payload.Status,
		TemplateContent: payload.Template,
	})
	if err != nil {
		r.writeStoreError(w, "update agent", err)
		return
	}
	writeJSON(w, http.StatusOK, agentPayload(updated))
}

// handleAgentDelete removes the agent only when the caller is its sole
// grantee. A shared agent just loses the caller's permission.
func (r *router) handleAgentDelete(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	grantees, err := r.deps.Store.CountGrantees(req.Context(), agent.ID)
	if err != nil {
		r.writeStoreError(w, "count agent grantees", err)
		return
	}
	if grantees > 1 {
		tenant := tenantFrom(req.Context())
		if err := r.deps.Store.RevokePermission(req.Context(), tenant.ID, agent.ID); err != nil {
			r.writeStoreError(w, "revoke agent permission", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": agent.ID, "deleted": false, "revoked": true})
		return
	}
	if err := r.deps.Store.DeleteAgent(req.Context(), agent.ID); err != nil {
		r.writeStoreError(w, "delete agent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": agent.ID, "deleted": true})
}

func (r *router) handleTemplatesList(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	templates, err := r.deps.Store.ListTemplates(req.Context(), agent.ID)
	if err != nil {
		r.writeStoreError(w, "list templates", err)
		return
	}
	items := make([]map[string]any, 0, len(templates))
	for _, template := range templates {
		items = append(items, templatePayload(template))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type templateRequest struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	IsDefault bool   `json:"is_default"`
}

func (r *router) handleTemplatesCreate(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	var payload templateRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	template, err := r.deps.Store.CreateTemplate(req.Context(), store.CreateTemplateInput{
		AgentID:   agent.ID,
		Name:      payload.Name,
		Content:   payload.Content,
		IsDefault: payload.IsDefault,
	})
	if err != nil {
		r.writeStoreError(w, "create template", err)
		return
	}
	writeJSON(w, http.StatusCreated, templatePayload(template))
}

func (r *router) handleTrainingList(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	examples, err := r.deps.Store.ListTrainingExamples(req.Context(), store.ListTrainingExamplesInput{
		AgentID:    agent.ID,
		ActiveOnly: req.URL.Query().Get("active") == "true",
		Limit:      queryLimit(req, 100),
	})
	if err != nil {
		r.writeStoreError(w, "list training data", err)
		return
	}
	items := make([]map[string]any, 0, len(examples))
	for _, example := range examples {
		items = append(items, examplePayload(example))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type trainingRequest struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

func (r *router) handleTrainingCreate(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	var payload trainingRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	example, err := r.deps.Store.AddTrainingExample(req.Context(), store.AddTrainingExampleInput{
		AgentID:     agent.ID,
		Input:       payload.Input,
		Output:      payload.Output,
		Description: payload.Description,
		Inactive:    payload.Active != nil && !*payload.Active,
	})
	if err != nil {
		r.writeStoreError(w, "add training data", err)
		return
	}
	writeJSON(w, http.StatusCreated, examplePayload(example))
}

type promptRequest struct {
	Content string `json:"content"`
}

// handlePromptUpdate rewrites the agent's default template in place.
func (r *router) handlePromptUpdate(w http.ResponseWriter, req *http.Request) {
	agent, ok := r.permittedAgent(w, req)
	if !ok {
		return
	}
	var payload promptRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	template, err := r.deps.Store.UpdateDefaultTemplateContent(req.Context(), agent.ID, payload.Content)
	if err != nil {
		r.writeStoreError(w, "update prompt", err)
		return
	}
	writeJSON(w, http.StatusOK, templatePayload(template))
}
