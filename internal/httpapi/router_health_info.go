package httpapi

import "net/http"

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady fails only when the store is unreachable; degraded components
// are listed but do not take the instance out of rotation.
func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	payload := map[string]any{"status": "ready"}
	if r.deps.Heartbeat != nil {
		if degraded := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter).Degraded(); len(degraded) > 0 {
			payload["degraded"] = degraded
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter))
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	cfg := r.deps.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                  "agent-orchestrator",
		"version":               r.version(),
		"environment":           cfg.Environment,
		"public_host":           cfg.PublicHost,
		"db_driver":             cfg.DBDriver,
		"llm_model":             cfg.LLMModel,
		"classifier_enabled":    cfg.ClassifierEnabled,
		"line_enabled":          r.deps.LINE != nil,
		"events_enabled":        r.deps.Events != nil,
		"archive_enabled":       cfg.MongoURI != "",
		"rate_limit_per_minute": cfg.RateLimitPerMinute,
	})
}

func (r *router) handleLINE(w http.ResponseWriter, req *http.Request) {
	if r.deps.LINE == nil {
		writeError(w, http.StatusServiceUnavailable, "LINE channel is not configured")
		return
	}
	r.deps.LINE.ServeHTTP(w, req)
}

// handleEvents accepts the API key as a header or, for browsers, as the
// api_key query parameter.
func (r *router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if r.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is disabled")
		return
	}
	apiKey := req.Header.Get(apiKeyHeader)
	if apiKey == "" {
		apiKey = req.URL.Query().Get("api_key")
	}
	tenant, status, message := r.resolveAPIKey(req.Context(), apiKey)
	if status != 0 {
		writeError(w, status, message)
		return
	}
	r.deps.Events.ServeWS(w, req, tenant.ID)
}
