package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/gateway"
	"github.com/dwizi/agent-orchestrator/internal/ratelimit"
	"github.com/dwizi/agent-orchestrator/internal/store"
)

const maxRequestBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps sentinel errors to a status code. Unexpected errors
// are logged and reported as 500.
func (r *router) writeStoreError(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		r.deps.Logger.Error(action+" failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, gateway.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrInvalidSecret):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrAgentNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, store.ErrTenantNotFound),
		errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, store.ErrTemplateNotFound),
		errors.Is(err, store.ErrWebhookNotFound),
		errors.Is(err, store.ErrEndpointNotFound),
		errors.Is(err, store.ErrPermissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateEndpoint):
		return http.StatusConflict
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into payload and writes 400 on failure.
func decodeJSON(w http.ResponseWriter, req *http.Request, payload any) bool {
	decoder := json.NewDecoder(io.LimitReader(req.Body, maxRequestBody))
	if err := decoder.Decode(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func queryLimit(req *http.Request, fallback int) int {
	raw := strings.TrimSpace(req.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// parseDate accepts YYYY-MM-DD or RFC3339. endOfDay moves a bare date to its
// last second.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		parsed = parsed.Add(24*time.Hour - time.Second)
	}
	return parsed.UTC(), nil
}

func unix(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.Unix()
}
