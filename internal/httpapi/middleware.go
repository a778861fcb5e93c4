package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/ratelimit"
	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/gorilla/mux"
)

const (
	apiKeyHeader        = "X-API-Key"
	webhookSecretHeader = "X-Webhook-Secret"
)

type tenantContextKey struct{}

func withTenant(ctx context.Context, tenant store.Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

func tenantFrom(ctx context.Context) store.Tenant {
	tenant, _ := ctx.Value(tenantContextKey{}).(store.Tenant)
	return tenant
}

// authenticate resolves the X-API-Key header to an active tenant.
func (r *router) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tenant, status, message := r.resolveAPIKey(req.Context(), req.Header.Get(apiKeyHeader))
		if status != 0 {
			writeError(w, status, message)
			return
		}
		next.ServeHTTP(w, req.WithContext(withTenant(req.Context(), tenant)))
	})
}

func (r *router) resolveAPIKey(ctx context.Context, apiKey string) (store.Tenant, int, string) {
	if strings.TrimSpace(apiKey) == "" {
		return store.Tenant{}, http.StatusUnauthorized, "API Key is required"
	}
	tenant, err := r.deps.Store.LookupTenantByAPIKey(ctx, apiKey)
	if errors.Is(err, store.ErrTenantNotFound) {
		return store.Tenant{}, http.StatusUnauthorized, "Invalid API Key"
	}
	if err != nil {
		r.deps.Logger.Error("api key lookup failed", "error", err)
		return store.Tenant{}, http.StatusInternalServerError, "authentication unavailable"
	}
	return tenant, 0, ""
}

// limit applies the per-tenant request budget to authenticated routes.
func (r *router) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.allow(w, req, "tenant:"+tenantFrom(req.Context()).ID) {
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *router) allow(w http.ResponseWriter, req *http.Request, key string) bool {
	err := r.deps.Limiter.Allow(req.Context(), key)
	if err == nil {
		return true
	}
	if errors.Is(err, ratelimit.ErrLimited) {
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveRateLimited()
		}
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	r.deps.Logger.Warn("rate limiter failed, allowing request", "key", key, "error", err)
	return true
}

// instrument records request counts and latency labelled by route template.
func (r *router) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.deps.Metrics == nil {
			next.ServeHTTP(w, req)
			return
		}
		route := ""
		if current := mux.CurrentRoute(req); current != nil {
			route, _ = current.GetPathTemplate()
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(recorder, req)
		r.deps.Metrics.ObserveHTTPRequest(route, req.Method, recorder.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
