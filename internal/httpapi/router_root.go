package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/config"
	"github.com/dwizi/agent-orchestrator/internal/events"
	"github.com/dwizi/agent-orchestrator/internal/gateway"
	"github.com/dwizi/agent-orchestrator/internal/heartbeat"
	"github.com/dwizi/agent-orchestrator/internal/metrics"
	"github.com/dwizi/agent-orchestrator/internal/ratelimit"
	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type MessageGateway interface {
	ProcessMessage(ctx context.Context, input gateway.ProcessInput) (gateway.ProcessResult, error)
	HandleWebhook(ctx context.Context, path, secret string, payload map[string]any) (gateway.WebhookResult, error)
}

// Dependencies holds everything the router serves from. Limiter, Metrics,
// Events, LINE and Heartbeat are optional.
type Dependencies struct {
	Config              config.Config
	Version             string
	Store               *store.Store
	Gateway             MessageGateway
	Limiter             ratelimit.Limiter
	Metrics             *metrics.Metrics
	Events              *events.Hub
	LINE                http.Handler
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	rt := &router{deps: deps}

	root := mux.NewRouter()
	root.Use(rt.instrument)
	root.NotFoundHandler = http.HandlerFunc(rt.handleNotFound)
	root.MethodNotAllowedHandler = http.HandlerFunc(rt.handleMethodNotAllowed)

	root.HandleFunc("/", rt.handleRoot).Methods(http.MethodGet)
	root.HandleFunc("/healthz", rt.handleHealth).Methods(http.MethodGet)
	root.HandleFunc("/readyz", rt.handleReady).Methods(http.MethodGet)
	root.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat).Methods(http.MethodGet)
	root.HandleFunc("/api/v1/info", rt.handleInfo).Methods(http.MethodGet)
	if deps.Metrics != nil {
		root.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	root.HandleFunc("/callback/line", rt.handleLINE).Methods(http.MethodPost)
	root.HandleFunc("/api/v1/hooks/{path}", rt.handleInboundHook).Methods(http.MethodPost)
	root.HandleFunc("/api/v1/events/ws", rt.handleEvents).Methods(http.MethodGet)

	api := root.PathPrefix("/api/v1").Subrouter()
	api.Use(rt.authenticate, rt.limit)
	api.HandleFunc("/process", rt.handleProcess).Methods(http.MethodPost)

	api.HandleFunc("/agents", rt.handleAgentsList).Methods(http.MethodGet)
	api.HandleFunc("/agents", rt.handleAgentsCreate).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}", rt.handleAgentGet).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", rt.handleAgentUpdate).Methods(http.MethodPut)
	api.HandleFunc("/agents/{id}", rt.handleAgentDelete).Methods(http.MethodDelete)
	api.HandleFunc("/agents/{id}/templates", rt.handleTemplatesList).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}/templates", rt.handleTemplatesCreate).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/training-data", rt.handleTrainingList).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}/training-data", rt.handleTrainingCreate).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/prompt", rt.handlePromptUpdate).Methods(http.MethodPut)

	api.HandleFunc("/usage/stats", rt.handleUsageStats).Methods(http.MethodGet)
	api.HandleFunc("/usage/logs", rt.handleUsageLogs).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", rt.handleDashboard).Methods(http.MethodGet)

	api.HandleFunc("/webhooks", rt.handleWebhooksList).Methods(http.MethodGet)
	api.HandleFunc("/webhooks", rt.handleWebhooksCreate).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/{id}", rt.handleWebhookGet).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id}", rt.handleWebhookUpdate).Methods(http.MethodPut)
	api.HandleFunc("/webhooks/{id}", rt.handleWebhookDelete).Methods(http.MethodDelete)

	api.HandleFunc("/endpoints", rt.handleEndpointsList).Methods(http.MethodGet)
	api.HandleFunc("/endpoints", rt.handleEndpointsCreate).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}", rt.handleEndpointDelete).Methods(http.MethodDelete)
	api.HandleFunc("/endpoints/{id}/logs", rt.handleEndpointLogs).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: splitCSV(deps.Config.CORSAllowedOriginsCSV),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", apiKeyHeader, webhookSecretHeader},
	}).Handler(root)
}

func (r *router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "running",
		"version": r.version(),
	})
}

func (r *router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *router) handleMethodNotAllowed(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *router) version() string {
	if strings.TrimSpace(r.deps.Version) == "" {
		return "dev"
	}
	return r.deps.Version
}

func splitCSV(raw string) []string {
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return []string{"*"}
	}
	return values
}
