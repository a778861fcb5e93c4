package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/archive"
	"github.com/dwizi/agent-orchestrator/internal/config"
	"github.com/dwizi/agent-orchestrator/internal/connectors"
	"github.com/dwizi/agent-orchestrator/internal/connectors/line"
	"github.com/dwizi/agent-orchestrator/internal/events"
	"github.com/dwizi/agent-orchestrator/internal/gateway"
	"github.com/dwizi/agent-orchestrator/internal/heartbeat"
	"github.com/dwizi/agent-orchestrator/internal/httpapi"
	"github.com/dwizi/agent-orchestrator/internal/llm/openai"
	"github.com/dwizi/agent-orchestrator/internal/metrics"
	"github.com/dwizi/agent-orchestrator/internal/ratelimit"
	"github.com/dwizi/agent-orchestrator/internal/routing"
	"github.com/dwizi/agent-orchestrator/internal/scheduler"
	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/dwizi/agent-orchestrator/internal/subagents"
	"github.com/dwizi/agent-orchestrator/internal/watcher"
	"github.com/dwizi/agent-orchestrator/internal/webhooks"
)

const (
	heartbeatInterval   = 30 * time.Second
	heartbeatStaleAfter = 2 * time.Minute
	componentBeatEvery  = 20 * time.Second
	connectTimeout      = 10 * time.Second
)

// OpenStore opens and migrates the configured relational store. For SQLite
// the parent directory is created first.
func OpenStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	if cfg.DBDriver == store.DriverSQLite && cfg.DBDSN != "" && !strings.HasPrefix(cfg.DBDSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBDSN), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	sqlStore, err := store.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(ctx); err != nil {
		sqlStore.Close()
		return nil, err
	}
	return sqlStore, nil
}

func New(cfg config.Config, logger *slog.Logger, version string) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	sqlStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runtime := &Runtime{
		cfg:       cfg,
		logger:    logger,
		store:     sqlStore,
		archive:   archive.Nop{},
		heartbeat: heartbeat.NewRegistry(),
	}

	if cfg.MongoURI != "" {
		mongoArchive, err := archive.Connect(ctx, archive.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDBName,
		}, logger.With("component", "archive"))
		if err != nil {
			logger.Warn("document archive unavailable, continuing without it", "error", err)
		} else {
			runtime.archive = mongoArchive
		}
	}

	limiter, closeLimiter, err := ratelimit.New(ctx, cfg.RedisURL, cfg.RateLimitPerMinute, logger.With("component", "ratelimit"))
	if err != nil {
		logger.Warn("redis rate limiter unavailable, using in-process limiter", "error", err)
		limiter = ratelimit.NewMemory(cfg.RateLimitPerMinute, ratelimit.DefaultWindow)
		closeLimiter = func() error { return nil }
	}
	runtime.closeLimiter = closeLimiter

	collectors := metrics.New()
	completer := openai.New(openai.Config{
		APIKey:       cfg.LLMAPIKey,
		BaseURL:      cfg.LLMBaseURL,
		Model:        cfg.LLMModel,
		Temperature:  cfg.LLMTemperature,
		MaxTokens:    cfg.LLMMaxTokens,
		Timeout:      time.Duration(cfg.LLMTimeoutSec) * time.Second,
		SystemPrompt: cfg.LLMSystemPrompt,
	}, logger.With("component", "llm-openai"))

	var classifier gateway.Classifier
	if cfg.ClassifierEnabled {
		classifier = routing.NewClassifier(completer.WithModel(cfg.ClassifierModel), "")
	}

	handlers := subagents.NewRegistry()
	handlers.Register(subagents.CivicServiceType, subagents.NewCivicService(completer, runtime.archive, logger.With("component", "civic-service")))

	runtime.webhooks = webhooks.NewDispatcher(
		sqlStore,
		webhooks.NewSender(time.Duration(cfg.WebhookTimeoutSec)*time.Second),
		webhooks.Config{Workers: cfg.WebhookWorkers, QueueSize: cfg.WebhookQueueSize},
		logger.With("component", "webhooks"),
	)
	runtime.webhooks.SetRecorder(collectors)

	var hub *events.Hub
	deps := gateway.Dependencies{
		Store:      sqlStore,
		LLM:        completer,
		Classifier: classifier,
		Handlers:   handlers,
		Webhooks:   runtime.webhooks,
		Archive:    runtime.archive,
		Metrics:    collectors,
		Logger:     logger.With("component", "gateway"),
	}
	if cfg.EventsEnabled {
		hub = events.NewHub(0, logger.With("component", "events"))
		deps.Events = hub
	}
	runtime.gateway = gateway.New(deps)

	lineConnector := line.New(line.Config{
		ChannelSecret:      cfg.LINEChannelSecret,
		ChannelAccessToken: cfg.LINEChannelAccessToken,
		APIBase:            cfg.LINEAPIBase,
		TenantID:           runtime.resolveLINETenant(ctx),
	}, runtime.gateway, logger.With("connector", line.ChannelName))
	runtime.connectors = []connectors.Connector{lineConnector}
	for _, connector := range runtime.connectors {
		if aware, ok := connector.(heartbeatAware); ok {
			aware.SetHeartbeatReporter(runtime.heartbeat)
		}
	}

	runtime.scheduler = scheduler.New(sqlStore, cfg.RetentionCron, cfg.UsageRetentionDays, logger.With("component", "scheduler"))
	runtime.scheduler.SetHeartbeatReporter(runtime.heartbeat)

	if cfg.CatalogPath != "" {
		if err := runtime.applyCatalog(ctx, cfg.CatalogPath); err != nil {
			logger.Error("agent catalog not applied", "path", cfg.CatalogPath, "error", err)
		}
		if cfg.CatalogWatch {
			catalogWatcher, err := watcher.New(cfg.CatalogPath, 0, logger.With("component", "watcher"), runtime.reloadCatalog)
			if err != nil {
				runtime.Close()
				return nil, err
			}
			runtime.watcher = catalogWatcher
		}
	}

	runtime.heartbeatMonitor = heartbeat.NewMonitor(runtime.heartbeat, heartbeat.MonitorConfig{
		Interval:   heartbeatInterval,
		StaleAfter: heartbeatStaleAfter,
		Logger:     logger.With("component", "heartbeat"),
	})

	var lineHandler http.Handler
	if lineConnector.Enabled() {
		lineHandler = lineConnector
	}
	router := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Version:             version,
		Store:               sqlStore,
		Gateway:             runtime.gateway,
		Limiter:             limiter,
		Metrics:             collectors,
		Events:              hub,
		LINE:                lineHandler,
		Logger:              logger.With("component", "httpapi"),
		Heartbeat:           runtime.heartbeat,
		HeartbeatStaleAfter: heartbeatStaleAfter,
	})
	runtime.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runtime, nil
}

// resolveLINETenant maps the configured LINE tenant id or name to a tenant
// id. An unknown tenant leaves the connector disabled.
func (r *Runtime) resolveLINETenant(ctx context.Context) string {
	ref := strings.TrimSpace(r.cfg.LINETenantID)
	if ref == "" {
		return ""
	}
	tenant, err := r.store.ResolveTenant(ctx, ref)
	if errors.Is(err, store.ErrTenantNotFound) {
		r.logger.Warn("LINE tenant not found, connector disabled", "tenant", ref)
		return ""
	}
	if err != nil {
		r.logger.Error("resolve LINE tenant failed", "tenant", ref, "error", err)
		return ""
	}
	return tenant.ID
}
