package app

import (
	"log/slog"
	"net/http"

	"github.com/dwizi/agent-orchestrator/internal/archive"
	"github.com/dwizi/agent-orchestrator/internal/config"
	"github.com/dwizi/agent-orchestrator/internal/connectors"
	"github.com/dwizi/agent-orchestrator/internal/gateway"
	"github.com/dwizi/agent-orchestrator/internal/heartbeat"
	"github.com/dwizi/agent-orchestrator/internal/scheduler"
	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/dwizi/agent-orchestrator/internal/watcher"
	"github.com/dwizi/agent-orchestrator/internal/webhooks"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	archive          archive.Archive
	closeLimiter     func() error
	gateway          *gateway.Service
	webhooks         *webhooks.Dispatcher
	httpServer       *http.Server
	watcher          *watcher.Service
	scheduler        *scheduler.Service
	connectors       []connectors.Connector
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

type heartbeatAware interface {
	SetHeartbeatReporter(reporter heartbeat.Reporter)
}
