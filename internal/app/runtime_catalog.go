package app

import (
	"context"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/catalog"
)

const (
	catalogReloadTimeout = 30 * time.Second
	catalogComponent     = "watcher"
)

func (r *Runtime) applyCatalog(ctx context.Context, path string) error {
	parsed, err := catalog.Load(path)
	if err != nil {
		return err
	}
	result, err := catalog.Apply(ctx, r.store, parsed, r.logger.With("component", "catalog"))
	if err != nil {
		return err
	}
	if len(result.UnknownTenants) > 0 {
		r.logger.Warn("catalog references unknown tenants", "tenants", result.UnknownTenants)
	}
	return nil
}

// reloadCatalog runs on watcher events. A broken edit is logged and the
// previously applied agents stay in place.
func (r *Runtime) reloadCatalog(ctx context.Context, path string) {
	reloadCtx, cancel := context.WithTimeout(ctx, catalogReloadTimeout)
	defer cancel()
	if err := r.applyCatalog(reloadCtx, path); err != nil {
		r.logger.Error("catalog reload failed", "path", path, "error", err)
		if r.heartbeat != nil {
			r.heartbeat.Degrade(catalogComponent, "catalog reload failed", err)
		}
		return
	}
	if r.heartbeat != nil {
		r.heartbeat.Beat(catalogComponent, "catalog reloaded")
	}
}
