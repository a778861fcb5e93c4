package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/agent-orchestrator/internal/heartbeat"
)

const shutdownGrace = 10 * time.Second

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("agent-orchestrator starting", "addr", r.cfg.HTTPAddr, "db_driver", r.cfg.DBDriver)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "webhooks", componentBeatEvery, r.webhooks.Start)
	})
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "scheduler", componentBeatEvery, r.scheduler.Start)
	})
	if r.watcher != nil {
		group.Go(func() error {
			return runMonitored(groupCtx, r.heartbeat, catalogComponent, componentBeatEvery, r.watcher.Start)
		})
	}
	for _, conn := range r.connectors {
		connector := conn
		group.Go(func() error {
			componentName := "connector:" + strings.ToLower(strings.TrimSpace(connector.Name()))
			return runMonitored(groupCtx, r.heartbeat, componentName, componentBeatEvery, connector.Start)
		})
	}
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "api", componentBeatEvery, func(runCtx context.Context) error {
			err := r.httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	})
	if r.heartbeatMonitor != nil {
		group.Go(func() error {
			return r.heartbeatMonitor.Start(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	r.logger.Info("agent-orchestrator stopped")
	return err
}

func (r *Runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if r.archive != nil {
		if err := r.archive.Close(ctx); err != nil {
			r.logger.Warn("close archive", "error", err)
		}
	}
	if r.closeLimiter != nil {
		if err := r.closeLimiter(); err != nil {
			r.logger.Warn("close rate limiter", "error", err)
		}
	}
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// runMonitored reports the component's lifecycle to the registry. While it
// runs, healthy components are touched every beatInterval so they do not go
// stale; states the component reports itself are left alone.
func runMonitored(
	ctx context.Context,
	registry *heartbeat.Registry,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if registry != nil {
		registry.Starting(component, "starting")
		registry.Beat(component, "running")
	}

	var stopHeartbeat func()
	if registry != nil && beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		stopHeartbeat = cancel
		go func() {
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					registry.Touch(component)
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if registry == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		registry.Degrade(component, "component failed", err)
		return err
	}
	registry.Stopped(component, "stopped")
	return err
}
