// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/heartbeat"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSpec          = "@daily"
	DefaultRetentionDays = 90
	componentName        = "scheduler"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Store interface {
	PruneUsageLogs(ctx context.Context, before time.Time) (int64, error)
}

type Service struct {
	store     Store
	spec      string
	retention time.Duration
	logger    *slog.Logger
	reporter  heartbeat.Reporter
	now       func() time.Time
}

// New prunes usage logs older than retentionDays on spec. A non-positive
// retention disables the job.
func New(store Store, spec string, retentionDays int, logger *slog.Logger) *Service {
	spec = strings.Join(strings.Fields(spec), " ")
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		spec:      spec,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// NextRun reports when spec fires next after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}

func (s *Service) Start(ctx context.Context) error {
	if s.store == nil || s.retention <= 0 {
		if s.reporter != nil {
			s.reporter.Disabled(componentName, "usage retention disabled")
		}
		s.logger.Info("scheduler disabled", "retention", s.retention.String())
		<-ctx.Done()
		return nil
	}
	runner := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	if _, err := runner.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("usage retention failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule usage retention %q: %w", s.spec, err)
	}
	if s.reporter != nil {
		s.reporter.Starting(componentName, "started")
		s.reporter.Beat(componentName, "retention scheduled")
	}
	runner.Start()
	s.logger.Info("scheduler started", "spec", s.spec, "retention", s.retention.String())

	<-ctx.Done()
	<-runner.Stop().Done()
	if s.reporter != nil {
		s.reporter.Stopped(componentName, "stopped")
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce deletes usage logs older than the retention window.
func (s *Service) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	removed, err := s.store.PruneUsageLogs(ctx, cutoff)
	if err != nil {
		if s.reporter != nil {
			s.reporter.Degrade(componentName, "usage retention failed", err)
		}
		return 0, fmt.Errorf("prune usage logs: %w", err)
	}
	if s.reporter != nil {
		s.reporter.Beat(componentName, fmt.Sprintf("pruned %d usage logs", removed))
	}
	s.logger.Info("usage logs pruned", "removed", removed, "before", cutoff.Format(time.RFC3339))
	return removed, nil
}
