package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "agent_orchestrator_test.sqlite")
	sqlStore, err := New(DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return sqlStore
}

func fixedClock(sqlStore *Store, start time.Time) func(time.Duration) {
	current := start
	sqlStore.now = func() time.Time { return current }
	return func(step time.Duration) { current = current.Add(step) }
}

func TestAutoMigrateIsRepeatable(t *testing.T) {
	sqlStore := newTestStore(t)
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("second migration: %v", err)
	}
	if err := sqlStore.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNewRejectsUnknownDriverAndEmptyDSN(t *testing.T) {
	if _, err := New("postgres", "postgres://localhost/db"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown driver, got %v", err)
	}
	if _, err := New(DriverSQLite, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty dsn, got %v", err)
	}
}

func TestSuccessRate(t *testing.T) {
	if got := SuccessRate(0, 0); got != 0 {
		t.Fatalf("expected 0 for no requests, got %v", got)
	}
	if got := SuccessRate(3, 4); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
}
