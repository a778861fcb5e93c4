package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"

	StatusActive   = "active"
	StatusInactive = "inactive"
)

var ErrInvalidInput = errors.New("invalid input")

type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

func New(driver, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DriverSQLite
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty %s dsn", ErrInvalidInput, driver)
	}

	switch driver {
	case DriverSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
		}
		return NewWithDB(db, DriverSQLite), nil
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		if _, ok := cfg.Params["charset"]; !ok {
			cfg.Params["charset"] = "utf8mb4"
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		return NewWithDB(db, DriverMySQL), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, driver)
	}
}

// NewWithDB wraps an already opened handle. AutoMigrate is not run.
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			api_key VARCHAR(128) NOT NULL UNIQUE,
			status VARCHAR(16) NOT NULL,
			created_at_unix BIGINT NOT NULL,
			updated_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			username VARCHAR(255) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			created_at_unix BIGINT NOT NULL,
			updated_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			type VARCHAR(64) NOT NULL,
			endpoint VARCHAR(255) NOT NULL UNIQUE,
			keywords TEXT,
			status VARCHAR(16) NOT NULL,
			created_at_unix BIGINT NOT NULL,
			updated_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_templates (
			id VARCHAR(64) PRIMARY KEY,
			agent_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at_unix BIGINT NOT NULL,
			updated_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_agent_permissions (
			tenant_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64) NOT NULL,
			created_at_unix BIGINT NOT NULL,
			PRIMARY KEY (tenant_id, agent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS training_examples (
			id VARCHAR(64) PRIMARY KEY,
			agent_id VARCHAR(64) NOT NULL,
			input_text TEXT NOT NULL,
			expected_output TEXT NOT NULL,
			description TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64),
			user_id VARCHAR(255),
			request_type VARCHAR(50) NOT NULL,
			request_data TEXT,
			response_data TEXT,
			processing_time DOUBLE NOT NULL DEFAULT 0,
			status VARCHAR(50) NOT NULL,
			created_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			url VARCHAR(1024) NOT NULL,
			events TEXT NOT NULL,
			headers TEXT,
			status VARCHAR(16) NOT NULL,
			created_at_unix BIGINT NOT NULL,
			updated_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inbound_endpoints (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64),
			name VARCHAR(255) NOT NULL,
			path VARCHAR(255) NOT NULL UNIQUE,
			secret VARCHAR(255) NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at_unix BIGINT NOT NULL,
			updated_at_unix BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS endpoint_logs (
			id VARCHAR(64) PRIMARY KEY,
			endpoint_id VARCHAR(64) NOT NULL,
			request_data TEXT,
			response_data TEXT,
			status_code INTEGER NOT NULL,
			created_at_unix BIGINT NOT NULL
		)`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX idx_usage_logs_tenant_created ON usage_logs (tenant_id, created_at_unix)`,
		`CREATE INDEX idx_agent_templates_agent ON agent_templates (agent_id)`,
		`CREATE INDEX idx_training_examples_agent ON training_examples (agent_id)`,
		`CREATE INDEX idx_webhooks_tenant ON webhooks (tenant_id)`,
		`CREATE INDEX idx_endpoint_logs_endpoint ON endpoint_logs (endpoint_id, created_at_unix)`,
	}
	for _, query := range indexes {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("run migration index: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isDuplicateIndex(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1061 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") || strings.Contains(message, "duplicate entry")
}

func normalizeStatus(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	default:
		return "", fmt.Errorf("%w: status must be active or inactive", ErrInvalidInput)
	}
}

func encodeJSON(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(encoded), nil
}

func decodeJSONMap(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	result := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return map[string]any{"raw": raw}
	}
	return result
}

func decodeStringList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	var result []string
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil
	}
	return result
}

func decodeStringMap(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	result := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil
	}
	return result
}

func cleanList(values []string, lower bool) []string {
	result := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, value := range values {
		value = strings.TrimSpace(value)
		if lower {
			value = strings.ToLower(value)
		}
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func unixToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func clampLimit(limit, fallback, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
