package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrEndpointNotFound = errors.New("endpoint not found")

var endpointPathPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,254}$`)

// Endpoint is an inbound webhook path bound to a tenant and, optionally, an agent.
type Endpoint struct {
	ID        string
	TenantID  string
	AgentID   string
	Name      string
	Path      string
	Secret    string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateEndpointInput struct {
	TenantID string
	AgentID  string
	Name     string
	Path     string
	Secret   string
}

type EndpointLog struct {
	ID           string
	EndpointID   string
	RequestData  map[string]any
	ResponseData map[string]any
	StatusCode   int
	CreatedAt    time.Time
}

type CreateEndpointLogInput struct {
	EndpointID   string
	RequestData  map[string]any
	ResponseData map[string]any
	StatusCode   int
}

const endpointColumns = `id, tenant_id, agent_id, name, path, secret, active, created_at_unix, updated_at_unix`

func (s *Store) CreateEndpoint(ctx context.Context, input CreateEndpointInput) (Endpoint, error) {
	tenantID := strings.TrimSpace(input.TenantID)
	name := strings.TrimSpace(input.Name)
	path := strings.Trim(strings.TrimSpace(input.Path), "/")
	if tenantID == "" || name == "" {
		return Endpoint{}, fmt.Errorf("%w: tenant id and name are required", ErrInvalidInput)
	}
	if !endpointPathPattern.MatchString(path) {
		return Endpoint{}, fmt.Errorf("%w: path may contain letters, digits, '-' and '_'", ErrInvalidInput)
	}
	agentID := strings.TrimSpace(input.AgentID)
	if agentID != "" {
		allowed, err := s.HasPermission(ctx, tenantID, agentID)
		if err != nil {
			return Endpoint{}, err
		}
		if !allowed {
			return Endpoint{}, ErrAgentNotFound
		}
	}
	secret := strings.TrimSpace(input.Secret)
	if secret == "" {
		generated, err := generateSecret("whsec_", 24)
		if err != nil {
			return Endpoint{}, err
		}
		secret = generated
	}
	now := s.now()
	endpoint := Endpoint{
		ID:        "endpoint_" + uuid.NewString(),
		TenantID:  tenantID,
		AgentID:   agentID,
		Name:      name,
		Path:      path,
		Secret:    secret,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO inbound_endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		endpoint.ID,
		endpoint.TenantID,
		nullIfEmpty(endpoint.AgentID),
		endpoint.Name,
		endpoint.Path,
		endpoint.Secret,
		boolToInt(endpoint.Active),
		now.Unix(),
		now.Unix(),
	); err != nil {
		if isUniqueViolation(err) {
			return Endpoint{}, fmt.Errorf("%w: path %q is taken", ErrInvalidInput, path)
		}
		return Endpoint{}, fmt.Errorf("insert endpoint: %w", err)
	}
	return endpoint, nil
}

// LookupEndpointByPath only resolves active endpoints.
func (s *Store) LookupEndpointByPath(ctx context.Context, path string) (Endpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+endpointColumns+` FROM inbound_endpoints WHERE path = ? AND active = 1`,
		strings.Trim(strings.TrimSpace(path), "/"),
	)
	return scanEndpoint(row)
}

func (s *Store) LookupEndpoint(ctx context.Context, tenantID, id string) (Endpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+endpointColumns+` FROM inbound_endpoints WHERE id = ? AND tenant_id = ?`,
		strings.TrimSpace(id),
		strings.TrimSpace(tenantID),
	)
	return scanEndpoint(row)
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+endpointColumns+` FROM inbound_endpoints WHERE tenant_id = ? ORDER BY created_at_unix ASC, id ASC`,
		strings.TrimSpace(tenantID),
	)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoints: %w", err)
	}
	return endpoints, nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, tenantID, id string) error {
	id = strings.TrimSpace(id)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(
		ctx,
		`DELETE FROM inbound_endpoints WHERE id = ? AND tenant_id = ?`,
		id,
		strings.TrimSpace(tenantID),
	)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete endpoint rows affected: %w", err)
	}
	if affected == 0 {
		return ErrEndpointNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM endpoint_logs WHERE endpoint_id = ?`, id); err != nil {
		return fmt.Errorf("delete endpoint logs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit endpoint delete: %w", err)
	}
	return nil
}

func (s *Store) CreateEndpointLog(ctx context.Context, input CreateEndpointLogInput) (EndpointLog, error) {
	endpointID := strings.TrimSpace(input.EndpointID)
	if endpointID == "" {
		return EndpointLog{}, fmt.Errorf("%w: endpoint id is required", ErrInvalidInput)
	}
	requestData, err := encodeJSON(input.RequestData)
	if err != nil {
		return EndpointLog{}, err
	}
	responseData, err := encodeJSON(input.ResponseData)
	if err != nil {
		return EndpointLog{}, err
	}
	entry := EndpointLog{
		ID:           "hooklog_" + uuid.NewString(),
		EndpointID:   endpointID,
		RequestData:  input.RequestData,
		ResponseData: input.ResponseData,
		StatusCode:   input.StatusCode,
		CreatedAt:    s.now(),
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO endpoint_logs (id, endpoint_id, request_data, response_data, status_code, created_at_unix) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EndpointID,
		nullIfEmpty(requestData),
		nullIfEmpty(responseData),
		entry.StatusCode,
		entry.CreatedAt.Unix(),
	); err != nil {
		return EndpointLog{}, fmt.Errorf("insert endpoint log: %w", err)
	}
	return entry, nil
}

// ListEndpointLogs returns the newest entries first.
func (s *Store) ListEndpointLogs(ctx context.Context, endpointID string, limit int) ([]EndpointLog, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, endpoint_id, request_data, response_data, status_code, created_at_unix
		FROM endpoint_logs WHERE endpoint_id = ? ORDER BY created_at_unix DESC, id DESC LIMIT ?`,
		strings.TrimSpace(endpointID),
		clampLimit(limit, 100, 1000),
	)
	if err != nil {
		return nil, fmt.Errorf("list endpoint logs: %w", err)
	}
	defer rows.Close()

	var logs []EndpointLog
	for rows.Next() {
		var (
			entry        EndpointLog
			requestData  sql.NullString
			responseData sql.NullString
			createdAt    int64
		)
		if err := rows.Scan(&entry.ID, &entry.EndpointID, &requestData, &responseData, &entry.StatusCode, &createdAt); err != nil {
			return nil, fmt.Errorf("scan endpoint log: %w", err)
		}
		entry.RequestData = decodeJSONMap(requestData.String)
		entry.ResponseData = decodeJSONMap(responseData.String)
		entry.CreatedAt = unixToTime(createdAt)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoint logs: %w", err)
	}
	return logs, nil
}

func scanEndpoint(row rowScanner) (Endpoint, error) {
	var (
		endpoint  Endpoint
		agentID   sql.NullString
		active    int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&endpoint.ID,
		&endpoint.TenantID,
		&agentID,
		&endpoint.Name,
		&endpoint.Path,
		&endpoint.Secret,
		&active,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Endpoint{}, ErrEndpointNotFound
		}
		return Endpoint{}, fmt.Errorf("scan endpoint: %w", err)
	}
	endpoint.AgentID = agentID.String
	endpoint.Active = active == 1
	endpoint.CreatedAt = unixToTime(createdAt)
	endpoint.UpdatedAt = unixToTime(updatedAt)
	return endpoint, nil
}
