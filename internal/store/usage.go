package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	UsageStatusSuccess = "success"
	UsageStatusError   = "error"
)

type UsageLog struct {
	ID             string
	TenantID       string
	AgentID        string
	UserID         string
	RequestType    string
	RequestData    map[string]any
	ResponseData   map[string]any
	ProcessingTime float64
	Status         string
	CreatedAt      time.Time
}

type CreateUsageLogInput struct {
	TenantID       string
	AgentID        string
	UserID         string
	RequestType    string
	RequestData    map[string]any
	ResponseData   map[string]any
	ProcessingTime float64
	Status         string
}

type UsageFilter struct {
	TenantID string
	AgentID  string
	Status   string
	Start    time.Time
	End      time.Time
	Limit    int
}

type UsageStats struct {
	TotalRequests       int64
	TotalProcessingTime float64
	SuccessCount        int64
	ErrorCount          int64
	SuccessRate         float64
}

type AgentUsage struct {
	AgentID   string
	AgentName string
	Requests  int64
}

func (s *Store) CreateUsageLog(ctx context.Context, input CreateUsageLogInput) (UsageLog, error) {
	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return UsageLog{}, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status != UsageStatusSuccess && status != UsageStatusError {
		return UsageLog{}, fmt.Errorf("%w: usage status must be success or error", ErrInvalidInput)
	}
	requestType := strings.TrimSpace(input.RequestType)
	if requestType == "" {
		requestType = "process_message"
	}
	requestData, err := encodeJSON(input.RequestData)
	if err != nil {
		return UsageLog{}, err
	}
	responseData, err := encodeJSON(input.ResponseData)
	if err != nil {
		return UsageLog{}, err
	}
	entry := UsageLog{
		ID:             "usage_" + uuid.NewString(),
		TenantID:       tenantID,
		AgentID:        strings.TrimSpace(input.AgentID),
		UserID:         strings.TrimSpace(input.UserID),
		RequestType:    requestType,
		RequestData:    input.RequestData,
		ResponseData:   input.ResponseData,
		ProcessingTime: input.ProcessingTime,
		Status:         status,
		CreatedAt:      s.now(),
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (
			id, tenant_id, agent_id, user_id, request_type, request_data, response_data, processing_time, status, created_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.TenantID,
		nullIfEmpty(entry.AgentID),
		nullIfEmpty(entry.UserID),
		entry.RequestType,
		nullIfEmpty(requestData),
		nullIfEmpty(responseData),
		entry.ProcessingTime,
		entry.Status,
		entry.CreatedAt.Unix(),
	); err != nil {
		return UsageLog{}, fmt.Errorf("insert usage log: %w", err)
	}
	return entry, nil
}

func usageWhere(filter UsageFilter) (string, []any) {
	whereParts := []string{"tenant_id = ?"}
	args := []any{strings.TrimSpace(filter.TenantID)}
	if agentID := strings.TrimSpace(filter.AgentID); agentID != "" {
		whereParts = append(whereParts, "agent_id = ?")
		args = append(args, agentID)
	}
	if status := strings.ToLower(strings.TrimSpace(filter.Status)); status != "" {
		whereParts = append(whereParts, "status = ?")
		args = append(args, status)
	}
	if !filter.Start.IsZero() {
		whereParts = append(whereParts, "created_at_unix >= ?")
		args = append(args, filter.Start.UTC().Unix())
	}
	if !filter.End.IsZero() {
		whereParts = append(whereParts, "created_at_unix <= ?")
		args = append(args, filter.End.UTC().Unix())
	}
	return " WHERE " + strings.Join(whereParts, " AND "), args
}

// ListUsageLogs returns the newest logs first.
func (s *Store) ListUsageLogs(ctx context.Context, filter UsageFilter) ([]UsageLog, error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	where, args := usageWhere(filter)
	args = append(args, clampLimit(filter.Limit, 100, 1000))
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, tenant_id, agent_id, user_id, request_type, request_data, response_data, processing_time, status, created_at_unix
		FROM usage_logs`+where+` ORDER BY created_at_unix DESC, id DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage logs: %w", err)
	}
	defer rows.Close()

	var logs []UsageLog
	for rows.Next() {
		var (
			entry        UsageLog
			agentID      sql.NullString
			userID       sql.NullString
			requestData  sql.NullString
			responseData sql.NullString
			createdAt    int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&agentID,
			&userID,
			&entry.RequestType,
			&requestData,
			&responseData,
			&entry.ProcessingTime,
			&entry.Status,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage log: %w", err)
		}
		entry.AgentID = agentID.String
		entry.UserID = userID.String
		entry.RequestData = decodeJSONMap(requestData.String)
		entry.ResponseData = decodeJSONMap(responseData.String)
		entry.CreatedAt = unixToTime(createdAt)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage logs: %w", err)
	}
	return logs, nil
}

func (s *Store) UsageStats(ctx context.Context, filter UsageFilter) (UsageStats, error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return UsageStats{}, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	where, args := usageWhere(filter)
	var stats UsageStats
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(processing_time), 0),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0)
		FROM usage_logs`+where,
		args...,
	).Scan(&stats.TotalRequests, &stats.TotalProcessingTime, &stats.SuccessCount, &stats.ErrorCount); err != nil {
		return UsageStats{}, fmt.Errorf("query usage stats: %w", err)
	}
	stats.SuccessRate = SuccessRate(stats.SuccessCount, stats.TotalRequests)
	return stats, nil
}

// SuccessRate is a percentage; zero requests yield zero.
func SuccessRate(success, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(success) / float64(total) * 100
}

// TopAgents ranks a tenant's agents by request count since the given time.
func (s *Store) TopAgents(ctx context.Context, tenantID string, since time.Time, limit int) ([]AgentUsage, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT u.agent_id, COALESCE(a.name, ''), COUNT(*) AS requests
		FROM usage_logs u
		LEFT JOIN agents a ON a.id = u.agent_id
		WHERE u.tenant_id = ? AND u.agent_id IS NOT NULL AND u.created_at_unix >= ?
		GROUP BY u.agent_id, a.name
		ORDER BY requests DESC, u.agent_id ASC
		LIMIT ?`,
		strings.TrimSpace(tenantID),
		since.UTC().Unix(),
		clampLimit(limit, 5, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("query top agents: %w", err)
	}
	defer rows.Close()

	var result []AgentUsage
	for rows.Next() {
		var usage AgentUsage
		if err := rows.Scan(&usage.AgentID, &usage.AgentName, &usage.Requests); err != nil {
			return nil, fmt.Errorf("scan top agent: %w", err)
		}
		result = append(result, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top agents: %w", err)
	}
	return result, nil
}

// PruneUsageLogs deletes logs created before the cutoff and reports how many were removed.
func (s *Store) PruneUsageLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_logs WHERE created_at_unix < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune usage logs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune usage logs rows affected: %w", err)
	}
	return affected, nil
}
