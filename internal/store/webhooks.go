package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrWebhookNotFound = errors.New("webhook not found")

type Webhook struct {
	ID        string
	TenantID  string
	Name      string
	URL       string
	Events    []string
	Headers   map[string]string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateWebhookInput struct {
	TenantID string
	Name     string
	URL      string
	Events   []string
	Headers  map[string]string
	Status   string
}

type UpdateWebhookInput struct {
	TenantID string
	ID       string
	Name     *string
	URL      *string
	Events   []string
	Headers  map[string]string
	Status   *string
}

const webhookColumns = `id, tenant_id, name, url, events, headers, status, created_at_unix, updated_at_unix`

func (s *Store) CreateWebhook(ctx context.Context, input CreateWebhookInput) (Webhook, error) {
	tenantID := strings.TrimSpace(input.TenantID)
	name := strings.TrimSpace(input.Name)
	if tenantID == "" || name == "" {
		return Webhook{}, fmt.Errorf("%w: tenant id and name are required", ErrInvalidInput)
	}
	target, err := normalizeWebhookURL(input.URL)
	if err != nil {
		return Webhook{}, err
	}
	events := cleanList(input.Events, false)
	if len(events) == 0 {
		return Webhook{}, fmt.Errorf("%w: at least one event is required", ErrInvalidInput)
	}
	status, err := normalizeStatus(input.Status)
	if err != nil {
		return Webhook{}, err
	}
	encodedEvents, err := encodeJSON(events)
	if err != nil {
		return Webhook{}, err
	}
	encodedHeaders, err := encodeJSON(input.Headers)
	if err != nil {
		return Webhook{}, err
	}
	now := s.now()
	webhook := Webhook{
		ID:        "webhook_" + uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		URL:       target,
		Events:    events,
		Headers:   input.Headers,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO webhooks (`+webhookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		webhook.ID,
		webhook.TenantID,
		webhook.Name,
		webhook.URL,
		encodedEvents,
		nullIfEmpty(encodedHeaders),
		webhook.Status,
		now.Unix(),
		now.Unix(),
	); err != nil {
		return Webhook{}, fmt.Errorf("insert webhook: %w", err)
	}
	return webhook, nil
}

func (s *Store) UpdateWebhook(ctx context.Context, input UpdateWebhookInput) (Webhook, error) {
	webhook, err := s.LookupWebhook(ctx, input.TenantID, input.ID)
	if err != nil {
		return Webhook{}, err
	}
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return Webhook{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		webhook.Name = strings.TrimSpace(*input.Name)
	}
	if input.URL != nil {
		target, err := normalizeWebhookURL(*input.URL)
		if err != nil {
			return Webhook{}, err
		}
		webhook.URL = target
	}
	if input.Events != nil {
		events := cleanList(input.Events, false)
		if len(events) == 0 {
			return Webhook{}, fmt.Errorf("%w: at least one event is required", ErrInvalidInput)
		}
		webhook.Events = events
	}
	if input.Headers != nil {
		webhook.Headers = input.Headers
	}
	if input.Status != nil {
		status, err := normalizeStatus(*input.Status)
		if err != nil {
			return Webhook{}, err
		}
		webhook.Status = status
	}
	encodedEvents, err := encodeJSON(webhook.Events)
	if err != nil {
		return Webhook{}, err
	}
	encodedHeaders, err := encodeJSON(webhook.Headers)
	if err != nil {
		return Webhook{}, err
	}
	webhook.UpdatedAt = s.now()
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE webhooks SET name = ?, url = ?, events = ?, headers = ?, status = ?, updated_at_unix = ? WHERE id = ? AND tenant_id = ?`,
		webhook.Name,
		webhook.URL,
		encodedEvents,
		nullIfEmpty(encodedHeaders),
		webhook.Status,
		webhook.UpdatedAt.Unix(),
		webhook.ID,
		webhook.TenantID,
	); err != nil {
		return Webhook{}, fmt.Errorf("update webhook: %w", err)
	}
	return webhook, nil
}

func (s *Store) DeleteWebhook(ctx context.Context, tenantID, id string) error {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM webhooks WHERE id = ? AND tenant_id = ?`,
		strings.TrimSpace(id),
		strings.TrimSpace(tenantID),
	)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete webhook rows affected: %w", err)
	}
	if affected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// LookupWebhook is scoped to the tenant; other tenants' webhooks read as not found.
func (s *Store) LookupWebhook(ctx context.Context, tenantID, id string) (Webhook, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = ? AND tenant_id = ?`,
		strings.TrimSpace(id),
		strings.TrimSpace(tenantID),
	)
	return scanWebhook(row)
}

func (s *Store) ListWebhooks(ctx context.Context, tenantID string) ([]Webhook, error) {
	return s.queryWebhooks(
		ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = ? ORDER BY created_at_unix ASC, id ASC`,
		strings.TrimSpace(tenantID),
	)
}

// ListActiveWebhooksForEvent returns the tenant's active webhooks subscribed to the event.
func (s *Store) ListActiveWebhooksForEvent(ctx context.Context, tenantID, event string) ([]Webhook, error) {
	all, err := s.queryWebhooks(
		ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = ? AND status = ? ORDER BY created_at_unix ASC, id ASC`,
		strings.TrimSpace(tenantID),
		StatusActive,
	)
	if err != nil {
		return nil, err
	}
	event = strings.TrimSpace(event)
	var matched []Webhook
	for _, webhook := range all {
		for _, subscribed := range webhook.Events {
			if subscribed == event {
				matched = append(matched, webhook)
				break
			}
		}
	}
	return matched, nil
}

func (s *Store) queryWebhooks(ctx context.Context, query string, args ...any) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return webhooks, nil
}

func scanWebhook(row rowScanner) (Webhook, error) {
	var (
		webhook   Webhook
		events    string
		headers   sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&webhook.ID,
		&webhook.TenantID,
		&webhook.Name,
		&webhook.URL,
		&events,
		&headers,
		&webhook.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Webhook{}, ErrWebhookNotFound
		}
		return Webhook{}, fmt.Errorf("scan webhook: %w", err)
	}
	webhook.Events = decodeStringList(events)
	webhook.Headers = decodeStringMap(headers.String)
	webhook.CreatedAt = unixToTime(createdAt)
	webhook.UpdatedAt = unixToTime(updatedAt)
	return webhook, nil
}

func normalizeWebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: webhook url must be an absolute http(s) url", ErrInvalidInput)
	}
	return raw, nil
}
