package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrDuplicateEndpoint  = errors.New("agent endpoint already exists")
	ErrPermissionNotFound = errors.New("agent permission not found")
)

const DefaultTemplateContent = `Question or instruction: {input}

Additional information:
{context}

Answer the question or carry out the instruction above using the information provided.`

type Agent struct {
	ID          string
	Name        string
	Description string
	Type        string
	Endpoint    string
	Keywords    []string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Permission struct {
	TenantID  string
	AgentID   string
	CreatedAt time.Time
}

type CreateAgentInput struct {
	TenantID        string
	Name            string
	Description     string
	Type            string
	Endpoint        string
	Keywords        []string
	Status          string
	TemplateContent string
}

type UpdateAgentInput struct {
	ID              string
	Name            *string
	Description     *string
	Type            *string
	Keywords        []string
	Status          *string
	TemplateContent *string
}

const agentColumns = `id, name, description, type, endpoint, keywords, status, created_at_unix, updated_at_unix`

// CreateAgent stores the agent, its default template and the creating tenant's permission together.
func (s *Store) CreateAgent(ctx context.Context, input CreateAgentInput) (Agent, error) {
	name := strings.TrimSpace(input.Name)
	agentType := strings.TrimSpace(input.Type)
	endpoint := strings.TrimSpace(input.Endpoint)
	if name == "" || agentType == "" || endpoint == "" {
		return Agent{}, fmt.Errorf("%w: name, type and endpoint are required", ErrInvalidInput)
	}
	status, err := normalizeStatus(input.Status)
	if err != nil {
		return Agent{}, err
	}
	keywords, err := encodeJSON(cleanList(input.Keywords, true))
	if err != nil {
		return Agent{}, err
	}
	content := input.TemplateContent
	if strings.TrimSpace(content) == "" {
		content = DefaultTemplateContent
	}

	now := s.now()
	agent := Agent{
		ID:          "agent_" + uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Type:        agentType,
		Endpoint:    endpoint,
		Keywords:    cleanList(input.Keywords, true),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Agent{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID,
		agent.Name,
		agent.Description,
		agent.Type,
		agent.Endpoint,
		keywords,
		agent.Status,
		now.Unix(),
		now.Unix(),
	); err != nil {
		if isUniqueViolation(err) {
			return Agent{}, ErrDuplicateEndpoint
		}
		return Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO agent_templates (id, agent_id, name, content, is_default, created_at_unix, updated_at_unix) VALUES (?, ?, ?, ?, 1, ?, ?)`,
		"tmpl_"+uuid.NewString(),
		agent.ID,
		"Default Template",
		content,
		now.Unix(),
		now.Unix(),
	); err != nil {
		return Agent{}, fmt.Errorf("insert default template: %w", err)
	}
	if tenantID := strings.TrimSpace(input.TenantID); tenantID != "" {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO tenant_agent_permissions (tenant_id, agent_id, created_at_unix) VALUES (?, ?, ?)`,
			tenantID,
			agent.ID,
			now.Unix(),
		); err != nil {
			return Agent{}, fmt.Errorf("insert agent permission: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Agent{}, fmt.Errorf("commit agent: %w", err)
	}
	return agent, nil
}

func (s *Store) UpdateAgent(ctx context.Context, input UpdateAgentInput) (Agent, error) {
	agent, err := s.LookupAgent(ctx, input.ID)
	if err != nil {
		return Agent{}, err
	}
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return Agent{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		agent.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		agent.Description = strings.TrimSpace(*input.Description)
	}
	if input.Type != nil {
		if strings.TrimSpace(*input.Type) == "" {
			return Agent{}, fmt.Errorf("%w: type cannot be empty", ErrInvalidInput)
		}
		agent.Type = strings.TrimSpace(*input.Type)
	}
	if input.Keywords != nil {
		agent.Keywords = cleanList(input.Keywords, true)
	}
	if input.Status != nil {
		status, err := normalizeStatus(*input.Status)
		if err != nil {
			return Agent{}, err
		}
		agent.Status = status
	}
	keywords, err := encodeJSON(agent.Keywords)
	if err != nil {
		return Agent{}, err
	}
	now := s.now()
	agent.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Agent{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE agents SET name = ?, description = ?, type = ?, keywords = ?, status = ?, updated_at_unix = ? WHERE id = ?`,
		agent.Name,
		agent.Description,
		agent.Type,
		keywords,
		agent.Status,
		now.Unix(),
		agent.ID,
	); err != nil {
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	if input.TemplateContent != nil {
		if strings.TrimSpace(*input.TemplateContent) == "" {
			return Agent{}, fmt.Errorf("%w: template content cannot be empty", ErrInvalidInput)
		}
		if err := setDefaultContentTx(ctx, tx, agent.ID, *input.TemplateContent, now); err != nil {
			return Agent{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Agent{}, fmt.Errorf("commit agent update: %w", err)
	}
	return agent, nil
}

// DeleteAgent removes the agent with its templates, permissions and training examples.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM agent_templates WHERE agent_id = ?`,
		`DELETE FROM tenant_agent_permissions WHERE agent_id = ?`,
		`DELETE FROM training_examples WHERE agent_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("delete agent dependents: %w", err)
		}
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit agent delete: %w", err)
	}
	return nil
}

func (s *Store) LookupAgent(ctx context.Context, id string) (Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, strings.TrimSpace(id))
	return scanAgent(row)
}

func (s *Store) LookupAgentByEndpoint(ctx context.Context, endpoint string) (Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE endpoint = ?`, strings.TrimSpace(endpoint))
	return scanAgent(row)
}

// ListAgentsForTenant returns the agents a tenant is permitted to use, oldest first.
func (s *Store) ListAgentsForTenant(ctx context.Context, tenantID string, activeOnly bool) ([]Agent, error) {
	query := `SELECT a.id, a.name, a.description, a.type, a.endpoint, a.keywords, a.status, a.created_at_unix, a.updated_at_unix
		FROM agents a
		JOIN tenant_agent_permissions p ON p.agent_id = a.id
		WHERE p.tenant_id = ?`
	args := []any{strings.TrimSpace(tenantID)}
	if activeOnly {
		query += ` AND a.status = ?`
		args = append(args, StatusActive)
	}
	query += ` ORDER BY a.created_at_unix ASC, a.id ASC`
	return s.queryAgents(ctx, query, args...)
}

func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at_unix ASC, id ASC`)
}

func (s *Store) queryAgents(ctx context.Context, query string, args ...any) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// UpsertAgentByEndpoint creates the agent when its endpoint is unknown and updates it otherwise.
// The returned bool reports whether a new agent was created.
func (s *Store) UpsertAgentByEndpoint(ctx context.Context, input CreateAgentInput) (Agent, bool, error) {
	existing, err := s.LookupAgentByEndpoint(ctx, input.Endpoint)
	if errors.Is(err, ErrAgentNotFound) {
		agent, err := s.CreateAgent(ctx, input)
		return agent, err == nil, err
	}
	if err != nil {
		return Agent{}, false, err
	}
	update := UpdateAgentInput{
		ID:          existing.ID,
		Name:        &input.Name,
		Description: &input.Description,
		Type:        &input.Type,
		Keywords:    input.Keywords,
	}
	if strings.TrimSpace(input.Status) != "" {
		update.Status = &input.Status
	}
	if strings.TrimSpace(input.TemplateContent) != "" {
		update.TemplateContent = &input.TemplateContent
	}
	agent, err := s.UpdateAgent(ctx, update)
	if err != nil {
		return Agent{}, false, err
	}
	if strings.TrimSpace(input.TenantID) != "" {
		if err := s.GrantPermission(ctx, input.TenantID, agent.ID); err != nil {
			return Agent{}, false, err
		}
	}
	return agent, false, nil
}

func (s *Store) HasPermission(ctx context.Context, tenantID, agentID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM tenant_agent_permissions WHERE tenant_id = ? AND agent_id = ?`,
		strings.TrimSpace(tenantID),
		strings.TrimSpace(agentID),
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check agent permission: %w", err)
	}
	return count > 0, nil
}

// CountGrantees reports how many tenants may use the agent.
func (s *Store) CountGrantees(ctx context.Context, agentID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM tenant_agent_permissions WHERE agent_id = ?`,
		strings.TrimSpace(agentID),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count agent grantees: %w", err)
	}
	return count, nil
}

// GrantPermission is idempotent.
func (s *Store) GrantPermission(ctx context.Context, tenantID, agentID string) error {
	tenantID = strings.TrimSpace(tenantID)
	agentID = strings.TrimSpace(agentID)
	if tenantID == "" || agentID == "" {
		return fmt.Errorf("%w: tenant id and agent id are required", ErrInvalidInput)
	}
	allowed, err := s.HasPermission(ctx, tenantID, agentID)
	if err != nil || allowed {
		return err
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tenant_agent_permissions (tenant_id, agent_id, created_at_unix) VALUES (?, ?, ?)`,
		tenantID,
		agentID,
		s.now().Unix(),
	); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert agent permission: %w", err)
	}
	return nil
}

func (s *Store) RevokePermission(ctx context.Context, tenantID, agentID string) error {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM tenant_agent_permissions WHERE tenant_id = ? AND agent_id = ?`,
		strings.TrimSpace(tenantID),
		strings.TrimSpace(agentID),
	)
	if err != nil {
		return fmt.Errorf("delete agent permission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete permission rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

func scanAgent(row rowScanner) (Agent, error) {
	var (
		agent       Agent
		description sql.NullString
		keywords    sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(
		&agent.ID,
		&agent.Name,
		&description,
		&agent.Type,
		&agent.Endpoint,
		&keywords,
		&agent.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	agent.Description = description.String
	agent.Keywords = decodeStringList(keywords.String)
	agent.CreatedAt = unixToTime(createdAt)
	agent.UpdatedAt = unixToTime(updatedAt)
	return agent, nil
}
