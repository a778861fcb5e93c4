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

var ErrTemplateNotFound = errors.New("template not found")

type Template struct {
	ID        string
	AgentID   string
	Name      string
	Content   string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateTemplateInput struct {
	AgentID   string
	Name      string
	Content   string
	IsDefault bool
}

type TrainingExample struct {
	ID          string
	AgentID     string
	Input       string
	Output      string
	Description string
	Active      bool
	CreatedAt   time.Time
}

type AddTrainingExampleInput struct {
	AgentID     string
	Input       string
	Output      string
	Description string
	Inactive    bool
}

type ListTrainingExamplesInput struct {
	AgentID    string
	ActiveOnly bool
	Limit      int
}

func (s *Store) ListTemplates(ctx context.Context, agentID string) ([]Template, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, agent_id, name, content, is_default, created_at_unix, updated_at_unix
		FROM agent_templates WHERE agent_id = ? ORDER BY created_at_unix ASC, id ASC`,
		strings.TrimSpace(agentID),
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

func (s *Store) DefaultTemplate(ctx context.Context, agentID string) (Template, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, agent_id, name, content, is_default, created_at_unix, updated_at_unix
		FROM agent_templates WHERE agent_id = ? AND is_default = 1
		ORDER BY updated_at_unix DESC, id ASC LIMIT 1`,
		strings.TrimSpace(agentID),
	)
	return scanTemplate(row)
}

// CreateTemplate adds a template; a new default replaces the previous one.
func (s *Store) CreateTemplate(ctx context.Context, input CreateTemplateInput) (Template, error) {
	agentID := strings.TrimSpace(input.AgentID)
	name := strings.TrimSpace(input.Name)
	if agentID == "" || name == "" || strings.TrimSpace(input.Content) == "" {
		return Template{}, fmt.Errorf("%w: agent id, name and content are required", ErrInvalidInput)
	}
	if _, err := s.LookupAgent(ctx, agentID); err != nil {
		return Template{}, err
	}
	now := s.now()
	template := Template{
		ID:        "tmpl_" + uuid.NewString(),
		AgentID:   agentID,
		Name:      name,
		Content:   input.Content,
		IsDefault: input.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Template{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if template.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE agent_templates SET is_default = 0 WHERE agent_id = ?`, agentID); err != nil {
			return Template{}, fmt.Errorf("clear default template: %w", err)
		}
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO agent_templates (id, agent_id, name, content, is_default, created_at_unix, updated_at_unix) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		template.ID,
		template.AgentID,
		template.Name,
		template.Content,
		boolToInt(template.IsDefault),
		now.Unix(),
		now.Unix(),
	); err != nil {
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Template{}, fmt.Errorf("commit template: %w", err)
	}
	return template, nil
}

func (s *Store) SetDefaultTemplate(ctx context.Context, agentID, templateID string) error {
	agentID = strings.TrimSpace(agentID)
	templateID = strings.TrimSpace(templateID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM agent_templates WHERE id = ? AND agent_id = ?`,
		templateID,
		agentID,
	).Scan(&count); err != nil {
		return fmt.Errorf("lookup template: %w", err)
	}
	if count == 0 {
		return ErrTemplateNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE agent_templates SET is_default = 0 WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("clear default template: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE agent_templates SET is_default = 1, updated_at_unix = ? WHERE id = ?`,
		s.now().Unix(),
		templateID,
	); err != nil {
		return fmt.Errorf("set default template: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit default template: %w", err)
	}
	return nil
}

// UpdateDefaultTemplateContent rewrites the default template body, creating one if the agent has none.
func (s *Store) UpdateDefaultTemplateContent(ctx context.Context, agentID, content string) (Template, error) {
	if strings.TrimSpace(content) == "" {
		return Template{}, fmt.Errorf("%w: template content is required", ErrInvalidInput)
	}
	if _, err := s.LookupAgent(ctx, agentID); err != nil {
		return Template{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Template{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setDefaultContentTx(ctx, tx, strings.TrimSpace(agentID), content, s.now()); err != nil {
		return Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return Template{}, fmt.Errorf("commit template content: %w", err)
	}
	return s.DefaultTemplate(ctx, agentID)
}

func setDefaultContentTx(ctx context.Context, tx *sql.Tx, agentID, content string, now time.Time) error {
	result, err := tx.ExecContext(
		ctx,
		`UPDATE agent_templates SET content = ?, updated_at_unix = ? WHERE agent_id = ? AND is_default = 1`,
		content,
		now.Unix(),
		agentID,
	)
	if err != nil {
		return fmt.Errorf("update default template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("default template rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO agent_templates (id, agent_id, name, content, is_default, created_at_unix, updated_at_unix) VALUES (?, ?, ?, ?, 1, ?, ?)`,
		"tmpl_"+uuid.NewString(),
		agentID,
		"Default Template",
		content,
		now.Unix(),
		now.Unix(),
	); err != nil {
		return fmt.Errorf("insert default template: %w", err)
	}
	return nil
}

func (s *Store) AddTrainingExample(ctx context.Context, input AddTrainingExampleInput) (TrainingExample, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" || strings.TrimSpace(input.Input) == "" || strings.TrimSpace(input.Output) == "" {
		return TrainingExample{}, fmt.Errorf("%w: agent id, input and output are required", ErrInvalidInput)
	}
	if _, err := s.LookupAgent(ctx, agentID); err != nil {
		return TrainingExample{}, err
	}
	example := TrainingExample{
		ID:          "example_" + uuid.NewString(),
		AgentID:     agentID,
		Input:       strings.TrimSpace(input.Input),
		Output:      strings.TrimSpace(input.Output),
		Description: strings.TrimSpace(input.Description),
		Active:      !input.Inactive,
		CreatedAt:   s.now(),
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO training_examples (id, agent_id, input_text, expected_output, description, active, created_at_unix) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		example.ID,
		example.AgentID,
		example.Input,
		example.Output,
		nullIfEmpty(example.Description),
		boolToInt(example.Active),
		example.CreatedAt.Unix(),
	); err != nil {
		return TrainingExample{}, fmt.Errorf("insert training example: %w", err)
	}
	return example, nil
}

// ListTrainingExamples returns newest examples first.
func (s *Store) ListTrainingExamples(ctx context.Context, input ListTrainingExamplesInput) ([]TrainingExample, error) {
	query := `SELECT id, agent_id, input_text, expected_output, description, active, created_at_unix
		FROM training_examples WHERE agent_id = ?`
	args := []any{strings.TrimSpace(input.AgentID)}
	if input.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY created_at_unix DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(input.Limit, 100, 1000))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list training examples: %w", err)
	}
	defer rows.Close()

	var examples []TrainingExample
	for rows.Next() {
		var (
			example     TrainingExample
			description sql.NullString
			active      int
			createdAt   int64
		)
		if err := rows.Scan(&example.ID, &example.AgentID, &example.Input, &example.Output, &description, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan training example: %w", err)
		}
		example.Description = description.String
		example.Active = active == 1
		example.CreatedAt = unixToTime(createdAt)
		examples = append(examples, example)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training examples: %w", err)
	}
	return examples, nil
}

func scanTemplate(row rowScanner) (Template, error) {
	var (
		template  Template
		isDefault int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&template.ID, &template.AgentID, &template.Name, &template.Content, &isDefault, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, ErrTemplateNotFound
		}
		return Template{}, fmt.Errorf("scan template: %w", err)
	}
	template.IsDefault = isDefault == 1
	template.CreatedAt = unixToTime(createdAt)
	template.UpdatedAt = unixToTime(updatedAt)
	return template, nil
}
