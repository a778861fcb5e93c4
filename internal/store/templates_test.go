package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateTemplateKeepsSingleDefault(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	tenant := createTestTenant(t, sqlStore, "acme")
	agent, err := sqlStore.CreateAgent(ctx, CreateAgentInput{TenantID: tenant.ID, Name: "Support", Type: "general", Endpoint: "support"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	draft, err := sqlStore.CreateTemplate(ctx, CreateTemplateInput{AgentID: agent.ID, Name: "draft", Content: "draft {message}"})
	if err != nil {
		t.Fatalf("create draft template: %v", err)
	}
	if draft.IsDefault {
		t.Fatal("expected draft to not be default")
	}
	promoted, err := sqlStore.CreateTemplate(ctx, CreateTemplateInput{AgentID: agent.ID, Name: "v2", Content: "v2 {message}", IsDefault: true})
	if err != nil {
		t.Fatalf("create default template: %v", err)
	}

	templates, err := sqlStore.ListTemplates(ctx, agent.ID)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	defaults := 0
	for _, template := range templates {
		if template.IsDefault {
			defaults++
			if template.ID != promoted.ID {
				t.Fatalf("expected %s to be default, got %s", promoted.ID, template.ID)
			}
		}
	}
	if len(templates) != 3 || defaults != 1 {
		t.Fatalf("expected 3 templates with one default, got %d/%d", len(templates), defaults)
	}

	if err := sqlStore.SetDefaultTemplate(ctx, agent.ID, draft.ID); err != nil {
		t.Fatalf("set default template: %v", err)
	}
	current, err := sqlStore.DefaultTemplate(ctx, agent.ID)
	if err != nil || current.ID != draft.ID {
		t.Fatalf("expected draft as default, got %+v err=%v", current, err)
	}
	if err := sqlStore.SetDefaultTemplate(ctx, agent.ID, "tmpl_missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected missing template error, got %v", err)
	}
}

func TestUpdateDefaultTemplateContentCreatesWhenMissing(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	agent, err := sqlStore.CreateAgent(ctx, CreateAgentInput{Name: "Support", Type: "general", Endpoint: "support"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if _, err := sqlStore.db.ExecContext(ctx, `DELETE FROM agent_templates WHERE agent_id = ?`, agent.ID); err != nil {
		t.Fatalf("drop templates: %v", err)
	}
	if _, err := sqlStore.DefaultTemplate(ctx, agent.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected no default template, got %v", err)
	}

	template, err := sqlStore.UpdateDefaultTemplateContent(ctx, agent.ID, "New {message}")
	if err != nil {
		t.Fatalf("update default content: %v", err)
	}
	if !template.IsDefault || template.Content != "New {message}" {
		t.Fatalf("unexpected template: %+v", template)
	}
	if _, err := sqlStore.UpdateDefaultTemplateContent(ctx, agent.ID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty content to fail, got %v", err)
	}
}

func TestListTrainingExamplesNewestFirst(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	advance := fixedClock(sqlStore, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	agent, err := sqlStore.CreateAgent(ctx, CreateAgentInput{Name: "Support", Type: "general", Endpoint: "support"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	for _, input := range []AddTrainingExampleInput{
		{AgentID: agent.ID, Input: "one", Output: "1"},
		{AgentID: agent.ID, Input: "two", Output: "2", Inactive: true},
		{AgentID: agent.ID, Input: "three", Output: "3"},
	} {
		if _, err := sqlStore.AddTrainingExample(ctx, input); err != nil {
			t.Fatalf("add example: %v", err)
		}
		advance(time.Second)
	}

	active, err := sqlStore.ListTrainingExamples(ctx, ListTrainingExamplesInput{AgentID: agent.ID, ActiveOnly: true})
	if err != nil {
		t.Fatalf("list active examples: %v", err)
	}
	if len(active) != 2 || active[0].Input != "three" || active[1].Input != "one" {
		t.Fatalf("expected [three one], got %+v", active)
	}
	limited, err := sqlStore.ListTrainingExamples(ctx, ListTrainingExamplesInput{AgentID: agent.ID, Limit: 1})
	if err != nil {
		t.Fatalf("list limited examples: %v", err)
	}
	if len(limited) != 1 || limited[0].Input != "three" {
		t.Fatalf("expected newest example only, got %+v", limited)
	}
	if _, err := sqlStore.AddTrainingExample(ctx, AddTrainingExampleInput{AgentID: "agent_missing", Input: "x", Output: "y"}); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected missing agent error, got %v", err)
	}
}
