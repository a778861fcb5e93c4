package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

const sampleCatalog = `
agents:
  - name: City Hall Desk
    description: Complaints and welfare questions from residents
    type: civic_service
    endpoint: civic
    keywords: [complaint, welfare, Flood]
    tenants: [city, missing-tenant]
  - name: Billing
    type: billing
    endpoint: billing
    status: active
    template: |
      You answer billing questions.
      {context}
      Customer: {message}
    examples:
      - input: Where is my refund?
        output: Refunds take five business days.
      - input: Can I pay by card?
        output: Yes, all major cards are accepted.
    tenants: [city]
`

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlStore, err := store.New(store.DriverSQLite, filepath.Join(t.TempDir(), "catalog_test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlStore
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	sqlStore := newTestStore(t)
	tenant, err := sqlStore.CreateTenant(ctx, store.CreateTenantInput{Name: "city"})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	parsed, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	result, err := Apply(ctx, sqlStore, parsed, testLogger())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Created != 2 || result.Updated != 0 || result.Granted != 2 || result.ExamplesAdded != 2 {
		t.Fatalf("unexpected first result: %#v", result)
	}
	if len(result.UnknownTenants) != 1 || result.UnknownTenants[0] != "missing-tenant" {
		t.Fatalf("expected unknown tenant to be reported, got %v", result.UnknownTenants)
	}

	agents, err := sqlStore.ListAgentsForTenant(ctx, tenant.ID, true)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected both agents permitted, got %d", len(agents))
	}
	billing, err := sqlStore.LookupAgentByEndpoint(ctx, "billing")
	if err != nil {
		t.Fatalf("lookup billing: %v", err)
	}
	template, err := sqlStore.DefaultTemplate(ctx, billing.ID)
	if err != nil {
		t.Fatalf("default template: %v", err)
	}
	if !strings.Contains(template.Content, "Customer: {message}") {
		t.Fatalf("unexpected template: %q", template.Content)
	}
	civic, err := sqlStore.LookupAgentByEndpoint(ctx, "civic")
	if err != nil {
		t.Fatalf("lookup civic: %v", err)
	}
	if strings.Join(civic.Keywords, ",") != "complaint,welfare,flood" {
		t.Fatalf("expected lowercased keywords, got %v", civic.Keywords)
	}

	second, err := Apply(ctx, sqlStore, parsed, testLogger())
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second.Created != 0 || second.Updated != 2 || second.ExamplesAdded != 0 {
		t.Fatalf("expected idempotent second apply, got %#v", second)
	}
	examples, err := sqlStore.ListTrainingExamples(ctx, store.ListTrainingExamplesInput{AgentID: billing.ID})
	if err != nil {
		t.Fatalf("list examples: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("expected two examples, got %d", len(examples))
	}
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"missing endpoint":   "agents:\n  - name: A\n    type: general\n",
		"duplicate endpoint": "agents:\n  - {name: A, type: general, endpoint: a}\n  - {name: B, type: general, endpoint: a}\n",
		"unknown field":      "agents:\n  - {name: A, type: general, endpoint: a, prompt: hi}\n",
	}
	for name, input := range cases {
		if _, err := Parse([]byte(input)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
	empty, err := Parse(nil)
	if err != nil || len(empty.Agents) != 0 {
		t.Fatalf("expected empty catalog, got %#v %v", empty, err)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Agents) != 2 || len(loaded.Agents[1].Examples) != 2 {
		t.Fatalf("unexpected catalog: %#v", loaded)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}
