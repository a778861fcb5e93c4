package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestWebhookLifecycleAndEventMatching(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	tenant := createTestTenant(t, sqlStore, "acme")
	other := createTestTenant(t, sqlStore, "other")

	processed, err := sqlStore.CreateWebhook(ctx, CreateWebhookInput{
		TenantID: tenant.ID,
		Name:     "crm",
		URL:      "https://crm.example.com/hook",
		Events:   []string{"message_processed", "message_processed"},
		Headers:  map[string]string{"Authorization": "Bearer abc"},
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	if len(processed.Events) != 1 {
		t.Fatalf("expected deduplicated events, got %#v", processed.Events)
	}
	if _, err := sqlStore.CreateWebhook(ctx, CreateWebhookInput{
		TenantID: tenant.ID, Name: "alerts", URL: "https://alerts.example.com", Events: []string{"message_error"},
	}); err != nil {
		t.Fatalf("create error webhook: %v", err)
	}

	matched, err := sqlStore.ListActiveWebhooksForEvent(ctx, tenant.ID, "message_processed")
	if err != nil {
		t.Fatalf("list webhooks for event: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != processed.ID || matched[0].Headers["Authorization"] != "Bearer abc" {
		t.Fatalf("unexpected matched webhooks: %+v", matched)
	}

	if _, err := sqlStore.LookupWebhook(ctx, other.ID, processed.ID); !errors.Is(err, ErrWebhookNotFound) {
		t.Fatalf("expected cross-tenant lookup to miss, got %v", err)
	}

	inactive := StatusInactive
	if _, err := sqlStore.UpdateWebhook(ctx, UpdateWebhookInput{TenantID: tenant.ID, ID: processed.ID, Status: &inactive}); err != nil {
		t.Fatalf("deactivate webhook: %v", err)
	}
	matched, err = sqlStore.ListActiveWebhooksForEvent(ctx, tenant.ID, "message_processed")
	if err != nil {
		t.Fatalf("list webhooks after deactivate: %v", err)
	}
	if len(matched) != 0 {
		t.Fatalf("expected inactive webhook to be skipped, got %d", len(matched))
	}

	if err := sqlStore.DeleteWebhook(ctx, other.ID, processed.ID); !errors.Is(err, ErrWebhookNotFound) {
		t.Fatalf("expected cross-tenant delete to miss, got %v", err)
	}
	if err := sqlStore.DeleteWebhook(ctx, tenant.ID, processed.ID); err != nil {
		t.Fatalf("delete webhook: %v", err)
	}
	all, err := sqlStore.ListWebhooks(ctx, tenant.ID)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one webhook left, got %d err=%v", len(all), err)
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	cases := []CreateWebhookInput{
		{TenantID: "t", Name: "n", URL: "ftp://example.com", Events: []string{"message_processed"}},
		{TenantID: "t", Name: "n", URL: "https://example.com"},
		{TenantID: "t", URL: "https://example.com", Events: []string{"x"}},
	}
	for _, input := range cases {
		if _, err := sqlStore.CreateWebhook(ctx, input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", input, err)
		}
	}
}

func TestEndpointLifecycle(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	tenant := createTestTenant(t, sqlStore, "acme")
	other := createTestTenant(t, sqlStore, "other")
	agent, err := sqlStore.CreateAgent(ctx, CreateAgentInput{TenantID: tenant.ID, Name: "Support", Type: "general", Endpoint: "support"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	endpoint, err := sqlStore.CreateEndpoint(ctx, CreateEndpointInput{TenantID: tenant.ID, AgentID: agent.ID, Name: "forms", Path: "/forms/"})
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	if endpoint.Path != "forms" || !strings.HasPrefix(endpoint.Secret, "whsec_") {
		t.Fatalf("unexpected endpoint: %+v", endpoint)
	}
	if _, err := sqlStore.CreateEndpoint(ctx, CreateEndpointInput{TenantID: other.ID, Name: "dup", Path: "forms"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected duplicate path error, got %v", err)
	}
	if _, err := sqlStore.CreateEndpoint(ctx, CreateEndpointInput{TenantID: other.ID, AgentID: agent.ID, Name: "x", Path: "x"}); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected unpermitted agent to be rejected, got %v", err)
	}
	if _, err := sqlStore.CreateEndpoint(ctx, CreateEndpointInput{TenantID: tenant.ID, Name: "bad", Path: "a/b"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid path error, got %v", err)
	}

	found, err := sqlStore.LookupEndpointByPath(ctx, "forms")
	if err != nil {
		t.Fatalf("lookup endpoint by path: %v", err)
	}
	if found.AgentID != agent.ID || found.TenantID != tenant.ID {
		t.Fatalf("unexpected endpoint: %+v", found)
	}

	for _, code := range []int{200, 500} {
		if _, err := sqlStore.CreateEndpointLog(ctx, CreateEndpointLogInput{
			EndpointID:   endpoint.ID,
			RequestData:  map[string]any{"message": "hi"},
			ResponseData: map[string]any{"status": code},
			StatusCode:   code,
		}); err != nil {
			t.Fatalf("create endpoint log: %v", err)
		}
	}
	logs, err := sqlStore.ListEndpointLogs(ctx, endpoint.ID, 0)
	if err != nil {
		t.Fatalf("list endpoint logs: %v", err)
	}
	if len(logs) != 2 || logs[0].RequestData["message"] != "hi" {
		t.Fatalf("unexpected endpoint logs: %+v", logs)
	}

	if err := sqlStore.DeleteEndpoint(ctx, other.ID, endpoint.ID); !errors.Is(err, ErrEndpointNotFound) {
		t.Fatalf("expected cross-tenant delete to miss, got %v", err)
	}
	if err := sqlStore.DeleteEndpoint(ctx, tenant.ID, endpoint.ID); err != nil {
		t.Fatalf("delete endpoint: %v", err)
	}
	if _, err := sqlStore.LookupEndpointByPath(ctx, "forms"); !errors.Is(err, ErrEndpointNotFound) {
		t.Fatalf("expected deleted endpoint to miss, got %v", err)
	}
	logs, err = sqlStore.ListEndpointLogs(ctx, endpoint.ID, 10)
	if err != nil || len(logs) != 0 {
		t.Fatalf("expected logs removed with endpoint, got %d err=%v", len(logs), err)
	}
}
