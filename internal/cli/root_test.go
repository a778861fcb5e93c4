package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func useTempDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.sqlite")
	t.Setenv("AGENT_ORCHESTRATOR_DB_DRIVER", "sqlite")
	t.Setenv("AGENT_ORCHESTRATOR_DB_DSN", path)
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestCreateTenantSeedAndAdmin(t *testing.T) {
	dbPath := useTempDatabase(t)

	if out, err := runCommand(t, "migrate"); err != nil || !strings.Contains(out, "migrations applied") {
		t.Fatalf("migrate: %v %q", err, out)
	}
	out, err := runCommand(t, "create-tenant", "--name", "city", "--api-key", "key-city")
	if err != nil {
		t.Fatalf("create-tenant: %v", err)
	}
	if !strings.Contains(out, "api key: key-city") {
		t.Fatalf("unexpected create-tenant output %q", out)
	}

	catalogPath := filepath.Join(t.TempDir(), "agents.yaml")
	catalogYAML := "agents:\n  - {name: Billing, type: general, endpoint: billing, tenants: [city, ghost]}\n"
	if err := os.WriteFile(catalogPath, []byte(catalogYAML), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	out, err = runCommand(t, "seed", "--catalog", catalogPath)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "agents created: 1") || !strings.Contains(out, "unknown tenants: ghost") {
		t.Fatalf("unexpected seed output %q", out)
	}

	if _, err := runCommand(t, "create-admin", "--email", "Admin@City.example", "--username", "admin", "--password", "pw", "--tenant", "city"); err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if _, err := runCommand(t, "create-admin", "--email", "admin@city.example", "--username", "admin", "--password", "pw"); err == nil {
		t.Fatal("expected duplicate admin to fail")
	}

	sqlStore, err := store.New(store.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer sqlStore.Close()
	user, err := sqlStore.LookupUserByEmail(context.Background(), "admin@city.example")
	if err != nil {
		t.Fatalf("lookup admin: %v", err)
	}
	tenant, err := sqlStore.LookupTenantByAPIKey(context.Background(), "key-city")
	if err != nil {
		t.Fatalf("lookup tenant: %v", err)
	}
	if user.TenantID != tenant.ID || !user.IsAdmin {
		t.Fatalf("expected admin in city tenant, got %#v", user)
	}
}

func TestCreateTenantRequiresName(t *testing.T) {
	useTempDatabase(t)
	if _, err := runCommand(t, "create-tenant"); err == nil {
		t.Fatal("expected missing --name to fail")
	}
}

func TestAskAndStatusAgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/process":
			if r.Header.Get("X-API-Key") != "key-city" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Invalid API Key"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"agent":{"id":"a1","name":"Desk"},"response":{"content":"we can help"},"routing_reason":"default"}`))
		case "/api/v1/info":
			_, _ = w.Write([]byte(`{"name":"agent-orchestrator","version":"0.1.0","environment":"test"}`))
		case "/api/v1/heartbeat":
			_, _ = w.Write([]byte(`{"overall":"healthy","components":[{"name":"api","state":"healthy"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	t.Setenv("AGENT_ORCHESTRATOR_API_KEY", "")

	out, err := runCommand(t, "ask", "--api-url", server.URL, "--api-key", "key-city", "--message", "hello")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "agent: Desk (default)") || !strings.Contains(out, "we can help") {
		t.Fatalf("unexpected ask output %q", out)
	}
	if _, err := runCommand(t, "ask", "--api-url", server.URL, "--api-key", "wrong", "--message", "hello"); err == nil || !strings.Contains(err.Error(), "Invalid API Key") {
		t.Fatalf("expected api error, got %v", err)
	}

	out, err = runCommand(t, "status", "--api-url", server.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "agent-orchestrator 0.1.0 (test)") || !strings.Contains(out, "overall: healthy") {
		t.Fatalf("unexpected status output %q", out)
	}
}
