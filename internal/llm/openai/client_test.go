package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dwizi/agent-orchestrator/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCompleteSendsChatRequest(t *testing.T) {
	var (
		receivedAuth string
		received     struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		receivedAuth = req.Header.Get("Authorization")
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "<think>plan</think>\n  Your report was filed.  "}},
			},
		})
	}))
	defer server.Close()

	client := New(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		Model:        "gpt-test",
		SystemPrompt: "You are a city assistant.",
	}, testLogger())

	reply, err := client.Complete(context.Background(), llm.Request{
		System:      "Reply in one sentence.",
		Prompt:      "The street light is broken",
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "Your report was filed." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if receivedAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", receivedAuth)
	}
	if received.Model != "gpt-test" || received.Temperature != 0.2 || received.MaxTokens != 1000 {
		t.Fatalf("unexpected request settings: %+v", received)
	}
	if len(received.Messages) != 2 || received.Messages[0].Role != "system" || received.Messages[1].Content != "The street light is broken" {
		t.Fatalf("unexpected messages: %+v", received.Messages)
	}
	if received.Messages[0].Content != "You are a city assistant.\n\nReply in one sentence." {
		t.Fatalf("unexpected system prompt %q", received.Messages[0].Content)
	}
}

func TestCompleteRequiresKeyForRemoteHost(t *testing.T) {
	client := New(Config{BaseURL: "https://api.openai.com/v1"}, testLogger())
	_, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCompleteSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(Config{APIKey: "k", BaseURL: server.URL}, testLogger())
	if _, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := New(Config{APIKey: "k", BaseURL: server.URL}, testLogger())
	if _, err := client.Complete(context.Background(), llm.Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestWithModelSharesTransport(t *testing.T) {
	client := New(Config{APIKey: "k", Model: "base"}, testLogger())
	classifier := client.WithModel("small")
	if classifier.Model() != "small" || client.Model() != "base" {
		t.Fatalf("unexpected models: %s / %s", classifier.Model(), client.Model())
	}
	if classifier.httpClient != client.httpClient {
		t.Fatal("expected shared http client")
	}
	if client.WithModel("") != client {
		t.Fatal("expected empty model to keep client")
	}
}
