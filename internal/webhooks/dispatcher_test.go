package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

type fakeStore struct {
	webhooks []store.Webhook
	err      error
}

func (f *fakeStore) ListActiveWebhooksForEvent(ctx context.Context, tenantID, event string) ([]store.Webhook, error) {
	return f.webhooks, f.err
}

type sentEvent struct {
	url   string
	event string
	data  map[string]any
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []sentEvent
	ok   bool
	done chan struct{}
}

func (f *fakeDeliverer) Send(ctx context.Context, url string, headers map[string]string, event string, data map[string]any) (bool, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentEvent{url: url, event: event, data: data})
	f.mu.Unlock()
	f.done <- struct{}{}
	if !f.ok {
		return false, errors.New("status 500")
	}
	return true, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (f *fakeRecorder) ObserveWebhookDelivery(event, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, event+":"+outcome)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishDeliversToSubscribedWebhooks(t *testing.T) {
	webhookStore := &fakeStore{webhooks: []store.Webhook{
		{ID: "w1", URL: "https://a.example.com"},
		{ID: "w2", URL: "https://b.example.com"},
	}}
	deliverer := &fakeDeliverer{ok: true, done: make(chan struct{}, 2)}
	dispatcher := NewDispatcher(webhookStore, deliverer, Config{Workers: 2}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Start(ctx) }()

	queued := dispatcher.Publish(ctx, "tenant_1", "message_processed", map[string]any{"message": "hi"})
	if queued != 2 {
		t.Fatalf("expected 2 queued deliveries, got %d", queued)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-deliverer.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	deliverer.mu.Lock()
	defer deliverer.mu.Unlock()
	if len(deliverer.sent) != 2 || deliverer.sent[0].event != "message_processed" {
		t.Fatalf("unexpected deliveries: %+v", deliverer.sent)
	}
}

func TestPublishSwallowsLookupErrors(t *testing.T) {
	dispatcher := NewDispatcher(&fakeStore{err: errors.New("db down")}, &fakeDeliverer{}, Config{}, testLogger())
	if queued := dispatcher.Publish(context.Background(), "tenant_1", "message_error", nil); queued != 0 {
		t.Fatalf("expected nothing queued, got %d", queued)
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	webhookStore := &fakeStore{webhooks: []store.Webhook{{ID: "w1"}, {ID: "w2"}, {ID: "w3"}}}
	recorder := &fakeRecorder{}
	dispatcher := NewDispatcher(webhookStore, &fakeDeliverer{}, Config{Workers: 1, QueueSize: 2}, testLogger())
	dispatcher.SetRecorder(recorder)

	if queued := dispatcher.Publish(context.Background(), "tenant_1", "message_processed", nil); queued != 2 {
		t.Fatalf("expected 2 queued deliveries, got %d", queued)
	}
	if err := dispatcher.Enqueue(Delivery{WebhookID: "extra"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.outcomes) != 1 || recorder.outcomes[0] != "message_processed:dropped" {
		t.Fatalf("unexpected outcomes: %#v", recorder.outcomes)
	}
}

func TestFailedDeliveryIsRecorded(t *testing.T) {
	webhookStore := &fakeStore{webhooks: []store.Webhook{{ID: "w1", URL: "https://a.example.com"}}}
	deliverer := &fakeDeliverer{ok: false, done: make(chan struct{}, 1)}
	recorder := &fakeRecorder{}
	dispatcher := NewDispatcher(webhookStore, deliverer, Config{Workers: 1}, testLogger())
	dispatcher.SetRecorder(recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Start(ctx) }()

	dispatcher.Publish(ctx, "tenant_1", "message_error", map[string]any{"error": "boom"})
	select {
	case <-deliverer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recorder.mu.Lock()
		count := len(recorder.outcomes)
		recorder.mu.Unlock()
		if count == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.outcomes) != 1 || recorder.outcomes[0] != "message_error:failed" {
		t.Fatalf("unexpected outcomes: %#v", recorder.outcomes)
	}
}
