package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendPostsEnvelope(t *testing.T) {
	var (
		received    Envelope
		contentType string
		token       string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", req.Method)
		}
		contentType = req.Header.Get("Content-Type")
		token = req.Header.Get("X-Token")
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewSender(time.Second)
	sender.now = func() time.Time { return time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC) }
	ok, err := sender.Send(context.Background(), server.URL, map[string]string{"X-Token": "abc"}, "message_processed", map[string]any{"agent_id": "agent_1"})
	if err != nil || !ok {
		t.Fatalf("expected delivery success, ok=%v err=%v", ok, err)
	}
	if contentType != "application/json" || token != "abc" {
		t.Fatalf("unexpected headers: content-type=%q token=%q", contentType, token)
	}
	if received.Event != "message_processed" || received.Timestamp != "2026-05-01T08:30:00Z" || received.Data["agent_id"] != "agent_1" {
		t.Fatalf("unexpected envelope: %+v", received)
	}
}

func TestSendTreatsOtherStatusesAsFailure(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusBadRequest, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		ok, err := NewSender(time.Second).Send(context.Background(), server.URL, nil, "message_error", nil)
		server.Close()
		if ok || err == nil {
			t.Fatalf("status %d: expected failure, ok=%v err=%v", status, ok, err)
		}
	}
}

func TestSendTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ok, err := NewSender(50*time.Millisecond).Send(context.Background(), server.URL, nil, "message_processed", nil)
	if ok || err == nil {
		t.Fatalf("expected timeout failure, ok=%v err=%v", ok, err)
	}
}

func TestSendRejectsUnsupportedScheme(t *testing.T) {
	if ok, err := NewSender(0).Send(context.Background(), "ftp://example.com", nil, "x", nil); ok || err == nil {
		t.Fatal("expected scheme error")
	}
}
