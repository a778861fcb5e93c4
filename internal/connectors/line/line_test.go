package line

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	reply string
}

func (f *fakeGateway) HandleChannelMessage(ctx context.Context, tenantID, channel, userID, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tenantID+"|"+channel+"|"+userID+"|"+text)
	return f.reply
}

type capturedRequest struct {
	path          string
	authorization string
	body          map[string]any
}

func newLineAPI(t *testing.T) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	captured := []capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		request := capturedRequest{path: r.URL.Path, authorization: r.Header.Get("Authorization")}
		if r.Method == http.MethodPost {
			if err := json.NewDecoder(r.Body).Decode(&request.body); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		mu.Lock()
		captured = append(captured, request)
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/v2/bot/profile/") {
			_, _ = w.Write([]byte(`{"userId":"U1","displayName":"Somchai","pictureUrl":"https://example.com/p.png"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func newTestConnector(apiBase string, gateway *fakeGateway) *Connector {
	return New(Config{
		ChannelSecret:      "channel-secret",
		ChannelAccessToken: "access-token",
		APIBase:            apiBase,
		TenantID:           "tenant-1",
	}, gateway, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	signature := Sign("secret", body)
	if err := VerifySignature("secret", body, signature); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifySignature("other", body, signature); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong secret, got %v", err)
	}
	if err := VerifySignature("secret", []byte(`{"events":[{}]}`), signature); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered body, got %v", err)
	}
	if err := VerifySignature("secret", body, "not base64!"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for garbage, got %v", err)
	}
}

func TestServeHTTPRepliesToTextMessages(t *testing.T) {
	api, captured := newLineAPI(t)
	gateway := &fakeGateway{reply: "Your report was received."}
	connector := newTestConnector(api.URL, gateway)

	body := `{"destination":"bot","events":[
		{"type":"message","replyToken":"rt-1","source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"text","text":" street light broken "}},
		{"type":"message","replyToken":"rt-2","source":{"type":"user","userId":"U1"},"message":{"id":"m2","type":"sticker"}},
		{"type":"follow","replyToken":"rt-3","source":{"type":"user","userId":"U2"}}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/callback/line", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign("channel-secret", []byte(body)))
	rec := httptest.NewRecorder()
	connector.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if len(gateway.calls) != 1 || gateway.calls[0] != "tenant-1|line|U1|street light broken" {
		t.Fatalf("unexpected gateway calls: %v", gateway.calls)
	}
	if len(*captured) != 1 {
		t.Fatalf("expected one reply call, got %d", len(*captured))
	}
	reply := (*captured)[0]
	if reply.path != "/v2/bot/message/reply" || reply.authorization != "Bearer access-token" {
		t.Fatalf("unexpected reply request: %#v", reply)
	}
	if reply.body["replyToken"] != "rt-1" {
		t.Fatalf("unexpected reply token: %#v", reply.body)
	}
	messages := reply.body["messages"].([]any)
	first := messages[0].(map[string]any)
	if first["type"] != "text" || first["text"] != "Your report was received." {
		t.Fatalf("unexpected reply message: %#v", first)
	}
}

func TestServeHTTPRejectsBadSignatures(t *testing.T) {
	gateway := &fakeGateway{reply: "x"}
	connector := newTestConnector("http://127.0.0.1:1", gateway)
	body := `{"events":[]}`

	req := httptest.NewRequest(http.MethodPost, "/callback/line", strings.NewReader(body))
	rec := httptest.NewRecorder()
	connector.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/callback/line", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign("wrong-secret", []byte(body)))
	rec = httptest.NewRecorder()
	connector.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	if len(gateway.calls) != 0 {
		t.Fatal("gateway must not be called for rejected webhooks")
	}
}

func TestServeHTTPDisabledWithoutConfig(t *testing.T) {
	connector := New(Config{}, &fakeGateway{}, nil)
	rec := httptest.NewRecorder()
	connector.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback/line", strings.NewReader("{}")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestClientPushAndProfile(t *testing.T) {
	api, captured := newLineAPI(t)
	client := NewClient("access-token", api.URL)

	options := []string{"Report a problem", "Welfare information about elderly allowance", ""}
	if err := client.Push(context.Background(), "U1", "How can we help?", options); err != nil {
		t.Fatalf("push: %v", err)
	}
	push := (*captured)[0]
	if push.path != "/v2/bot/message/push" || push.body["to"] != "U1" {
		t.Fatalf("unexpected push: %#v", push)
	}
	message := push.body["messages"].([]any)[0].(map[string]any)
	items := message["quickReply"].(map[string]any)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected two quick replies, got %d", len(items))
	}
	action := items[1].(map[string]any)["action"].(map[string]any)
	if len([]rune(action["label"].(string))) != maxLabelRunes || action["text"] != options[1] {
		t.Fatalf("expected truncated label and full text, got %#v", action)
	}

	profile, err := client.Profile(context.Background(), "U1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.DisplayName != "Somchai" || profile.UserID != "U1" {
		t.Fatalf("unexpected profile: %#v", profile)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid reply token"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewClient("token", server.URL).Reply(context.Background(), "expired", "hi")
	if err == nil || !strings.Contains(err.Error(), "status=400") {
		t.Fatalf("expected status error, got %v", err)
	}
}
