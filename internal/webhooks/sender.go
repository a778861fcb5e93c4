package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 5 * time.Second

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type Sender struct {
	client *http.Client
	now    func() time.Time
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Send posts a single event. It reports true only for 200, 201 and 202 responses.
func (s *Sender) Send(ctx context.Context, url string, headers map[string]string, event string, data map[string]any) (bool, error) {
	url = strings.TrimSpace(url)
	lower := strings.ToLower(url)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false, fmt.Errorf("unsupported webhook url scheme")
	}
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: s.now().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return false, fmt.Errorf("encode webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	for key, value := range headers {
		name := strings.TrimSpace(key)
		if name != "" {
			req.Header.Set(name, strings.TrimSpace(value))
		}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("send webhook: %w", err)
	}
	defer res.Body.Close()

	responseBody, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return true, nil
	default:
		return false, fmt.Errorf("webhook request failed: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(responseBody)))
	}
}
