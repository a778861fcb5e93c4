package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/config"
	"github.com/dwizi/agent-orchestrator/internal/gateway"
	"github.com/dwizi/agent-orchestrator/internal/heartbeat"
)

const apiKeyHeader = "X-API-Key"

var ErrMissingAPIKey = errors.New("api key is required")

// Client talks to the tenant API of a running orchestrator.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// APIError carries the status and error body of a failed call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

type Info struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	Environment        string `json:"environment"`
	PublicHost         string `json:"public_host"`
	DBDriver           string `json:"db_driver"`
	LLMModel           string `json:"llm_model"`
	ClassifierEnabled  bool   `json:"classifier_enabled"`
	LINEEnabled        bool   `json:"line_enabled"`
	EventsEnabled      bool   `json:"events_enabled"`
	ArchiveEnabled     bool   `json:"archive_enabled"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

type TopAgent struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Requests  int64  `json:"requests"`
}

type Dashboard struct {
	Tenant        map[string]string `json:"tenant"`
	PeriodHours   int               `json:"period_hours"`
	TotalRequests int64             `json:"total_requests"`
	SuccessCount  int64             `json:"success_count"`
	ErrorCount    int64             `json:"error_count"`
	SuccessRate   float64           `json:"success_rate"`
	ActiveAgents  int               `json:"active_agents"`
	TopAgents     []TopAgent        `json:"top_agents"`
}

func New(cfg config.Config) (*Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.ClientTLSCAFile != "" {
		caBytes, err := os.ReadFile(cfg.ClientTLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read api tls ca file: %w", err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(caBytes); !ok {
			return nil, errors.New("parse api tls ca file")
		}
		tlsConfig.RootCAs = certPool
	}
	timeout := time.Duration(cfg.ClientTimeoutSec) * time.Second
	if timeout < time.Second {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.ClientAPIURL, "/"),
		apiKey:  strings.TrimSpace(cfg.ClientAPIKey),
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			Timeout:   timeout,
		},
	}, nil
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	if timeout < time.Second {
		return c
	}
	clone := *c
	if c.http == nil {
		clone.http = &http.Client{Timeout: timeout}
		return &clone
	}
	httpClone := *c.http
	httpClone.Timeout = timeout
	clone.http = &httpClone
	return &clone
}

// WithAPIKey returns a copy that authenticates as another tenant.
func (c *Client) WithAPIKey(apiKey string) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.apiKey = strings.TrimSpace(apiKey)
	return &clone
}

// Process sends a message through the routing pipeline. agentID may be empty
// to let the server pick the agent.
func (c *Client) Process(ctx context.Context, message, agentID string, messageContext map[string]any) (gateway.ProcessResult, error) {
	payload := map[string]any{"message": message}
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		payload["agent_id"] = agentID
	}
	if len(messageContext) > 0 {
		payload["context"] = messageContext
	}
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return gateway.ProcessResult{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/process", requestBody, true)
	if err != nil {
		return gateway.ProcessResult{}, err
	}
	var result gateway.ProcessResult
	if err := c.doJSON(req, &result); err != nil {
		return gateway.ProcessResult{}, err
	}
	return result, nil
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/dashboard", nil, true)
	if err != nil {
		return Dashboard{}, err
	}
	var dashboard Dashboard
	if err := c.doJSON(req, &dashboard); err != nil {
		return Dashboard{}, err
	}
	return dashboard, nil
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/info", nil, false)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := c.doJSON(req, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (c *Client) Heartbeat(ctx context.Context) (heartbeat.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/heartbeat", nil, false)
	if err != nil {
		return heartbeat.Snapshot{}, err
	}
	var snapshot heartbeat.Snapshot
	if err := c.doJSON(req, &snapshot); err != nil {
		return heartbeat.Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, authenticated bool) (*http.Request, error) {
	if authenticated && c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiError struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiError)
		if strings.TrimSpace(apiError.Error) == "" {
			apiError.Error = res.Status
		}
		return &APIError{StatusCode: res.StatusCode, Message: apiError.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
