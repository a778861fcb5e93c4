// Package line receives LINE Messaging API webhooks and answers text
// messages through the gateway.
package line

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dwizi/agent-orchestrator/internal/connectors"
	"github.com/dwizi/agent-orchestrator/internal/heartbeat"
)

const (
	ChannelName     = "line"
	SignatureHeader = "X-Line-Signature"
	maxWebhookBody  = 1 << 20
	componentName   = "connector:line"
)

type Config struct {
	ChannelSecret      string
	ChannelAccessToken string
	APIBase            string
	TenantID           string
}

type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

type Connector struct {
	secret   string
	tenantID string
	client   *Client
	replier  Replier
	gateway  connectors.ChannelGateway
	logger   *slog.Logger
	reporter heartbeat.Reporter
}

func New(cfg Config, gateway connectors.ChannelGateway, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	client := NewClient(cfg.ChannelAccessToken, cfg.APIBase)
	return &Connector{
		secret:   strings.TrimSpace(cfg.ChannelSecret),
		tenantID: strings.TrimSpace(cfg.TenantID),
		client:   client,
		replier:  client,
		gateway:  gateway,
		logger:   logger,
	}
}

func (c *Connector) Name() string {
	return ChannelName
}

func (c *Connector) Client() *Client {
	return c.client
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}

func (c *Connector) Enabled() bool {
	return c.secret != "" && c.client.accessToken != "" && c.tenantID != "" && c.gateway != nil
}

// Start only reports health; LINE traffic arrives through ServeHTTP.
func (c *Connector) Start(ctx context.Context) error {
	if c.reporter != nil {
		c.reporter.Starting(componentName, "starting")
	}
	if !c.Enabled() {
		if c.reporter != nil {
			c.reporter.Disabled(componentName, "channel secret, access token or tenant missing")
		}
		c.logger.Info("connector disabled, configuration incomplete")
		<-ctx.Done()
		return nil
	}
	if c.reporter != nil {
		c.reporter.Beat(componentName, "awaiting webhooks")
	}
	c.logger.Info("connector started", "api_base", c.client.apiBase, "tenant_id", c.tenantID)
	<-ctx.Done()
	if c.reporter != nil {
		c.reporter.Stopped(componentName, "stopped")
	}
	return nil
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []event `json:"events"`
}

type event struct {
	Type       string   `json:"type"`
	ReplyToken string   `json:"replyToken"`
	Timestamp  int64    `json:"timestamp"`
	Source     source   `json:"source"`
	Message    *message `json:"message,omitempty"`
}

type source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServeHTTP handles POST /callback/line.
func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.Enabled() {
		http.Error(w, "LINE channel is not configured", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	signature := r.Header.Get(SignatureHeader)
	if strings.TrimSpace(signature) == "" {
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}
	if err := VerifySignature(c.secret, body, signature); err != nil {
		c.logger.Warn("line webhook rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, item := range payload.Events {
		c.handleEvent(r.Context(), item)
	}
	if c.reporter != nil {
		c.reporter.Beat(componentName, "webhook handled")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (c *Connector) handleEvent(ctx context.Context, item event) {
	if item.Type != "message" || item.Message == nil || item.Message.Type != "text" {
		c.logger.Debug("line event ignored", "type", item.Type)
		return
	}
	text := strings.TrimSpace(item.Message.Text)
	if text == "" {
		return
	}
	userID := item.Source.UserID
	c.logger.Info("line message received", "user_id", userID, "source_type", item.Source.Type)

	reply := c.gateway.HandleChannelMessage(ctx, c.tenantID, ChannelName, userID, text)
	if err := c.replier.Reply(ctx, item.ReplyToken, reply); err != nil {
		c.logger.Error("line reply failed", "user_id", userID, "error", err)
		if c.reporter != nil && !errors.Is(err, context.Canceled) {
			c.reporter.Degrade(componentName, "reply failed", err)
		}
	}
}
