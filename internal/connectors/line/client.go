package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAPIBase = "https://api.line.me"
	maxTextRunes   = 5000
	maxQuickReply  = 13
	maxLabelRunes  = 20
)

var ErrInvalidSignature = errors.New("invalid line signature")

// VerifySignature checks the X-Line-Signature header: base64 HMAC-SHA256 of
// the raw body keyed with the channel secret.
func VerifySignature(secret string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature LINE sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

type Client struct {
	accessToken string
	apiBase     string
	httpClient  *http.Client
}

func NewClient(accessToken, apiBase string) *Client {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		accessToken: strings.TrimSpace(accessToken),
		apiBase:     strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("reply token is required")
	}
	return c.post(ctx, "/v2/bot/message/reply", map[string]any{
		"replyToken": replyToken,
		"messages":   []textMessage{newTextMessage(text, nil)},
	})
}

// Push sends text to a user outside a reply window. quickReplies become
// message actions; LINE accepts at most 13.
func (c *Client) Push(ctx context.Context, userID, text string, quickReplies []string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	return c.post(ctx, "/v2/bot/message/push", map[string]any{
		"to":       userID,
		"messages": []textMessage{newTextMessage(text, quickReplies)},
	})
}

func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, errors.New("user id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v2/bot/profile/"+url.PathEscape(userID), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("line profile: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	if err != nil {
		return Profile{}, fmt.Errorf("read line profile: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("line profile failed: status=%d body=%q", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return Profile{}, fmt.Errorf("decode line profile: %w", err)
	}
	return profile, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line %s: %w", path, err)
	}
	defer res.Body.Close()
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 8192))
		return fmt.Errorf("line %s failed: status=%d body=%q", path, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type textMessage struct {
	Type       string      `json:"type"`
	Text       string      `json:"text"`
	QuickReply *quickReply `json:"quickReply,omitempty"`
}

type quickReply struct {
	Items []quickReplyItem `json:"items"`
}

type quickReplyItem struct {
	Type   string        `json:"type"`
	Action messageAction `json:"action"`
}

type messageAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

func newTextMessage(text string, quickReplies []string) textMessage {
	message := textMessage{Type: "text", Text: truncateRunes(strings.TrimSpace(text), maxTextRunes)}
	items := make([]quickReplyItem, 0, len(quickReplies))
	for _, option := range quickReplies {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		items = append(items, quickReplyItem{
			Type: "action",
			Action: messageAction{
				Type:  "message",
				Label: truncateRunes(option, maxLabelRunes),
				Text:  option,
			},
		})
		if len(items) == maxQuickReply {
			break
		}
	}
	if len(items) > 0 {
		message.QuickReply = &quickReply{Items: items}
	}
	return message
}

func truncateRunes(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
