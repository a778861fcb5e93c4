// Package archive keeps conversation history and case records in a document store.
package archive

import (
	"context"
	"time"
)

type Conversation struct {
	TenantID    string         `bson:"tenant_id" json:"tenant_id"`
	UserID      string         `bson:"user_id,omitempty" json:"user_id,omitempty"`
	AgentID     string         `bson:"agent_id,omitempty" json:"agent_id,omitempty"`
	Source      string         `bson:"source,omitempty" json:"source,omitempty"`
	UserMessage string         `bson:"user_message" json:"user_message"`
	BotResponse string         `bson:"bot_response" json:"bot_response"`
	Metadata    map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Timestamp   time.Time      `bson:"timestamp" json:"timestamp"`
}

type AgentResponse struct {
	TenantID    string         `bson:"tenant_id" json:"tenant_id"`
	AgentID     string         `bson:"agent_id" json:"agent_id"`
	AgentName   string         `bson:"agent_name" json:"agent_name"`
	UserMessage string         `bson:"user_message" json:"user_message"`
	BotResponse string         `bson:"bot_response" json:"bot_response"`
	Context     map[string]any `bson:"context,omitempty" json:"context,omitempty"`
	Timestamp   time.Time      `bson:"timestamp" json:"timestamp"`
}

// Case is a complaint or welfare request recorded by a service agent.
type Case struct {
	TenantID   string         `bson:"tenant_id" json:"tenant_id"`
	UserID     string         `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Kind       string         `bson:"kind" json:"kind"`
	Category   string         `bson:"category" json:"category"`
	Urgency    string         `bson:"urgency,omitempty" json:"urgency,omitempty"`
	Department string         `bson:"department,omitempty" json:"department,omitempty"`
	Message    string         `bson:"message" json:"message"`
	Details    map[string]any `bson:"details,omitempty" json:"details,omitempty"`
	Status     string         `bson:"status" json:"status"`
	Timestamp  time.Time      `bson:"timestamp" json:"timestamp"`
}

type Archive interface {
	SaveConversation(ctx context.Context, conversation Conversation) (string, error)
	SaveAgentResponse(ctx context.Context, response AgentResponse) (string, error)
	SaveCase(ctx context.Context, record Case) (string, error)
	FindRelevant(ctx context.Context, tenantID, query string, limit int) ([]Conversation, error)
	RecentConversations(ctx context.Context, tenantID string, limit int) ([]Conversation, error)
	Close(ctx context.Context) error
}

// Nop discards writes and finds nothing.
type Nop struct{}

func (Nop) SaveConversation(context.Context, Conversation) (string, error) { return "", nil }
func (Nop) SaveAgentResponse(context.Context, AgentResponse) (string, error) { return "", nil }
func (Nop) SaveCase(context.Context, Case) (string, error) { return "", nil }
func (Nop) Close(context.Context) error { return nil }
func (Nop) RecentConversations(context.Context, string, int) ([]Conversation, error) {
	return nil, nil
}
func (Nop) FindRelevant(context.Context, string, string, int) ([]Conversation, error) {
	return nil, nil
}
