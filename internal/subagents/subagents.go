// Package subagents holds built-in handlers for agent types that need more
// than a single prompt template.
package subagents

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dwizi/agent-orchestrator/internal/routing"
	"github.com/dwizi/agent-orchestrator/internal/store"
)

type Request struct {
	TenantID string
	UserID   string
	Source   string
	Agent    store.Agent
	Message  string
	Context  map[string]any
	Analysis routing.Analysis
}

type Response struct {
	Content string
	Data    map[string]any
}

type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

type HandlerFunc func(ctx context.Context, req Request) (Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Registry maps agent types to handlers. Lookups are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(agentType string, handler Handler) {
	key := normalizeType(agentType)
	if key == "" || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = handler
}

func (r *Registry) Lookup(agentType string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[normalizeType(agentType)]
	return handler, ok
}

func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for agentType := range r.handlers {
		types = append(types, agentType)
	}
	sort.Strings(types)
	return types
}

func normalizeType(agentType string) string {
	return strings.ToLower(strings.TrimSpace(agentType))
}
