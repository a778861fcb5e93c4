package llm

import (
	"context"
	"errors"
	"strings"
)

var ErrUnavailable = errors.New("llm unavailable")

// Request is a single completion call. Zero Temperature and MaxTokens use the client defaults.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ExtractJSONObject returns the outermost JSON object in a model reply,
// tolerating code fences and prose around it.
func ExtractJSONObject(raw string) (string, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return cleaned[start : end+1], true
}
