package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dwizi/agent-orchestrator/internal/llm"
	"github.com/dwizi/agent-orchestrator/internal/prompt"
	"github.com/dwizi/agent-orchestrator/internal/store"
)

const DefaultClassifierPrompt = `Analyze the message below and identify:
1. the type of question or request
2. the sub-agent that should handle it
3. the key data needed to process it

Available sub-agents:
{agents}

Message: {message}

Reply with JSON only, using this structure:
{{
  "type": "type of question or request",
  "target_agent": "endpoint of the most suitable sub-agent",
  "urgency": "high | medium | low",
  "data": {{"key": "value"}}
}}`

// Analysis is the classifier's reading of a message. Parsed is false when the
// model reply could not be decoded; Raw always holds the reply text.
type Analysis struct {
	Type        string         `json:"type,omitempty"`
	TargetAgent string         `json:"target_agent,omitempty"`
	Urgency     string         `json:"urgency,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Raw         string         `json:"-"`
	Parsed      bool           `json:"-"`
}

type Classifier struct {
	llm            llm.Completer
	promptTemplate string
}

func NewClassifier(completer llm.Completer, promptTemplate string) *Classifier {
	if strings.TrimSpace(promptTemplate) == "" {
		promptTemplate = DefaultClassifierPrompt
	}
	return &Classifier{
		llm:            completer,
		promptTemplate: promptTemplate,
	}
}

func (c *Classifier) Classify(ctx context.Context, message string, agents []store.Agent) (Analysis, error) {
	rendered, err := prompt.Render(c.promptTemplate, map[string]string{
		"message": strings.TrimSpace(message),
		"agents":  describeAgents(agents),
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("render classifier prompt: %w", err)
	}
	response, err := c.llm.Complete(ctx, llm.Request{
		System:      "You route citizen and customer messages to sub-agents. Return only the JSON object.",
		Prompt:      rendered,
		Temperature: 0.1,
		MaxTokens:   400,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("classify message: %w", err)
	}
	return ParseAnalysis(response), nil
}

func describeAgents(agents []store.Agent) string {
	if len(agents) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(agents))
	for _, agent := range agents {
		line := fmt.Sprintf("- %s (%s): %s", agent.Endpoint, agent.Type, agent.Name)
		if description := strings.TrimSpace(agent.Description); description != "" {
			line += " - " + compactSnippet(description, 160)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// ParseAnalysis decodes a classifier reply, tolerating code fences and prose around the JSON object.
func ParseAnalysis(raw string) Analysis {
	analysis := Analysis{Raw: raw}
	object, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return analysis
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(object), &decoded); err != nil {
		return analysis
	}
	analysis.Parsed = true
	analysis.Type = stringField(decoded, "type")
	analysis.TargetAgent = stringField(decoded, "target_agent")
	analysis.Urgency = NormalizeUrgency(stringField(decoded, "urgency"))
	if data, ok := decoded["data"].(map[string]any); ok {
		analysis.Data = data
	}
	return analysis
}

func stringField(values map[string]any, key string) string {
	switch typed := values[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

// NormalizeUrgency maps urgency labels onto high, medium or low. Unknown values become empty.
func NormalizeUrgency(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high", "urgent", "critical", "p1":
		return "high"
	case "medium", "normal", "moderate", "p2":
		return "medium"
	case "low", "p3":
		return "low"
	default:
		return ""
	}
}

// compactSnippet collapses whitespace and cuts to at most max runes.
func compactSnippet(input string, max int) string {
	compact := strings.Join(strings.Fields(input), " ")
	runes := []rune(compact)
	if len(runes) <= max {
		return compact
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
