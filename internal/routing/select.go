package routing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

var ErrNoAgents = errors.New("no available agents")

type Reason string

const (
	ReasonHint       Reason = "hint"
	ReasonClassifier Reason = "classifier"
	ReasonKeyword    Reason = "keyword"
	ReasonDefault    Reason = "default"
)

// Select picks the agent for a message. Precedence: the explicit hint, the
// classifier's target, the strongest keyword match, then the oldest agent.
func Select(message string, analysis Analysis, agents []store.Agent, hint string) (store.Agent, Reason, error) {
	if len(agents) == 0 {
		return store.Agent{}, "", ErrNoAgents
	}
	ordered := stableOrder(agents)

	if hint = strings.TrimSpace(hint); hint != "" {
		if agent, ok := matchAgent(ordered, hint); ok {
			return agent, ReasonHint, nil
		}
	}
	if target := strings.TrimSpace(analysis.TargetAgent); target != "" {
		if agent, ok := matchAgent(ordered, target); ok {
			return agent, ReasonClassifier, nil
		}
	}
	if agent, ok := keywordMatch(ordered, routingText(message, analysis)); ok {
		return agent, ReasonKeyword, nil
	}
	return ordered[0], ReasonDefault, nil
}

func stableOrder(agents []store.Agent) []store.Agent {
	ordered := make([]store.Agent, len(agents))
	copy(ordered, agents)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// matchAgent compares the reference against endpoint, ID and name in that order.
func matchAgent(agents []store.Agent, ref string) (store.Agent, bool) {
	for _, field := range []func(store.Agent) string{
		func(a store.Agent) string { return a.Endpoint },
		func(a store.Agent) string { return a.ID },
		func(a store.Agent) string { return a.Name },
	} {
		for _, agent := range agents {
			if strings.EqualFold(strings.TrimSpace(field(agent)), ref) {
				return agent, true
			}
		}
	}
	return store.Agent{}, false
}

func routingText(message string, analysis Analysis) string {
	parts := []string{message, analysis.Type}
	if len(analysis.Data) > 0 {
		keys := make([]string, 0, len(analysis.Data))
		for key := range analysis.Data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			parts = append(parts, key, fmt.Sprint(analysis.Data[key]))
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func keywordMatch(agents []store.Agent, text string) (store.Agent, bool) {
	best := -1
	bestScore := 0
	for i, agent := range agents {
		score := 0
		for _, keyword := range agent.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword != "" && strings.Contains(text, keyword) {
				score++
			}
		}
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return store.Agent{}, false
	}
	return agents[best], true
}
