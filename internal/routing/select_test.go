package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

func testAgents() []store.Agent {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []store.Agent{
		{ID: "agent_b", Name: "Billing", Endpoint: "billing", Keywords: []string{"invoice", "refund", "payment"}, CreatedAt: base.Add(time.Hour)},
		{ID: "agent_c", Name: "Civic Services", Endpoint: "civic", Keywords: []string{"garbage", "street light", "flood"}, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "agent_a", Name: "General", Endpoint: "general", CreatedAt: base},
	}
}

func TestSelectEmptyAgents(t *testing.T) {
	if _, _, err := Select("hello", Analysis{}, nil, ""); !errors.Is(err, ErrNoAgents) {
		t.Fatalf("expected ErrNoAgents, got %v", err)
	}
}

func TestSelectPrefersHint(t *testing.T) {
	agent, reason, err := Select("refund my invoice", Analysis{TargetAgent: "civic"}, testAgents(), "general")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent.ID != "agent_a" || reason != ReasonHint {
		t.Fatalf("expected hinted agent, got %s (%s)", agent.ID, reason)
	}
}

func TestSelectUsesClassifierTarget(t *testing.T) {
	cases := []string{"civic", "agent_c", "CIVIC SERVICES"}
	for _, target := range cases {
		agent, reason, err := Select("refund my invoice", Analysis{TargetAgent: target}, testAgents(), "")
		if err != nil {
			t.Fatalf("select %q: %v", target, err)
		}
		if agent.ID != "agent_c" || reason != ReasonClassifier {
			t.Fatalf("target %q: expected civic agent, got %s (%s)", target, agent.ID, reason)
		}
	}
}

func TestSelectUnknownHintFallsThrough(t *testing.T) {
	agent, reason, err := Select("garbage not collected", Analysis{TargetAgent: "nobody"}, testAgents(), "missing")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent.ID != "agent_c" || reason != ReasonKeyword {
		t.Fatalf("expected keyword match, got %s (%s)", agent.ID, reason)
	}
}

func TestSelectKeywordScoreUsesAnalysisData(t *testing.T) {
	analysis := Analysis{Type: "payment question", Data: map[string]any{"topic": "refund"}}
	agent, reason, err := Select("there is a flood", analysis, testAgents(), "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent.ID != "agent_b" || reason != ReasonKeyword {
		t.Fatalf("expected billing to win two keywords to one, got %s (%s)", agent.ID, reason)
	}
}

func TestSelectDefaultsToOldestAgent(t *testing.T) {
	agent, reason, err := Select("hello there", Analysis{}, testAgents(), "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent.ID != "agent_a" || reason != ReasonDefault {
		t.Fatalf("expected oldest agent, got %s (%s)", agent.ID, reason)
	}
}

func TestSelectDefaultBreaksTiesByID(t *testing.T) {
	same := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agents := []store.Agent{
		{ID: "agent_z", Endpoint: "z", CreatedAt: same},
		{ID: "agent_m", Endpoint: "m", CreatedAt: same},
	}
	agent, _, err := Select("hello", Analysis{}, agents, "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent.ID != "agent_m" {
		t.Fatalf("expected id tie-break, got %s", agent.ID)
	}
	if agents[0].ID != "agent_z" {
		t.Fatal("expected input slice to be left untouched")
	}
}
