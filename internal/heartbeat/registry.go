// Package heartbeat tracks the health of long-running runtime components.
package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"

	OverallIdle    = "idle"
	OverallUnknown = "unknown"
)

// Reporter is implemented by Registry and handed to components.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	BaseState      string `json:"base_state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

// Degraded lists components that are degraded or stale.
func (s Snapshot) Degraded() []string {
	names := []string{}
	for _, component := range s.Components {
		if IsDegradedState(component.State) {
			names = append(names, component.Name)
		}
	}
	return names
}

type component struct {
	state      string
	message    string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	components map[string]component
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]component{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(name, message string) {
	r.update(name, StateStarting, message, nil)
}

// Beat marks the component healthy and refreshes its staleness clock.
func (r *Registry) Beat(name, message string) {
	r.update(name, StateHealthy, message, nil)
}

// Touch refreshes the beat time of a healthy component and leaves every
// other state alone.
func (r *Registry) Touch(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.components[name]
	if !ok || record.state != StateHealthy {
		return
	}
	record.lastBeatAt = now
	r.components[name] = record
}

func (r *Registry) Degrade(name, message string, err error) {
	r.update(name, StateDegraded, message, err)
}

func (r *Registry) Disabled(name, message string) {
	r.update(name, StateDisabled, message, nil)
}

func (r *Registry) Stopped(name, message string) {
	r.update(name, StateStopped, message, nil)
}

func (r *Registry) update(name, state, message string, err error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.components[name]
	record.state = state
	record.message = strings.TrimSpace(message)
	record.lastError = ""
	if err != nil {
		record.lastError = strings.TrimSpace(err.Error())
	}
	record.updatedAt = now
	if state == StateHealthy || record.lastBeatAt.IsZero() {
		record.lastBeatAt = now
	}
	r.components[name] = record
}

// Snapshot reports every component. Healthy or starting components that have
// not beaten within staleAfter are reported stale; zero disables staleness.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ComponentStatus, 0, len(r.components))
	for name, record := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          record.state,
			BaseState:      record.state,
			Message:        record.message,
			Error:          record.lastError,
			LastBeatAtUnix: record.lastBeatAt.Unix(),
			UpdatedAtUnix:  record.updatedAt.Unix(),
		}
		live := record.state == StateHealthy || record.state == StateStarting
		if staleAfter > 0 && live && now.Sub(record.lastBeatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		results = append(results, status)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         overall(results),
		Components:      results,
	}
}

func IsDegradedState(state string) bool {
	return state == StateDegraded || state == StateStale
}

// overall is degraded if any component is, starting while any component
// starts, and idle when everything is disabled or stopped.
func overall(items []ComponentStatus) string {
	if len(items) == 0 {
		return OverallUnknown
	}
	starting, active := false, false
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			starting = true
		case StateDisabled, StateStopped:
		default:
			active = true
		}
	}
	switch {
	case starting:
		return StateStarting
	case active:
		return StateHealthy
	default:
		return OverallIdle
	}
}
