// Package catalog seeds agents, templates, permissions and training
// examples from a YAML file.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dwizi/agent-orchestrator/internal/store"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Agents []AgentSpec `yaml:"agents"`
}

type AgentSpec struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Type        string        `yaml:"type"`
	Endpoint    string        `yaml:"endpoint"`
	Keywords    []string      `yaml:"keywords"`
	Status      string        `yaml:"status"`
	Template    string        `yaml:"template"`
	Examples    []ExampleSpec `yaml:"examples"`
	Tenants     []string      `yaml:"tenants"`
}

type ExampleSpec struct {
	Input       string `yaml:"input"`
	Output      string `yaml:"output"`
	Description string `yaml:"description"`
}

type Store interface {
	UpsertAgentByEndpoint(ctx context.Context, input store.CreateAgentInput) (store.Agent, bool, error)
	ResolveTenant(ctx context.Context, ref string) (store.Tenant, error)
	GrantPermission(ctx context.Context, tenantID, agentID string) error
	ListTrainingExamples(ctx context.Context, input store.ListTrainingExamplesInput) ([]store.TrainingExample, error)
	AddTrainingExample(ctx context.Context, input store.AddTrainingExampleInput) (store.TrainingExample, error)
}

type Result struct {
	Created        int
	Updated        int
	Granted        int
	ExamplesAdded  int
	UnknownTenants []string
}

func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog. Unknown keys are rejected.
func Parse(data []byte) (Catalog, error) {
	var catalog Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	seen := map[string]bool{}
	for index, agent := range catalog.Agents {
		endpoint := strings.TrimSpace(agent.Endpoint)
		if strings.TrimSpace(agent.Name) == "" || strings.TrimSpace(agent.Type) == "" || endpoint == "" {
			return Catalog{}, fmt.Errorf("catalog agent %d: name, type and endpoint are required", index+1)
		}
		if seen[endpoint] {
			return Catalog{}, fmt.Errorf("catalog agent %d: duplicate endpoint %q", index+1, endpoint)
		}
		seen[endpoint] = true
	}
	return catalog, nil
}

// Apply upserts every agent by endpoint. Tenants are matched by id or name;
// unknown tenants are reported in the result, not treated as errors.
func Apply(ctx context.Context, target Store, catalog Catalog, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	result := Result{}
	for _, spec := range catalog.Agents {
		agent, created, err := target.UpsertAgentByEndpoint(ctx, store.CreateAgentInput{
			Name:            spec.Name,
			Description:     spec.Description,
			Type:            spec.Type,
			Endpoint:        spec.Endpoint,
			Keywords:        spec.Keywords,
			Status:          spec.Status,
			TemplateContent: spec.Template,
		})
		if err != nil {
			return result, fmt.Errorf("apply agent %s: %w", spec.Endpoint, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}

		for _, ref := range spec.Tenants {
			ref = strings.TrimSpace(ref)
			if ref == "" {
				continue
			}
			tenant, err := target.ResolveTenant(ctx, ref)
			if errors.Is(err, store.ErrTenantNotFound) {
				logger.Warn("catalog tenant not found", "tenant", ref, "agent", spec.Endpoint)
				result.UnknownTenants = append(result.UnknownTenants, ref)
				continue
			}
			if err != nil {
				return result, fmt.Errorf("resolve tenant %s: %w", ref, err)
			}
			if err := target.GrantPermission(ctx, tenant.ID, agent.ID); err != nil {
				return result, fmt.Errorf("grant %s to %s: %w", spec.Endpoint, ref, err)
			}
			result.Granted++
		}

		added, err := addMissingExamples(ctx, target, agent.ID, spec.Examples)
		if err != nil {
			return result, fmt.Errorf("apply examples for %s: %w", spec.Endpoint, err)
		}
		result.ExamplesAdded += added
	}
	logger.Info("catalog applied",
		"created", result.Created,
		"updated", result.Updated,
		"granted", result.Granted,
		"examples_added", result.ExamplesAdded,
	)
	return result, nil
}

func addMissingExamples(ctx context.Context, target Store, agentID string, examples []ExampleSpec) (int, error) {
	if len(examples) == 0 {
		return 0, nil
	}
	existing, err := target.ListTrainingExamples(ctx, store.ListTrainingExamplesInput{AgentID: agentID, Limit: 1000})
	if err != nil {
		return 0, err
	}
	known := map[string]bool{}
	for _, example := range existing {
		known[exampleKey(example.Input, example.Output)] = true
	}
	added := 0
	for _, example := range examples {
		key := exampleKey(example.Input, example.Output)
		if known[key] || strings.TrimSpace(example.Input) == "" || strings.TrimSpace(example.Output) == "" {
			continue
		}
		if _, err := target.AddTrainingExample(ctx, store.AddTrainingExampleInput{
			AgentID:     agentID,
			Input:       example.Input,
			Output:      example.Output,
			Description: example.Description,
		}); err != nil {
			return added, err
		}
		known[key] = true
		added++
	}
	return added, nil
}

func exampleKey(input, output string) string {
	return strings.TrimSpace(input) + "\x00" + strings.TrimSpace(output)
}
