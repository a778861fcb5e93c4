package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/archive"
	"github.com/dwizi/agent-orchestrator/internal/llm"
	"github.com/dwizi/agent-orchestrator/internal/prompt"
	"github.com/dwizi/agent-orchestrator/internal/routing"
	"github.com/dwizi/agent-orchestrator/internal/store"
	"github.com/dwizi/agent-orchestrator/internal/subagents"
)

var (
	ErrNoAgents          = routing.ErrNoAgents
	ErrNoTemplate        = errors.New("agent has no default template")
	ErrAgentNotPermitted = errors.New("agent is not available to this tenant")
	ErrEmptyMessage      = errors.New("message is required")
)

const (
	EventMessageProcessed = "message_processed"
	EventMessageError     = "message_error"

	RequestTypeProcessMessage = "process_message"
	RequestTypeWebhook        = "webhook"
	RequestTypeChannelMessage = "channel_message"

	ApologyReply = "Sorry, I can't process your request right now."

	relatedConversationLimit = 3
)

type Store interface {
	LookupTenant(ctx context.Context, id string) (store.Tenant, error)
	ListAgentsForTenant(ctx context.Context, tenantID string, activeOnly bool) ([]store.Agent, error)
	DefaultTemplate(ctx context.Context, agentID string) (store.Template, error)
	ListTrainingExamples(ctx context.Context, input store.ListTrainingExamplesInput) ([]store.TrainingExample, error)
	CreateUsageLog(ctx context.Context, input store.CreateUsageLogInput) (store.UsageLog, error)
	LookupEndpointByPath(ctx context.Context, path string) (store.Endpoint, error)
	CreateEndpointLog(ctx context.Context, input store.CreateEndpointLogInput) (store.EndpointLog, error)
}

type Classifier interface {
	Classify(ctx context.Context, message string, agents []store.Agent) (routing.Analysis, error)
}

// WebhookPublisher fans events out to outbound webhook subscribers.
type WebhookPublisher interface {
	Publish(ctx context.Context, tenantID, event string, data map[string]any) int
}

// EventSink streams events to live subscribers.
type EventSink interface {
	Publish(tenantID, eventType string, data map[string]any) int
}

type Recorder interface {
	ObserveMessage(agentType, status string, seconds float64)
	ObserveLLMCall(purpose string, err error)
}

type Dependencies struct {
	Store      Store
	LLM        llm.Completer
	Classifier Classifier
	Handlers   *subagents.Registry
	Webhooks   WebhookPublisher
	Events     EventSink
	Archive    archive.Archive
	Metrics    Recorder
	Logger     *slog.Logger
}

type Service struct {
	store      Store
	llm        llm.Completer
	classifier Classifier
	handlers   *subagents.Registry
	webhooks   WebhookPublisher
	events     EventSink
	archive    archive.Archive
	metrics    Recorder
	logger     *slog.Logger
	now        func() time.Time
}

type ProcessInput struct {
	TenantID    string
	Message     string
	Context     map[string]any
	UserID      string
	AgentHint   string
	RequestType string
	Source      string
}

type AgentSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
}

type Reply struct {
	Content   string         `json:"content"`
	AgentType string         `json:"agent_type"`
	Data      map[string]any `json:"data,omitempty"`
}

type ProcessResult struct {
	Success        bool              `json:"success"`
	Agent          AgentSummary      `json:"agent"`
	Response       Reply             `json:"response"`
	ProcessingTime float64           `json:"processing_time"`
	Analysis       *routing.Analysis `json:"analysis,omitempty"`
	RoutingReason  string            `json:"routing_reason"`
}

// New wires the dispatch manager. Classifier, Handlers, Webhooks, Events,
// Archive and Metrics are optional.
func New(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	archiveStore := deps.Archive
	if archiveStore == nil {
		archiveStore = archive.Nop{}
	}
	return &Service{
		store:      deps.Store,
		llm:        deps.LLM,
		classifier: deps.Classifier,
		handlers:   deps.Handlers,
		webhooks:   deps.Webhooks,
		events:     deps.Events,
		archive:    archiveStore,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessMessage routes one message to a sub-agent and records the outcome.
// Failures after the tenant is resolved are written to the usage log and
// announced as message_error before the error is returned.
func (s *Service) ProcessMessage(ctx context.Context, input ProcessInput) (ProcessResult, error) {
	start := s.now()
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return ProcessResult{}, ErrEmptyMessage
	}
	tenant, err := s.store.LookupTenant(ctx, strings.TrimSpace(input.TenantID))
	if err != nil {
		return ProcessResult{}, err
	}
	if tenant.Status != store.StatusActive {
		return ProcessResult{}, fmt.Errorf("tenant %s is %s: %w", tenant.ID, tenant.Status, store.ErrTenantNotFound)
	}
	if input.RequestType == "" {
		input.RequestType = RequestTypeProcessMessage
	}

	result, agent, err := s.dispatch(ctx, tenant, input, message)
	elapsed := s.now().Sub(start).Seconds()
	if err != nil {
		s.recordFailure(ctx, tenant, input, message, agent, err, elapsed)
		return ProcessResult{}, err
	}
	result.ProcessingTime = elapsed
	s.recordSuccess(ctx, tenant, input, message, agent, result)
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, tenant store.Tenant, input ProcessInput, message string) (ProcessResult, store.Agent, error) {
	agents, err := s.store.ListAgentsForTenant(ctx, tenant.ID, true)
	if err != nil {
		return ProcessResult{}, store.Agent{}, fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		return ProcessResult{}, store.Agent{}, ErrNoAgents
	}

	var analysis *routing.Analysis
	if s.classifier != nil {
		classified, err := s.classifier.Classify(ctx, message, agents)
		s.observeLLM("classify", err)
		if err != nil {
			s.logger.Warn("classifier failed, falling back to keyword routing", "tenant_id", tenant.ID, "error", err)
		} else {
			analysis = &classified
		}
	}
	var routed routing.Analysis
	if analysis != nil {
		routed = *analysis
	}

	agent, reason, err := routing.Select(message, routed, agents, input.AgentHint)
	if err != nil {
		return ProcessResult{}, store.Agent{}, err
	}
	if hint := strings.TrimSpace(input.AgentHint); hint != "" && reason != routing.ReasonHint {
		return ProcessResult{}, store.Agent{}, fmt.Errorf("agent %s: %w", hint, ErrAgentNotPermitted)
	}
	s.logger.Info("message routed",
		"tenant_id", tenant.ID,
		"agent_id", agent.ID,
		"agent_type", agent.Type,
		"reason", string(reason),
		"source", input.Source,
	)

	reply, err := s.respond(ctx, tenant, input, message, agent, routed)
	if err != nil {
		return ProcessResult{}, agent, err
	}
	return ProcessResult{
		Success: true,
		Agent: AgentSummary{
			ID:       agent.ID,
			Name:     agent.Name,
			Type:     agent.Type,
			Endpoint: agent.Endpoint,
		},
		Response:      reply,
		Analysis:      analysis,
		RoutingReason: string(reason),
	}, agent, nil
}

func (s *Service) respond(ctx context.Context, tenant store.Tenant, input ProcessInput, message string, agent store.Agent, analysis routing.Analysis) (Reply, error) {
	if handler, ok := s.handlers.Lookup(agent.Type); ok {
		response, err := handler.Handle(ctx, subagents.Request{
			TenantID: tenant.ID,
			UserID:   input.UserID,
			Source:   input.Source,
			Agent:    agent,
			Message:  message,
			Context:  input.Context,
			Analysis: analysis,
		})
		if err != nil {
			return Reply{}, fmt.Errorf("%s handler: %w", agent.Type, err)
		}
		return Reply{Content: strings.TrimSpace(response.Content), AgentType: agent.Type, Data: response.Data}, nil
	}

	if s.llm == nil {
		return Reply{}, llm.ErrUnavailable
	}
	template, err := s.store.DefaultTemplate(ctx, agent.ID)
	if err != nil {
		if errors.Is(err, store.ErrTemplateNotFound) {
			return Reply{}, fmt.Errorf("agent %s: %w", agent.ID, ErrNoTemplate)
		}
		return Reply{}, fmt.Errorf("load template: %w", err)
	}
	promptContext, err := s.buildContext(ctx, tenant, agent, message, input.Context)
	if err != nil {
		return Reply{}, err
	}
	rendered, err := prompt.Render(template.Content, map[string]string{
		"message": message,
		"input":   message,
		"context": promptContext,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("render template %s: %w", template.ID, err)
	}

	content, err := s.llm.Complete(ctx, llm.Request{Prompt: rendered})
	s.observeLLM("respond", err)
	if err != nil {
		return Reply{}, fmt.Errorf("generate response: %w", err)
	}
	return Reply{Content: strings.TrimSpace(content), AgentType: agent.Type}, nil
}

// buildContext formats request context, active training examples and, when
// an archive is configured, related past conversations.
func (s *Service) buildContext(ctx context.Context, tenant store.Tenant, agent store.Agent, message string, values map[string]any) (string, error) {
	records, err := s.store.ListTrainingExamples(ctx, store.ListTrainingExamplesInput{
		AgentID:    agent.ID,
		ActiveOnly: true,
		Limit:      prompt.DefaultMaxExamples,
	})
	if err != nil {
		return "", fmt.Errorf("load training examples: %w", err)
	}
	examples := make([]prompt.Example, 0, len(records))
	for _, record := range records {
		examples = append(examples, prompt.Example{Input: record.Input, Output: record.Output})
	}
	built := prompt.BuildContext(values, examples)

	related, err := s.archive.FindRelevant(ctx, tenant.ID, message, relatedConversationLimit)
	if err != nil {
		s.logger.Warn("related conversation lookup failed", "tenant_id", tenant.ID, "error", err)
		return built, nil
	}
	if len(related) == 0 {
		return built, nil
	}
	lines := []string{"Related conversations:"}
	for _, conversation := range related {
		lines = append(lines, fmt.Sprintf("- Q: %s\n  A: %s", conversation.UserMessage, conversation.BotResponse))
	}
	if built == "" {
		return strings.Join(lines, "\n"), nil
	}
	return built + "\n\n" + strings.Join(lines, "\n"), nil
}

func (s *Service) recordSuccess(ctx context.Context, tenant store.Tenant, input ProcessInput, message string, agent store.Agent, result ProcessResult) {
	requestData := map[string]any{
		"message":        message,
		"source":         input.Source,
		"routing_reason": result.RoutingReason,
	}
	if len(input.Context) > 0 {
		requestData["context"] = input.Context
	}
	responseData := map[string]any{
		"content":    result.Response.Content,
		"agent_type": result.Response.AgentType,
	}
	if len(result.Response.Data) > 0 {
		responseData["data"] = result.Response.Data
	}
	if _, err := s.store.CreateUsageLog(ctx, store.CreateUsageLogInput{
		TenantID:       tenant.ID,
		AgentID:        agent.ID,
		UserID:         input.UserID,
		RequestType:    input.RequestType,
		RequestData:    requestData,
		ResponseData:   responseData,
		ProcessingTime: result.ProcessingTime,
		Status:         store.UsageStatusSuccess,
	}); err != nil {
		s.logger.Error("usage log write failed", "tenant_id", tenant.ID, "agent_id", agent.ID, "error", err)
	}

	s.emit(ctx, tenant.ID, EventMessageProcessed, map[string]any{
		"agent_id":        agent.ID,
		"message":         message,
		"response":        result.Response.Content,
		"processing_time": result.ProcessingTime,
	})
	if s.metrics != nil {
		s.metrics.ObserveMessage(agent.Type, store.UsageStatusSuccess, result.ProcessingTime)
	}
	s.archiveExchange(ctx, tenant, input, message, agent, result)
}

func (s *Service) recordFailure(ctx context.Context, tenant store.Tenant, input ProcessInput, message string, agent store.Agent, cause error, elapsed float64) {
	s.logger.Error("message processing failed",
		"tenant_id", tenant.ID,
		"agent_id", agent.ID,
		"source", input.Source,
		"error", cause,
	)
	if _, err := s.store.CreateUsageLog(ctx, store.CreateUsageLogInput{
		TenantID:       tenant.ID,
		AgentID:        agent.ID,
		UserID:         input.UserID,
		RequestType:    input.RequestType,
		RequestData:    map[string]any{"message": message, "source": input.Source},
		ResponseData:   map[string]any{"error": cause.Error()},
		ProcessingTime: elapsed,
		Status:         store.UsageStatusError,
	}); err != nil {
		s.logger.Error("usage log write failed", "tenant_id", tenant.ID, "error", err)
	}
	s.emit(ctx, tenant.ID, EventMessageError, map[string]any{
		"message":         message,
		"error":           cause.Error(),
		"processing_time": elapsed,
	})
	if s.metrics != nil {
		s.metrics.ObserveMessage(agent.Type, store.UsageStatusError, elapsed)
	}
}

func (s *Service) emit(ctx context.Context, tenantID, event string, data map[string]any) {
	if s.webhooks != nil {
		s.webhooks.Publish(ctx, tenantID, event, data)
	}
	if s.events != nil {
		s.events.Publish(tenantID, event, data)
	}
}

func (s *Service) archiveExchange(ctx context.Context, tenant store.Tenant, input ProcessInput, message string, agent store.Agent, result ProcessResult) {
	timestamp := s.now().UTC()
	if _, err := s.archive.SaveConversation(ctx, archive.Conversation{
		TenantID:    tenant.ID,
		UserID:      input.UserID,
		AgentID:     agent.ID,
		Source:      input.Source,
		UserMessage: message,
		BotResponse: result.Response.Content,
		Metadata:    input.Context,
		Timestamp:   timestamp,
	}); err != nil {
		s.logger.Warn("conversation archive failed", "tenant_id", tenant.ID, "error", err)
	}
	if _, err := s.archive.SaveAgentResponse(ctx, archive.AgentResponse{
		TenantID:    tenant.ID,
		AgentID:     agent.ID,
		AgentName:   agent.Name,
		UserMessage: message,
		BotResponse: result.Response.Content,
		Context:     result.Response.Data,
		Timestamp:   timestamp,
	}); err != nil {
		s.logger.Warn("agent response archive failed", "tenant_id", tenant.ID, "agent_id", agent.ID, "error", err)
	}
}

func (s *Service) observeLLM(purpose string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveLLMCall(purpose, err)
	}
}

// HandleChannelMessage answers a messaging-channel user. Failures are logged
// and answered with ApologyReply.
func (s *Service) HandleChannelMessage(ctx context.Context, tenantID, channel, userID, text string) string {
	result, err := s.ProcessMessage(ctx, ProcessInput{
		TenantID:    tenantID,
		Message:     text,
		Context:     map[string]any{"channel": channel, "user_id": userID},
		UserID:      userID,
		RequestType: RequestTypeChannelMessage,
		Source:      channel,
	})
	if err != nil {
		s.logger.Error("channel message failed", "channel", channel, "user_id", userID, "error", err)
		return ApologyReply
	}
	if strings.TrimSpace(result.Response.Content) == "" {
		return ApologyReply
	}
	return result.Response.Content
}
