package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

var ErrInvalidSecret = errors.New("invalid webhook secret")

type WebhookResult struct {
	Endpoint store.Endpoint
	Result   ProcessResult
}

// HandleWebhook processes a payload posted to an inbound endpoint. The bound
// agent is used as the routing hint and every authenticated call is written
// to the endpoint log.
func (s *Service) HandleWebhook(ctx context.Context, path, secret string, payload map[string]any) (WebhookResult, error) {
	endpoint, err := s.store.LookupEndpointByPath(ctx, path)
	if err != nil {
		return WebhookResult{}, err
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(secret)), []byte(endpoint.Secret)) != 1 {
		s.logger.Warn("inbound webhook rejected", "endpoint_id", endpoint.ID, "path", endpoint.Path)
		return WebhookResult{Endpoint: endpoint}, ErrInvalidSecret
	}

	message, _ := payload["message"].(string)
	values := map[string]any{}
	for key, value := range payload {
		if key != "message" {
			values[key] = value
		}
	}
	userID, _ := payload["user_id"].(string)

	result, err := s.ProcessMessage(ctx, ProcessInput{
		TenantID:    endpoint.TenantID,
		Message:     message,
		Context:     values,
		UserID:      userID,
		AgentHint:   endpoint.AgentID,
		RequestType: RequestTypeWebhook,
		Source:      "webhook:" + endpoint.Path,
	})
	status := http.StatusOK
	var responseData map[string]any
	switch {
	case errors.Is(err, ErrEmptyMessage):
		status = http.StatusBadRequest
		responseData = map[string]any{"error": err.Error()}
	case err != nil:
		status = http.StatusInternalServerError
		responseData = map[string]any{"error": err.Error()}
	default:
		responseData = map[string]any{
			"agent_id":        result.Agent.ID,
			"content":         result.Response.Content,
			"processing_time": result.ProcessingTime,
		}
	}
	if _, logErr := s.store.CreateEndpointLog(ctx, store.CreateEndpointLogInput{
		EndpointID:   endpoint.ID,
		RequestData:  payload,
		ResponseData: responseData,
		StatusCode:   status,
	}); logErr != nil {
		s.logger.Error("endpoint log write failed", "endpoint_id", endpoint.ID, "error", logErr)
	}
	if err != nil {
		return WebhookResult{Endpoint: endpoint}, err
	}
	return WebhookResult{Endpoint: endpoint, Result: result}, nil
}
