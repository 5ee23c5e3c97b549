// Package convai is the HTTP client for the conversational-AI provider's
// call initiation API.
package convai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acme/lead-call-queue/internal/config"
	"github.com/acme/lead-call-queue/internal/gateway"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
)

// Client implements gateway.Provider against the provider REST API.
type Client struct {
	baseURL        string
	apiKey         string
	webhookBaseURL string
	http           *http.Client
}

// NewClient constructs a provider client from config.
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		webhookBaseURL: cfg.WebhookBaseURL,
		http:           &http.Client{Timeout: timeout},
	}
}

type initiateCallBody struct {
	AgentID             string         `json:"agent_id"`
	CustomerPhoneNumber string         `json:"customer_phone_number"`
	CustomerName        string         `json:"customer_name"`
	ConversationContext string         `json:"conversation_context,omitempty"`
	CustomVariables     map[string]any `json:"custom_variables,omitempty"`
	WebhookURL          string         `json:"webhook_url,omitempty"`
}

type initiateCallResponse struct {
	CallID string `json:"call_id"`
}

// InitiateCall places the outbound call and returns the provider call id.
// Transport and provider failures surface as ErrUnavailable so the caller
// can distinguish them from admission errors.
func (c *Client) InitiateCall(ctx context.Context, req gateway.CallRequest) (gateway.CallHandle, error) {
	body := initiateCallBody{
		AgentID:             req.ExternalAgentID,
		CustomerPhoneNumber: req.PhoneNumber,
		CustomerName:        req.CustomerName,
		ConversationContext: req.Prompt,
		CustomVariables:     req.CustomContext,
	}
	if c.webhookBaseURL != "" {
		body.WebhookURL = c.webhookBaseURL + "/api/v1/webhooks/call-events"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return gateway.CallHandle{}, fmt.Errorf("convai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/convai/calls", bytes.NewReader(payload))
	if err != nil {
		return gateway.CallHandle{}, fmt.Errorf("convai: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gateway.CallHandle{}, fmt.Errorf("%w: convai: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return gateway.CallHandle{}, fmt.Errorf("%w: convai: status %d: %s", apperrors.ErrUnavailable, resp.StatusCode, string(detail))
	}

	var out initiateCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return gateway.CallHandle{}, fmt.Errorf("convai: decode response: %w", err)
	}
	if out.CallID == "" {
		return gateway.CallHandle{}, fmt.Errorf("%w: convai: response missing call_id", apperrors.ErrUnavailable)
	}

	return gateway.CallHandle{ExternalCallID: out.CallID}, nil
}
