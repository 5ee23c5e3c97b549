package gateway

import "context"

// CallRequest is the assembled input for an external call initiation.
type CallRequest struct {
	ExternalAgentID string
	PhoneNumber     string
	CustomerName    string
	Prompt          string
	CustomContext   map[string]any
}

// CallHandle is the provider's synchronous acknowledgement of a placed call.
type CallHandle struct {
	ExternalCallID string
}

// Provider abstracts the voice-AI call initiation API.
type Provider interface {
	InitiateCall(ctx context.Context, req CallRequest) (CallHandle, error)
}
