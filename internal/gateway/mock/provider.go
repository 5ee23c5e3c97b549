package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/acme/lead-call-queue/internal/gateway"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
)

// Provider simulates the call initiation API for local development.
type Provider struct {
	successRate float64
	rng         *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider() *Provider {
	return &Provider{
		successRate: 0.9,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// InitiateCall simulates an initiation attempt.
func (p *Provider) InitiateCall(ctx context.Context, req gateway.CallRequest) (gateway.CallHandle, error) {
	select {
	case <-ctx.Done():
		return gateway.CallHandle{}, ctx.Err()
	case <-time.After(time.Duration(10+p.rng.Intn(90)) * time.Millisecond):
	}

	if p.rng.Float64() > p.successRate {
		return gateway.CallHandle{}, fmt.Errorf("%w: mock provider rejected call", apperrors.ErrUnavailable)
	}

	return gateway.CallHandle{ExternalCallID: fmt.Sprintf("mock-call-%d", p.rng.Int63())}, nil
}
