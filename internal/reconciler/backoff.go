package reconciler

import (
	"math"
	"math/rand"
	"time"

	"github.com/acme/lead-call-queue/internal/domain"
)

// Backoff computes retry delays for failed dispatches.
type Backoff struct {
	policy domain.RetryPolicy
	rng    *rand.Rand
}

// NewBackoff constructs a backoff schedule from the retry policy.
func NewBackoff(policy domain.RetryPolicy) *Backoff {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 30 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 15 * time.Minute
	}
	return &Backoff{
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextAttempt returns the time of the next dispatch attempt after the
// given number of prior failures: base * 2^failures, capped at the max
// delay, with a jitter fraction applied around the result.
func (b *Backoff) NextAttempt(now time.Time, failures int) time.Time {
	if failures < 0 {
		failures = 0
	}

	exponent := math.Pow(2, float64(failures))
	delay := time.Duration(exponent * float64(b.policy.BaseDelay))
	if delay > b.policy.MaxDelay || delay <= 0 {
		delay = b.policy.MaxDelay
	}

	if b.policy.Jitter > 0 {
		jitterFraction := b.rng.Float64()*b.policy.Jitter - (b.policy.Jitter / 2)
		delay += time.Duration(float64(delay) * jitterFraction)
		if delay < b.policy.BaseDelay {
			delay = b.policy.BaseDelay
		}
	}

	return now.Add(delay)
}
