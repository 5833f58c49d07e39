// Package backoff provides jittered exponential backoff for retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// DefaultPolicy returns the policy used for provider retries.
// Initial: 250ms, Max: 10s, Factor: 2, Jitter: 20%
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 250,
		MaxMs:     10000,
		Factor:    2,
		Jitter:    0.2,
	}
}

// Compute calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64())
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Split out so tests can be deterministic.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Sleep waits the backoff duration for attempt, or returns early with the
// context's error if it is cancelled first.
func Sleep(ctx context.Context, policy Policy, attempt int) error {
	timer := time.NewTimer(Compute(policy, attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
