// Package resilience applies the shared retry and circuit-breaker policy to
// outbound storage and notification calls. Retries run beneath the breaker,
// so one breaker failure means one fully exhausted retry budget.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned while a breaker is open. Callers map it into their own
// "temporarily unavailable" condition.
var ErrOpen = errors.New("circuit open")

// Policy carries the tunables every guarded backend shares.
type Policy struct {
	Attempts         int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BreakerThreshold == 0 {
		p.BreakerThreshold = 5
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = time.Minute
	}
	return p
}

// Permanent marks an error as not worth retrying (bad credentials, missing
// objects). The breaker still counts it as a failure.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}

// Breaker guards one backend instance. While open, Execute fails fast with
// ErrOpen instead of touching the transport.
type Breaker struct {
	name   string
	policy Policy
	cb     *gobreaker.CircuitBreaker[any]
}

// NewBreaker builds a breaker named after the backend it protects.
func NewBreaker(name string, p Policy) *Breaker {
	p = p.withDefaults()
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     p.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{name: name, policy: p, cb: cb}
}

// Execute runs fn under the breaker, retrying transient failures with
// exponential backoff and jitter.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.withRetry(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return err
}

func (b *Breaker) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(b.policy.Attempts)),
		retry.Delay(b.policy.BaseDelay),
		retry.MaxDelay(b.policy.MaxDelay),
		retry.MaxJitter(b.policy.BaseDelay/2+time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("retrying operation", "breaker", b.name, "attempt", n+1, "error", err)
		}),
	)
}
