// Package retry wraps a lookup client with bounded retries and backoff.
package retry

import (
	"context"
	"time"

	"github.com/berckan/whoisbatch/internal/lookup"
	"github.com/berckan/whoisbatch/internal/models"
)

// DefaultDelay replaces a non-positive InitialDelay
const DefaultDelay = time.Second

// Policy controls how often and how fast a failed lookup is repeated
type Policy struct {
	MaxRetries     int           `json:"max_retries"`
	InitialDelay   time.Duration `json:"initial_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	Multiplier     float64       `json:"multiplier"`
	AttemptTimeout time.Duration `json:"attempt_timeout"`

	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Default returns one retry after a second, with a 30s timeout per attempt
func Default() Policy {
	return Policy{
		MaxRetries:     1,
		InitialDelay:   DefaultDelay,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 30 * time.Second,
	}
}

// Delay returns the wait before retry number n (1-based)
func (p Policy) Delay(n int) time.Duration {
	d := p.InitialDelay
	if d <= 0 {
		d = DefaultDelay
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Lookup calls client at most MaxRetries+1 times and returns the first
// success or the last failure, along with the number of calls made.
func (p Policy) Lookup(ctx context.Context, client lookup.Client, domain string) (models.Outcome, int) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var out models.Outcome
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				break
			}
		}

		out = p.attempt(ctx, client, domain)
		attempts++
		if out.OK() {
			return out, attempts
		}
	}
	return out, attempts
}

func (p Policy) attempt(ctx context.Context, client lookup.Client, domain string) models.Outcome {
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}
	return client.Lookup(ctx, domain)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
