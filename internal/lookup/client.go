// Package lookup queries registration data for a single domain. Every
// failure is returned as a failed outcome, never as an error or panic.
package lookup

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/berckan/whoisbatch/internal/models"
)

// Client performs one lookup for one domain without retrying
type Client interface {
	Lookup(ctx context.Context, domain string) models.Outcome
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, domain string) models.Outcome

// Lookup calls f
func (f ClientFunc) Lookup(ctx context.Context, domain string) models.Outcome {
	return f(ctx, domain)
}

type limited struct {
	next Client
	lim  *rate.Limiter
}

// Limited shares a token bucket of rps requests per second across all
// callers of next. rps <= 0 returns next unchanged.
func Limited(next Client, rps float64, burst int) Client {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{next: next, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limited) Lookup(ctx context.Context, domain string) models.Outcome {
	if err := l.lim.Wait(ctx); err != nil {
		return models.Failed("rate limiter: " + err.Error())
	}
	return l.next.Lookup(ctx, domain)
}
