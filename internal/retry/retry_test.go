package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/berckan/whoisbatch/internal/lookup"
	"github.com/berckan/whoisbatch/internal/models"
)

// scripted fails the first n calls, then succeeds
type scripted struct {
	failures int
	calls    int
}

func (s *scripted) Lookup(ctx context.Context, domain string) models.Outcome {
	s.calls++
	if s.calls <= s.failures {
		return models.Failed(fmt.Sprintf("attempt %d failed", s.calls))
	}
	return models.Succeeded(models.Registration{Registrar: "R"})
}

func noSleep(p Policy) (Policy, *[]time.Duration) {
	var waits []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

func TestPolicy_RetryBound(t *testing.T) {
	for k := 0; k <= 4; k++ {
		t.Run(fmt.Sprintf("max_retries=%d", k), func(t *testing.T) {
			client := &scripted{failures: 100}
			p, waits := noSleep(Policy{MaxRetries: k, InitialDelay: time.Millisecond})

			out, attempts := p.Lookup(context.Background(), client, "b.com")

			if out.OK() {
				t.Fatal("expected failure")
			}
			if client.calls != k+1 || attempts != k+1 {
				t.Errorf("calls = %d, attempts = %d, want %d", client.calls, attempts, k+1)
			}
			if len(*waits) != k {
				t.Errorf("waits = %d, want %d", len(*waits), k)
			}
			if want := fmt.Sprintf("attempt %d failed", k+1); out.Reason() != want {
				t.Errorf("Reason = %q, want last failure %q", out.Reason(), want)
			}
		})
	}
}

func TestPolicy_SuccessShortCircuits(t *testing.T) {
	client := &scripted{failures: 1}
	p, _ := noSleep(Policy{MaxRetries: 5})

	out, attempts := p.Lookup(context.Background(), client, "a.com")

	if !out.OK() {
		t.Fatalf("expected success, got %q", out.Reason())
	}
	if attempts != 2 || client.calls != 2 {
		t.Errorf("attempts = %d, calls = %d, want 2", attempts, client.calls)
	}
}

func TestPolicy_FailsTwiceWithOneRetry(t *testing.T) {
	client := &scripted{failures: 2}
	p, _ := noSleep(Policy{MaxRetries: 1})

	out, attempts := p.Lookup(context.Background(), client, "b.com")

	if out.OK() {
		t.Fatal("expected failure")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if out.Reason() != "attempt 2 failed" {
		t.Errorf("Reason = %q, want the last failure", out.Reason())
	}
}

func TestPolicy_DelayNeverZero(t *testing.T) {
	p := Policy{InitialDelay: 0}
	if d := p.Delay(1); d != DefaultDelay {
		t.Errorf("Delay(1) = %v, want %v", d, DefaultDelay)
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 350 * time.Millisecond}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{10, 350 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestPolicy_CancelledDuringBackoff(t *testing.T) {
	client := &scripted{failures: 100}
	p := Policy{MaxRetries: 3, InitialDelay: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, attempts := p.Lookup(ctx, client, "a.com")

	if out.OK() || attempts != 1 {
		t.Errorf("attempts = %d, OK = %v, want one failed attempt", attempts, out.OK())
	}
	if time.Since(start) > time.Second {
		t.Errorf("Lookup waited %v after cancellation", time.Since(start))
	}
}

func TestPolicy_AttemptTimeout(t *testing.T) {
	client := lookup.ClientFunc(func(ctx context.Context, domain string) models.Outcome {
		<-ctx.Done()
		return models.Failed(ctx.Err().Error())
	})
	p, _ := noSleep(Policy{MaxRetries: 1, AttemptTimeout: 10 * time.Millisecond})

	out, attempts := p.Lookup(context.Background(), client, "stuck.com")

	if out.OK() || attempts != 2 {
		t.Errorf("attempts = %d, OK = %v, want 2 timed out attempts", attempts, out.OK())
	}
	if out.Reason() != context.DeadlineExceeded.Error() {
		t.Errorf("Reason = %q", out.Reason())
	}
}
