package stats

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_Record(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Record(ctx, Event{RunID: "a", BatchID: 1, Records: 10, Failures: 2, Attempts: 13})
	s.Record(ctx, Event{RunID: "a", BatchID: 2, Records: 5, Failures: 0, Attempts: 5})
	s.Record(ctx, Event{RunID: "b", BatchID: 1, Records: 1, Failures: 1, Attempts: 2})

	a := s.Run("a")
	if a.Batches != 2 || a.Records != 15 || a.Failures != 2 || a.Attempts != 18 {
		t.Errorf("Run(a) = %+v", a)
	}

	total := s.Total()
	if total.Batches != 3 || total.Records != 16 || total.Failures != 3 {
		t.Errorf("Total() = %+v", total)
	}

	if got := s.Run("missing"); got != (Counters{}) {
		t.Errorf("Run(missing) = %+v, want zero", got)
	}
}

func TestRedisStore_Keys(t *testing.T) {
	s := NewRedisStore(nil, WithPrefix(":bulk:stats:"))

	if s.TotalKey() != "bulk:stats:total" {
		t.Errorf("TotalKey() = %q", s.TotalKey())
	}
	if s.RunKey("r1") != "bulk:stats:run:r1" {
		t.Errorf("RunKey() = %q", s.RunKey("r1"))
	}
}

func TestRedisStore_NilClientIsNoop(t *testing.T) {
	s := NewRedisStore(nil)
	if err := s.Record(context.Background(), Event{RunID: "r"}); err != nil {
		t.Errorf("Record with nil client = %v, want nil", err)
	}
}

func TestRedisStore_TTL(t *testing.T) {
	if s := NewRedisStore(nil); s.ttl != 7*24*time.Hour {
		t.Errorf("default ttl = %v, want 168h", s.ttl)
	}
	if s := NewRedisStore(nil, WithTTL(time.Hour)); s.ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", s.ttl)
	}
	if s := NewRedisStore(nil, WithTTL(0)); s.ttl != 0 {
		t.Errorf("ttl = %v, want 0 to keep run keys", s.ttl)
	}
}
