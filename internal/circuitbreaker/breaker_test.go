package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *clock) {
	c := &clock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	b := New(threshold, open)
	b.now = c.now
	return b, c
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if !b.Allow("users") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.RecordFailure("users")
	b.RecordFailure("users")
	if !b.Allow("users") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("users")
	if b.Allow("users") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("users") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("users"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b, c := newTestBreaker(2, time.Second)

	b.RecordFailure("users")
	b.RecordFailure("users")
	c.advance(999 * time.Millisecond)
	if b.Allow("users") {
		t.Fatal("should be open before the open duration elapses")
	}

	c.advance(time.Millisecond)
	if !b.Allow("users") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("users") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("users"))
	}

	if b.Allow("users") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, c := newTestBreaker(2, time.Second)

	b.RecordFailure("users")
	b.RecordFailure("users")
	c.advance(time.Second)
	b.Allow("users")

	b.RecordSuccess("users")
	if b.State("users") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("users"))
	}
	if !b.Allow("users") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(2, time.Second)

	b.RecordFailure("users")
	b.RecordFailure("users")
	c.advance(time.Second)
	b.Allow("users")

	b.RecordFailure("users")
	if b.State("users") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("users"))
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.RecordFailure("users")
	b.RecordFailure("users")
	b.RecordSuccess("users")

	b.RecordFailure("users")
	if !b.Allow("users") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)

	b.RecordFailure("transactions")
	b.RecordFailure("transactions")

	if b.Allow("transactions") {
		t.Fatal("transactions should be open")
	}
	if !b.Allow("users") {
		t.Fatal("users should be closed")
	}
}

func TestBreaker_UnknownKeyIsClosed(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)
	if b.State("unknown") != StateClosed {
		t.Fatalf("expected StateClosed for unknown key, got %v", b.State("unknown"))
	}
}

func TestExecute(t *testing.T) {
	errDown := errors.New("down")
	errMissing := errors.New("missing")
	counts := func(err error) bool { return errors.Is(err, errDown) }

	b, _ := newTestBreaker(2, time.Second)

	// uncounted errors pass through and leave the circuit closed
	for i := 0; i < 3; i++ {
		if err := b.Execute("users", func() error { return errMissing }, counts); !errors.Is(err, errMissing) {
			t.Fatalf("expected errMissing, got %v", err)
		}
	}
	if b.State("users") != StateClosed {
		t.Fatalf("expected closed, got %v", b.State("users"))
	}

	for i := 0; i < 2; i++ {
		if err := b.Execute("users", func() error { return errDown }, counts); !errors.Is(err, errDown) {
			t.Fatalf("expected errDown, got %v", err)
		}
	}

	called := false
	err := b.Execute("users", func() error { called = true; return nil }, counts)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while the circuit is open")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
