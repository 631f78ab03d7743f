package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	})

	failing := func() error { return errors.New("gateway down") }

	for i := 0; i < 3; i++ {
		_ = cb.Call(failing)
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	if err := cb.Call(failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	})

	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return errors.New("boom") })

	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             10 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	})

	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	// First call after timeout probes in half-open; success closes the circuit
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}

	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}
