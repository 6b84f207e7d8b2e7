package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"
)

func TestGuardPassesThroughSuccess(t *testing.T) {
	cb := New[any](DefaultConfig("test"))

	got, err := Guard(cb, func() (int, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestGuardPropagatesFailure(t *testing.T) {
	cb := New[any](DefaultConfig("test"))
	wantErr := errors.New("boom")

	_, err := Guard(cb, func() (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestReadyToTripOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.MinRequests = 1000 // keep the ratio branch from firing first
	cb := New[any](cfg)

	for i := 0; i < 3; i++ {
		_, _ = Guard(cb, func() (int, error) { return 0, errors.New("fail") })
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected circuit open after 3 consecutive failures, got %v", cb.State())
	}
}

func TestReadyToTripOnFailureRatio(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.MinRequests = 4
	cb := New[any](cfg)

	// Alternate success/failure so consecutive-failure count never reaches
	// 3, isolating the ratio branch: the breaker trips on the fourth call,
	// when 2 failures out of 4 requests reach 50% with MinRequests met.
	calls := []bool{true, false, true, false, true, false}
	for _, ok := range calls {
		_, _ = Guard(cb, func() (int, error) {
			if ok {
				return 1, nil
			}
			return 0, errors.New("fail")
		})
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected circuit open at 50%% failure ratio, got %v", cb.State())
	}
}
