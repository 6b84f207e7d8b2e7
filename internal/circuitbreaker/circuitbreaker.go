// Package circuitbreaker wraps sony/gobreaker/v2 with the settings every
// venue REST client in this module shares: trip after a run of consecutive
// failures or a high failure ratio once volume is large enough, half-open
// after a fixed timeout.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker is a type alias so callers only ever import this package.
type CircuitBreaker[T any] = gobreaker.CircuitBreaker[T]

// Config mirrors the handful of gobreaker.Settings fields callers tune.
type Config struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	FailureRatio  float64
	MinRequests   uint32
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig returns the shared defaults: trip on 3 consecutive failures
// or a failure ratio of 50% or more once at least 10 requests have been seen in the
// rolling interval, half-open after 30s.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
	}
}

// Guard executes fn through cb, type-asserting its untyped result back to T.
// Lets every REST call site stay a plain func() (X, error) while still
// tripping the shared any-typed breaker.
func Guard[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// New constructs a gobreaker.CircuitBreaker[T] from Config.
func New[T any](cfg Config) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}
