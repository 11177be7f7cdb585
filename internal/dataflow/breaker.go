package dataflow

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned by a channel breaker's Execute when the breaker
// is open and the channel is being skipped for the cooldown window.
var ErrCircuitOpen = gobreaker.ErrOpenState

// newChannelBreaker builds a per-channel gobreaker.CircuitBreaker, adapted
// from the teacher's infra/breakers/breakers.go ReadyToTrip heuristic
// (>=3 consecutive failures, or a failure ratio above 5% once at least 20
// requests have been observed) but scoped per C4 channel instead of per
// upstream provider.
func newChannelBreaker(name string, threshold int, cooldown time.Duration) *gobreaker.CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= uint32(threshold) {
				return true
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 20 && failureRatio > 0.05
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// isCircuitOpen reports whether err originated from a breaker in the open
// state, as opposed to the channel's own Submit failure.
func isCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
