package publisher

import (
	"context"
	"math"
	"time"

	"github.com/sawpanic/mdcollector/internal/config"
)

// RetryableClassifier reports whether an error belongs to a retryable
// class, per the retryCodes configuration knob in spec §6.
type RetryableClassifier func(err error) bool

// RetryPolicy executes send with exponential backoff from
// InitialRetryDelay by RetryDelayMultiplier up to MaxRetryDelay, capped at
// MaxRetries attempts and TotalTimeout wall time, per spec §4.4.
type RetryPolicy struct {
	cfg        config.RetryConfig
	retryable  RetryableClassifier
	sleep      func(time.Duration)
}

// NewRetryPolicy builds a RetryPolicy from config.
func NewRetryPolicy(cfg config.RetryConfig, retryable RetryableClassifier) *RetryPolicy {
	return &RetryPolicy{cfg: cfg, retryable: retryable, sleep: time.Sleep}
}

// Do calls send, retrying on retryable failures per the configured policy.
// It returns the final error (nil on success) and the number of retries
// performed.
func (p *RetryPolicy) Do(ctx context.Context, send func(attempt int) error) (err error, retries int) {
	deadline := time.Now().Add(p.cfg.TotalTimeout)
	delay := p.cfg.InitialRetryDelay

	for attempt := 0; ; attempt++ {
		err = send(attempt)
		if err == nil {
			return nil, attempt
		}
		if !p.retryable(err) {
			return err, attempt
		}
		if attempt+1 >= p.cfg.MaxRetries {
			return err, attempt
		}
		if time.Now().Add(delay).After(deadline) {
			return err, attempt
		}

		select {
		case <-ctx.Done():
			return ctx.Err(), attempt
		default:
		}
		p.sleep(delay)
		delay = nextDelay(delay, p.cfg.RetryDelayMultiplier, p.cfg.MaxRetryDelay)
	}
}

func nextDelay(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > max {
		next = max
	}
	if next <= 0 {
		next = max
	}
	return time.Duration(math.Max(float64(next), float64(current)))
}
