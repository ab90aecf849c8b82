package faults

import (
	"math"
	"time"
)

// RetryPolicy controls how failed actions are re-attempted. An error is
// retried iff attempts so far are within MaxRetries, the error is
// recoverable and its kind is in the eligible set. The total number of
// attempts is therefore MaxRetries + 1.
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Retryable       map[Kind]bool
}

// DefaultRetryPolicy mirrors the engine defaults: three retries with
// exponential backoff, retrying action, timeout and unknown failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		Retryable: map[Kind]bool{
			KindAction:  true,
			KindTimeout: true,
			KindUnknown: true,
		},
	}
}

// Delay returns the backoff before retry attempt n (0-based):
// min(InitialDelay * base^n, MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.ExponentialBase
	if base <= 0 {
		base = 2
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(base, float64(attempt)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether another attempt is allowed after
// failures failed attempts.
func (p RetryPolicy) ShouldRetry(err error, failures int) bool {
	if failures > p.MaxRetries {
		return false
	}
	if !IsRecoverable(err) {
		return false
	}
	return p.Retryable[KindOf(err)]
}
