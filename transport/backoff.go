package transport

import "time"

// Backoff computes reconnection delays for the push stream: exponential,
// base 1s, factor 2, capped at 2^5 * base, giving up after MaxAttempts.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the reconnection policy.
func DefaultBackoff() Backoff {
	base := time.Second
	return Backoff{Base: base, Factor: 2, Cap: base * 32, MaxAttempts: 10}
}

// Delay returns the delay before the given 0-indexed attempt, capped at Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
	}
	if time.Duration(d) > b.Cap || d < 0 {
		return b.Cap
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt has used up the allowed retries.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
