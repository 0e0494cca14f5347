package resman

import "time"

// Backoff produces capped exponential delays for retrying resource-manager
// requests and placement attempts. Not safe for concurrent use; each retry
// loop owns its Backoff.
type Backoff struct {
	Base    time.Duration
	Cap     time.Duration
	Factor  float64
	attempt int
}

// DefaultBackoff returns the retry policy used across the orchestrator:
// 500ms doubling up to 30s.
func DefaultBackoff() *Backoff {
	return &Backoff{Base: 500 * time.Millisecond, Cap: 30 * time.Second, Factor: 2}
}

// Next returns the delay for the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := float64(b.Base)
	for i := 0; i < b.attempt; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Cap {
			b.attempt++
			return b.Cap
		}
	}
	b.attempt++
	if time.Duration(d) > b.Cap {
		return b.Cap
	}
	return time.Duration(d)
}

// Reset restarts the sequence after a success.
func (b *Backoff) Reset() {
	b.attempt = 0
}
