package node

import "time"

// Backoff produces exponentially growing reconnect delays. The delay
// doubles on each call to Delay until it reaches the cap; Reset starts the
// progression over.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Delay returns the next delay in the progression.
func (b *Backoff) Delay() time.Duration {
	if b.current == 0 {
		b.current = b.base
		return b.current
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

// Reset restarts the progression from the base delay.
func (b *Backoff) Reset() {
	b.current = 0
}
