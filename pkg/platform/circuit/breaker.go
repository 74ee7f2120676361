// Package circuit provides a small two-state circuit breaker that shields
// callers from an upstream that is persistently failing. While open, calls
// fail fast except for a periodic probe that checks whether the upstream
// has recovered.
package circuit

import (
	"sync"
	"time"
)

// Breaker tracks consecutive outcomes of an operation. After
// failureThreshold consecutive failures it opens; while open, Allow admits
// one probe per probe interval; successThreshold consecutive probe
// successes close it again.
type Breaker struct {
	mu sync.Mutex

	name             string
	open             bool
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	probeInterval    time.Duration
	lastProbe        time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive failures needed to open. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the consecutive successes needed to close. Default 2.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithProbeInterval sets how often one request is let through while open.
// Default 30 seconds.
func WithProbeInterval(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.probeInterval = d
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
		probeInterval:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name for logging.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a call may proceed. Closed circuits always admit;
// open circuits admit one probe per probe interval.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if time.Since(b.lastProbe) >= b.probeInterval {
		b.lastProbe = time.Now()
		return true
	}
	return false
}

// IsOpen reports whether the circuit is open.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// RecordFailure notes a failed call. Returns true when this failure opened
// the circuit.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0

	if !b.open && b.failures >= b.failureThreshold {
		b.open = true
		b.lastProbe = time.Now()
		return true
	}
	return false
}

// RecordSuccess notes a successful call. Returns true when this success
// closed the circuit.
func (b *Breaker) RecordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		b.successes++
		if b.successes >= b.successThreshold {
			b.open = false
			b.failures = 0
			b.successes = 0
			return true
		}
		return false
	}

	b.failures = 0
	return false
}

// Reset forces the circuit closed with zeroed counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.failures = 0
	b.successes = 0
}
