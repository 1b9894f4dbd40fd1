// Package ratelimit provides token-bucket admission control for
// operation throughput.
package ratelimit

import (
	"sync"
	"time"
)

// Config defines rate limit configuration for a limiter instance.
type Config struct {
	OperationsPerMinute int `json:"operations_per_minute" yaml:"operations_per_minute"`
	BurstLimit          int `json:"burst_limit" yaml:"burst_limit"`
	CooldownSeconds     int `json:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// DefaultConfig returns sensible default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		OperationsPerMinute: 60,
		BurstLimit:          10,
		CooldownSeconds:     60,
	}
}

// Limiter is a token bucket. Tokens accumulate at
// OperationsPerMinute/60 per second up to BurstLimit. All state
// transitions are linearized by a single mutex; instances are cheap
// and may be created per tenant or per resource class.
type Limiter struct {
	rate  float64 // tokens per second
	burst float64

	mu     sync.Mutex
	tokens float64
	last   time.Time

	now func() time.Time // test hook
}

// NewLimiter creates a limiter from cfg. A bucket starts full.
func NewLimiter(cfg Config) *Limiter {
	if cfg.OperationsPerMinute <= 0 {
		cfg.OperationsPerMinute = 60
	}
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = 1
	}
	return &Limiter{
		rate:   float64(cfg.OperationsPerMinute) / 60.0,
		burst:  float64(cfg.BurstLimit),
		tokens: float64(cfg.BurstLimit),
		last:   time.Now(),
		now:    time.Now,
	}
}

// refillLocked advances the bucket to now. Callers hold mu.
func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}

// TryAcquire consumes one token if available and reports whether the
// operation is admitted.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// WaitTime returns zero if a token is available, otherwise the
// approximate time until the next token. This is an estimate of the
// refill period, not an exact countdown.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= 1 {
		return 0
	}
	return time.Duration(float64(time.Second) / l.rate)
}

// Tokens returns the current token count after refill.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}

// Rate returns the token refill rate per second.
func (l *Limiter) Rate() float64 { return l.rate }

// Burst returns the maximum burst size.
func (l *Limiter) Burst() int { return int(l.burst) }
