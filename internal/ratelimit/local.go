package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps one token bucket per identifier in memory. A bucket
// holds rule.Limit tokens and refills at Limit per Window.
type LocalLimiter struct {
	rule Rule

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalLimiter creates a LocalLimiter for rule. rule.Limit must be
// positive.
func NewLocalLimiter(rule Rule) *LocalLimiter {
	return &LocalLimiter{rule: rule, buckets: make(map[string]*rate.Limiter)}
}

// Allow takes one token from identifier's bucket.
func (l *LocalLimiter) Allow(_ context.Context, identifier string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[identifier]
	if !ok {
		every := rate.Every(l.rule.Window / time.Duration(l.rule.Limit))
		b = rate.NewLimiter(every, l.rule.Limit)
		l.buckets[identifier] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}

// Forget drops identifier's bucket.
func (l *LocalLimiter) Forget(identifier string) {
	l.mu.Lock()
	delete(l.buckets, identifier)
	l.mu.Unlock()
}

// size returns the number of identifiers with a bucket.
func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
