// Package ratelimit bounds per-user ingestion throughput at the pipeline
// mouth, before any paid adapter call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether one more ingestion attempt is allowed for a user.
type Limiter interface {
	// Allow consumes one slot for the user if available.
	Allow(ctx context.Context, userID string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// MemoryLimiter is a fixed-window in-process limiter.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*userWindow
}

type userWindow struct {
	start time.Time
	count int
}

// NewMemoryLimiter allows limit attempts per user per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*userWindow),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[userID]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[userID] = &userWindow{start: now, count: 1}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func (l *MemoryLimiter) Close() error { return nil }
