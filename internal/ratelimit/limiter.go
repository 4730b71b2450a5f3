// Package ratelimit bounds call frequency per key with a fixed window
// counter. Windows are refilled lazily on access; nothing runs in the
// background.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

type Limiter struct {
	mu        sync.Mutex
	capacity  int
	window    time.Duration
	now       func() time.Time
	windows   map[string]*window
	lastSweep time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(capacity int, per time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		capacity: capacity,
		window:   per,
		now:      time.Now,
		windows:  make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one unit of key's budget. It returns false once capacity
// calls have been admitted in the current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(l.window)) {
		w = &window{start: now}
		l.windows[key] = w
	}
	if w.count >= l.capacity {
		return false
	}
	w.count++
	return true
}

// Remaining returns the calls left for key in its current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !l.now().Before(w.start.Add(l.window)) {
		return l.capacity
	}
	return l.capacity - w.count
}

// Reconfigure changes capacity and window for subsequent calls. Open
// windows keep their counts.
func (l *Limiter) Reconfigure(capacity int, per time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capacity = capacity
	l.window = per
}

// sweep drops expired windows at most once per window length.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		if !now.Before(w.start.Add(l.window)) {
			delete(l.windows, key)
		}
	}
}
