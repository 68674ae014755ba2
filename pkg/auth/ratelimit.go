package auth

import (
	"sync"
	"time"
)

// Limiter is a fixed-window per-subject request limiter.
type Limiter struct {
	rpm    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	swept   time.Time
}

type window struct {
	start time.Time
	count int
}

// NewLimiter allows rpm requests per subject and minute. A non-positive
// rpm returns nil, which Middleware treats as unlimited.
func NewLimiter(rpm int) *Limiter {
	if rpm <= 0 {
		return nil
	}
	return &Limiter{
		rpm:     rpm,
		window:  time.Minute,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow counts one request for id. When the limit is exceeded it returns
// false and the time until the window resets.
func (l *Limiter) Allow(id *Identity) (time.Duration, bool) {
	key := id.Subject + "\x00" + id.Tier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{start: now, count: 1}
		return 0, true
	}
	w.count++
	if w.count > l.rpm {
		return w.start.Add(l.window).Sub(now), false
	}
	return 0, true
}

// sweep drops expired windows at most once per window length.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.window {
		return
	}
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
	l.swept = now
}
