// Package ratelimit bounds concierge relay volume per user: a minimum
// interval between messages plus a max-per-window counter. In-memory only,
// state is lost on restart, which is acceptable here.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type userState struct {
	gate        *rate.Limiter // min-interval token bucket, burst 1
	windowStart time.Time
	count       int
}

type Limiter struct {
	minInterval time.Duration
	window      time.Duration
	max         int

	mu    sync.Mutex
	users map[int64]*userState
	now   func() time.Time
}

func New(minInterval, window time.Duration, maxPerWindow int) *Limiter {
	return &Limiter{
		minInterval: minInterval,
		window:      window,
		max:         maxPerWindow,
		users:       make(map[int64]*userState),
		now:         time.Now,
	}
}

// Allow reports whether the user may relay one more message now. The
// min-interval gate is checked first, then the window counter; a rejected
// message consumes neither.
func (l *Limiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		u = &userState{gate: rate.NewLimiter(rate.Every(l.minInterval), 1)}
		l.users[userID] = u
	}
	now := l.now()

	if u.gate.TokensAt(now) < 1 {
		return false
	}

	switch {
	case u.windowStart.IsZero() || now.Sub(u.windowStart) > l.window:
		u.windowStart = now
		u.count = 1
	case u.count >= l.max:
		return false
	default:
		u.count++
	}

	u.gate.AllowN(now, 1)
	return true
}
