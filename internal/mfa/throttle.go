package mfa

import (
	"sync"

	"golang.org/x/time/rate"
)

// throttle budgets verification attempts per user. Each attempt spends a
// token; a successful verification clears the user's budget.
type throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newThrottle(limit rate.Limit, burst int) *throttle {
	return &throttle{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (t *throttle) allow(userID string) bool {
	t.mu.Lock()
	l, ok := t.limiters[userID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[userID] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

func (t *throttle) reset(userID string) {
	t.mu.Lock()
	delete(t.limiters, userID)
	t.mu.Unlock()
}
