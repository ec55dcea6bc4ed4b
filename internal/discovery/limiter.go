package discovery

import (
	"errors"
	"sync"
	"time"
)

// ErrCallBudget marks a run aborted by the per-window catalog call cap.
var ErrCallBudget = errors.New("catalog call budget exhausted")

// callLimiter counts catalog API calls in a sliding window. One limiter
// exists per monitor config for the process lifetime, so consecutive runs
// inside one window share the budget.
type callLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	calls  []time.Time
}

func newCallLimiter(maxCalls int, window time.Duration) *callLimiter {
	return &callLimiter{max: maxCalls, window: window}
}

// take reserves n calls, or returns ErrCallBudget without reserving any.
func (l *callLimiter) take(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-l.window)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls)+n > l.max {
		return ErrCallBudget
	}
	now := time.Now()
	for i := 0; i < n; i++ {
		l.calls = append(l.calls, now)
	}
	return nil
}
