package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a sliding-window limiter: at most Max requests in any span of
// Period. A zero Max disables limiting.
type Window struct {
	Max    int
	Period time.Duration

	mu    sync.Mutex
	stamp []time.Time // oldest first
	now   func() time.Time
}

func New(max int, period time.Duration) *Window {
	return &Window{Max: max, Period: period, now: time.Now}
}

// Reserve records a request at now if the window has room and returns 0.
// Otherwise nothing is recorded and the returned duration is the time until
// the oldest request leaves the window.
func (w *Window) Reserve(now time.Time) time.Duration {
	if w == nil || w.Max <= 0 || w.Period <= 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.Period)
	i := 0
	for i < len(w.stamp) && !w.stamp[i].After(cutoff) {
		i++
	}
	w.stamp = w.stamp[i:]

	if len(w.stamp) < w.Max {
		w.stamp = append(w.stamp, now)
		return 0
	}
	return w.stamp[0].Add(w.Period).Sub(now)
}

// Wait blocks until a request is admitted or ctx is done.
func (w *Window) Wait(ctx context.Context) error {
	if w == nil {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := w.Reserve(w.clock())
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Len is the number of requests currently inside the window.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stamp)
}

func (w *Window) clock() time.Time {
	if w.now == nil {
		return time.Now()
	}
	return w.now()
}
