package client

import (
	"context"
	"sync"
	"time"
)

// window admits at most max events in any rolling span.
//
// Callers must hold the client's admission turn, so at most one goroutine
// waits in admit at a time; mu protects the stamps against Pending.
type window struct {
	max  int
	span time.Duration
	now  func() time.Time

	mu     sync.Mutex
	stamps []time.Time
}

func newWindow(maxPerSpan int, span time.Duration, now func() time.Time) *window {
	return &window{
		max:    maxPerSpan,
		span:   span,
		now:    now,
		stamps: make([]time.Time, 0, maxPerSpan),
	}
}

// admit blocks until the window has room, then records the admission.
func (w *window) admit(ctx context.Context) error {
	for {
		wait := w.tryAdmit()
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// tryAdmit records an admission and returns 0, or returns how long until
// the oldest stamp leaves the window.
func (w *window) tryAdmit() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if len(w.stamps) < w.max {
		w.stamps = append(w.stamps, now)
		return 0
	}
	return w.stamps[0].Add(w.span).Sub(now)
}

func (w *window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// pending returns how many admissions are inside the current window.
func (w *window) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.stamps)
}
