package limiter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/kvstore"
)

// InvalidRequestID is returned by Acquire when the budget is exhausted.
const InvalidRequestID = -1

const (
	countSuffix     = "_count"
	timestampSuffix = "_ts"

	// DefaultPersistDelay coalesces bursts of acquisitions into one write.
	DefaultPersistDelay = time.Second

	// storeTimeout bounds each store read or write.
	storeTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the Limiter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Budget is a point-in-time view of a limiter.
type Budget struct {
	ID         string    `json:"id"`
	DailyLimit int       `json:"daily_limit"`
	Used       int       `json:"used"`
	ResetAt    time.Time `json:"reset_at"`
}

// Remaining returns how many requests the budget still allows.
func (b Budget) Remaining() int {
	if b.Used >= b.DailyLimit {
		return 0
	}
	return b.DailyLimit - b.Used
}

// Config configures a Limiter.
type Config struct {
	// ID keys the persisted state and identifies the limiter in events.
	ID string

	DailyLimit int

	Store kvstore.Store

	// OnUpdate is called after every acquisition, reset or limit change.
	// It runs on the caller's goroutine and must not block.
	OnUpdate func(Budget)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// PersistDelay defers writes so bursts collapse into one.
	// Defaults to DefaultPersistDelay.
	PersistDelay time.Duration

	Logger Logger
}

// Limiter counts requests against a daily quota.
//
// All methods are safe for concurrent use.
type Limiter struct {
	id           string
	store        kvstore.Store
	onUpdate     func(Budget)
	now          func() time.Time
	persistDelay time.Duration
	logger       Logger

	mu           sync.Mutex
	limit        int
	used         int
	resetAt      time.Time
	resetTimer   *time.Timer
	persistTimer *time.Timer
	closed       bool

	// writeMu orders store writes from timers and Close.
	writeMu sync.Mutex
}

// New creates a limiter, restoring today's count from the store.
//
// Load failures never fail construction: they are logged and the count
// starts at zero.
func New(cfg Config) (*Limiter, error) {
	if cfg.ID == "" {
		return nil, ErrNoID
	}
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.DailyLimit < 0 {
		return nil, ErrInvalidLimit
	}

	l := &Limiter{
		id:           cfg.ID,
		store:        cfg.Store,
		onUpdate:     cfg.OnUpdate,
		now:          cfg.Now,
		persistDelay: cfg.PersistDelay,
		logger:       cfg.Logger,
		limit:        cfg.DailyLimit,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.persistDelay <= 0 {
		l.persistDelay = DefaultPersistDelay
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}

	l.load()

	l.mu.Lock()
	l.scheduleResetLocked()
	l.mu.Unlock()

	return l, nil
}

// ID returns the limiter identifier.
func (l *Limiter) ID() string {
	return l.id
}

// Acquire takes one request slot.
//
// Returns:
//   - int: The pre-increment count, or InvalidRequestID when rejected
//   - bool: true if the request may proceed
func (l *Limiter) Acquire() (int, bool) {
	l.mu.Lock()
	if l.closed || l.used >= l.limit {
		l.mu.Unlock()
		return InvalidRequestID, false
	}
	id := l.used
	l.used++
	l.schedulePersistLocked()
	b := l.snapshotLocked()
	l.mu.Unlock()

	l.fireUpdate(b)
	return id, true
}

// UpdateLimit replaces the daily limit and reschedules the next reset.
// Lowering the limit below the current count leaves the count intact;
// further acquisitions are rejected until the reset.
func (l *Limiter) UpdateLimit(limit int) {
	if limit < 0 {
		limit = 0
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.limit = limit
	l.scheduleResetLocked()
	l.schedulePersistLocked()
	b := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.Info("daily limit updated", "limiter", l.id, "limit", limit)
	l.fireUpdate(b)
}

// Reset zeroes the count and schedules the next reset for the following
// midnight UTC. Calling it twice in quick succession is harmless.
func (l *Limiter) Reset() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.used = 0
	l.scheduleResetLocked()
	l.schedulePersistLocked()
	b := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.Info("request budget reset", "limiter", l.id, "next_reset", b.ResetAt)
	l.fireUpdate(b)
}

// Snapshot returns the current budget.
func (l *Limiter) Snapshot() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Remaining returns how many requests are left today.
func (l *Limiter) Remaining() int {
	return l.Snapshot().Remaining()
}

// Close cancels pending timers and writes the final count synchronously.
// Subsequent acquisitions are rejected.
func (l *Limiter) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.resetTimer != nil {
		l.resetTimer.Stop()
		l.resetTimer = nil
	}
	if l.persistTimer != nil {
		l.persistTimer.Stop()
		l.persistTimer = nil
	}
	l.mu.Unlock()

	return l.write()
}

func (l *Limiter) snapshotLocked() Budget {
	return Budget{
		ID:         l.id,
		DailyLimit: l.limit,
		Used:       l.used,
		ResetAt:    l.resetAt,
	}
}

func (l *Limiter) fireUpdate(b Budget) {
	if l.onUpdate != nil {
		l.onUpdate(b)
	}
}

// scheduleResetLocked replaces any pending reset with one at the next
// midnight UTC.
func (l *Limiter) scheduleResetLocked() {
	if l.resetTimer != nil {
		l.resetTimer.Stop()
	}
	now := l.now()
	l.resetAt = NextMidnight(now)
	l.resetTimer = time.AfterFunc(l.resetAt.Sub(now), l.Reset)
}

// schedulePersistLocked arms the deferred write unless one is pending.
// The pending write reads the count when it fires, so it always stores
// the latest value.
func (l *Limiter) schedulePersistLocked() {
	if l.persistTimer != nil {
		return
	}
	l.persistTimer = time.AfterFunc(l.persistDelay, func() {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.persistTimer = nil
		l.mu.Unlock()

		if err := l.write(); err != nil {
			l.logger.Error("persisting request budget", "limiter", l.id, "error", err)
		}
	})
}

// write stores the current count. The count is read while holding
// writeMu so a later write never stores an older value.
func (l *Limiter) write() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	used := l.used
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := l.store.Put(ctx, l.id+countSuffix, strconv.Itoa(used)); err != nil {
		return err
	}
	return l.store.Put(ctx, l.id+timestampSuffix, l.now().UTC().Format(time.RFC3339))
}

// load restores the count persisted earlier on the current UTC day.
func (l *Limiter) load() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rawCount, ok, err := l.store.Get(ctx, l.id+countSuffix)
	if err != nil {
		l.logger.Warn("reading persisted request count", "limiter", l.id, "error", err)
		return
	}
	if !ok {
		return
	}

	rawTS, ok, err := l.store.Get(ctx, l.id+timestampSuffix)
	if err != nil || !ok {
		l.logger.Warn("persisted request count has no timestamp", "limiter", l.id, "error", err)
		return
	}

	count, err := strconv.Atoi(rawCount)
	if err != nil || count < 0 {
		l.logger.Warn("ignoring malformed request count", "limiter", l.id, "value", rawCount)
		return
	}
	ts, err := time.Parse(time.RFC3339, rawTS)
	if err != nil {
		l.logger.Warn("ignoring malformed request timestamp", "limiter", l.id, "value", rawTS)
		return
	}

	if !SameUTCDay(ts, l.now()) {
		l.logger.Info("discarding request count from a previous day", "limiter", l.id, "persisted_at", ts)
		return
	}

	l.used = min(count, l.limit)
	l.logger.Debug("restored request count", "limiter", l.id, "used", l.used)
}

// NextMidnight returns the first midnight UTC strictly after t.
func NextMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
