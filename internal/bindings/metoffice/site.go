package metoffice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/client"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
)

// Forecast kinds.
const (
	KindHourly = notify.KindHourly
	KindDaily  = notify.KindDaily
)

const (
	// DefaultJitter is the upper bound of the random delay added to each
	// scheduled poll.
	DefaultJitter = time.Minute

	// cacheTimeout bounds reads and writes of cached responses.
	cacheTimeout = 5 * time.Second

	maxLatitude  = 85
	maxLongitude = 180
)

// Location is a decimal-degree coordinate.
type Location struct {
	Latitude  float64
	Longitude float64
}

// String formats the location as "<latitude>,<longitude>".
func (l Location) String() string {
	return formatCoord(l.Latitude) + "," + formatCoord(l.Longitude)
}

// ParseLocation parses "<latitude>,<longitude>". Latitude must lie within
// ±85 degrees and longitude within ±180.
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Location{}, fmt.Errorf("%w: %q is not <latitude>,<longitude>", ErrInvalidLocation, s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: latitude: %w", ErrInvalidLocation, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: longitude: %w", ErrInvalidLocation, err)
	}
	if lat < -maxLatitude || lat > maxLatitude {
		return Location{}, fmt.Errorf("%w: latitude %v is outside ±%d", ErrInvalidLocation, lat, maxLatitude)
	}
	if lon < -maxLongitude || lon > maxLongitude {
		return Location{}, fmt.Errorf("%w: longitude %v is outside ±%d", ErrInvalidLocation, lon, maxLongitude)
	}
	return Location{Latitude: lat, Longitude: lon}, nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SiteConfig configures one forecast location.
type SiteConfig struct {
	ID       string
	Location string

	// HourlyPollRate and DailyPollRate are in hours (1-24).
	HourlyPollRate int
	DailyPollRate  int

	// Jitter bounds the random delay added to scheduled polls.
	// Zero disables it.
	Jitter time.Duration
}

// Snapshot is the last response of one kind.
type Snapshot struct {
	PollID   int64           `json:"poll_id"`
	PolledAt time.Time       `json:"polled_at"`
	Content  json.RawMessage `json:"content"`
}

// Site polls the forecasts for one location.
type Site struct {
	account *Account
	id      string
	loc     Location
	rates   map[string]time.Duration
	jitter  time.Duration

	pollID atomic.Int64

	mu       sync.Mutex
	attempts map[string]time.Time
	last     map[string]Snapshot
}

func newSite(a *Account, cfg SiteConfig) (*Site, error) {
	if cfg.ID == "" {
		return nil, errors.New("metoffice: site id is required")
	}
	loc, err := ParseLocation(cfg.Location)
	if err != nil {
		return nil, err
	}
	for _, rate := range []int{cfg.HourlyPollRate, cfg.DailyPollRate} {
		if rate < 1 || rate > 24 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPollRate, rate)
		}
	}

	s := &Site{
		account: a,
		id:      cfg.ID,
		loc:     loc,
		rates: map[string]time.Duration{
			KindHourly: time.Duration(cfg.HourlyPollRate) * time.Hour,
			KindDaily:  time.Duration(cfg.DailyPollRate) * time.Hour,
		},
		jitter:   cfg.Jitter,
		attempts: make(map[string]time.Time),
		last:     make(map[string]Snapshot),
	}
	s.restore()
	return s, nil
}

// ID returns the site identifier.
func (s *Site) ID() string {
	return s.id
}

// Location returns the parsed coordinates.
func (s *Site) Location() Location {
	return s.loc
}

// Last returns the cached response of kind.
func (s *Site) Last(kind string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.last[kind]
	return snap, ok
}

// Poll requests the kind forecast, caches it and publishes a ResponseEvent.
//
// Returns:
//   - *FeatureCollection: The decoded, validated forecast
//   - error: ErrUnknownKind, client.ErrRateLimitExceeded, or any client error
func (s *Site) Poll(ctx context.Context, kind string) (*FeatureCollection, error) {
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	now := s.account.now()
	s.mu.Lock()
	s.attempts[kind] = now
	s.mu.Unlock()

	pollID := s.pollID.Add(1)
	query := url.Values{
		"latitude":                 {formatCoord(s.loc.Latitude)},
		"longitude":                {formatCoord(s.loc.Longitude)},
		"excludeParameterMetadata": {"true"},
		"includeLocationName":      {"true"},
	}

	s.account.logger.Debug("polling forecast", "site", s.id, "kind", kind, "poll_id", pollID)

	resp, err := s.account.client.Get(ctx, "/point/"+kind, query)
	if err != nil {
		if errors.Is(err, client.ErrRateLimitExceeded) {
			s.account.logger.Warn("forecast poll skipped: daily request limit reached", "site", s.id, "kind", kind)
		} else {
			s.account.logger.Warn("forecast poll failed", "site", s.id, "kind", kind, "error", err)
		}
		return nil, err
	}

	var fc FeatureCollection
	if err := s.account.client.Decode(resp, &fc); err != nil {
		return nil, err
	}

	snap := Snapshot{PollID: pollID, PolledAt: now, Content: json.RawMessage(resp.Body)}
	s.mu.Lock()
	s.last[kind] = snap
	s.mu.Unlock()
	s.persist(kind, snap)

	s.publish(kind, snap)
	return &fc, nil
}

// Refresh re-publishes the cached kind response, polling only when there
// is none.
func (s *Site) Refresh(ctx context.Context, kind string) error {
	if snap, ok := s.Last(kind); ok {
		s.publish(kind, snap)
		return nil
	}
	_, err := s.Poll(ctx, kind)
	return err
}

// Run polls both kinds on their schedules until ctx is cancelled.
func (s *Site) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, kind := range []string{KindHourly, KindDaily} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.schedule(ctx, kind)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Site) schedule(ctx context.Context, kind string) {
	rate := s.rates[kind]

	if s.needsResync(kind, s.account.now(), rate) {
		s.account.logger.Debug("running forecast poll for re-sync", "site", s.id, "kind", kind)
		s.Poll(ctx, kind) //nolint:errcheck // logged in Poll
	} else {
		s.account.logger.Debug("using cached forecast", "site", s.id, "kind", kind)
		s.Refresh(ctx, kind) //nolint:errcheck // cache hit cannot fail
	}

	for {
		now := s.account.now()
		delay := NextPoll(now, rate).Sub(now) + s.randomJitter()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.Poll(ctx, kind) //nolint:errcheck // logged in Poll
	}
}

// needsResync reports whether the last attempt predates the most recent
// scheduled boundary.
func (s *Site) needsResync(kind string, now time.Time, rate time.Duration) bool {
	s.mu.Lock()
	last := s.attempts[kind]
	s.mu.Unlock()
	return last.IsZero() || last.Before(LastPoll(now, rate))
}

func (s *Site) randomJitter() time.Duration {
	if s.jitter <= 0 {
		return 0
	}
	return rand.N(s.jitter)
}

func (s *Site) publish(kind string, snap Snapshot) {
	if s.account.notifier == nil {
		return
	}
	s.account.notifier.Notify(notify.ResponseEvent{
		Source:  s.account.source,
		Subject: s.id,
		Kind:    kind,
		PollID:  snap.PollID,
		Content: snap.Content,
	})
}

func (s *Site) cacheKey(kind string) string {
	return s.account.source + "_" + s.id + "_" + kind
}

func (s *Site) persist(kind string, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.account.logger.Error("encoding cached forecast", "site", s.id, "kind", kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := s.account.store.Put(ctx, s.cacheKey(kind), string(data)); err != nil {
		s.account.logger.Error("persisting cached forecast", "site", s.id, "kind", kind, "error", err)
	}
}

// restore loads cached responses so a restart inside a poll interval
// does not spend budget.
func (s *Site) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	for _, kind := range []string{KindHourly, KindDaily} {
		raw, ok, err := s.account.store.Get(ctx, s.cacheKey(kind))
		if err != nil {
			s.account.logger.Warn("loading cached forecast", "site", s.id, "kind", kind, "error", err)
			continue
		}
		if !ok {
			continue
		}

		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			s.account.logger.Warn("discarding malformed cached forecast", "site", s.id, "kind", kind, "error", err)
			continue
		}
		s.last[kind] = snap
		s.attempts[kind] = snap.PolledAt
		if snap.PollID > s.pollID.Load() {
			s.pollID.Store(snap.PollID)
		}
	}
}

// NextPoll returns the next multiple of rate since UTC midnight after now,
// capped at the following midnight.
func NextPoll(now time.Time, rate time.Duration) time.Time {
	day := startOfDay(now)
	next := LastPoll(now, rate).Add(rate)
	if midnight := day.Add(24 * time.Hour); next.After(midnight) {
		return midnight
	}
	return next
}

// LastPoll returns the most recent multiple of rate since UTC midnight at
// or before now.
func LastPoll(now time.Time, rate time.Duration) time.Time {
	day := startOfDay(now)
	since := now.Sub(day)
	return day.Add(since - since%rate)
}

func validKind(kind string) bool {
	return kind == KindHourly || kind == KindDaily
}
