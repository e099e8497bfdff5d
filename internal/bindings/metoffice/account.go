package metoffice

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/auth"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/client"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
	"github.com/nerrad567/gray-logic-cloudlink/internal/kvstore"
)

const (
	// DefaultSource names the binding in events, topics and limiter keys.
	DefaultSource = "datahub"

	// DefaultBaseURL is the site-specific forecast API root.
	DefaultBaseURL = "https://data.hub.api.metoffice.gov.uk/sitespecific/v0"

	// DefaultTimeout bounds each forecast request.
	DefaultTimeout = 10 * time.Second

	// apiKeyHeader carries the DataHub key; the key itself is a JWT.
	apiKeyHeader = "apikey"
)

// Logger defines the logging interface used by the binding.
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

// AccountConfig configures an Account.
type AccountConfig struct {
	// Source defaults to DefaultSource.
	Source string

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	APIKey            string
	DailyLimit        int
	RequestsPerSecond int

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// Store persists the daily budget and cached responses. Required.
	Store kvstore.Store

	Notifier   client.Notifier
	HTTPClient *http.Client
	Logger     Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Account is one DataHub subscription: a key, a daily budget and the sites
// polled against it.
type Account struct {
	source   string
	store    kvstore.Store
	notifier client.Notifier
	logger   Logger
	now      func() time.Time

	limiter *limiter.Limiter
	gate    *auth.Gate
	client  *client.Client

	mu    sync.RWMutex
	sites map[string]*Site
}

// NewAccount validates the key and builds the limiter, gate and client.
//
// Parameters:
//   - cfg: Account configuration; APIKey and Store are required
//
// Returns:
//   - *Account: Ready account with no sites
//   - error: ErrNoAPIKey, auth.ErrInvalidCredentialFormat or a limiter error
func NewAccount(cfg AccountConfig) (*Account, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	a := &Account{
		source:   cfg.Source,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      cfg.Now,
		sites:    make(map[string]*Site),
	}
	if a.logger == nil {
		a.logger = noopLogger{}
	}

	a.gate = auth.New(auth.Config{
		Header:    apiKeyHeader,
		Validator: auth.JWTValidator,
	})
	if err := a.gate.SetCredential(cfg.APIKey); err != nil {
		return nil, err
	}

	lim, err := limiter.New(limiter.Config{
		ID:         a.source + "_forecast",
		DailyLimit: cfg.DailyLimit,
		Store:      cfg.Store,
		OnUpdate:   a.budgetChanged,
		Now:        cfg.Now,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("metoffice: creating limiter: %w", err)
	}
	a.limiter = lim

	c, err := client.New(client.Config{
		Source:               a.source,
		BaseURL:              cfg.BaseURL,
		Timeout:              cfg.Timeout,
		MaxRequestsPerSecond: cfg.RequestsPerSecond,
		Quota:                lim,
		Gate:                 a.gate,
		Notifier:             cfg.Notifier,
		HTTPClient:           cfg.HTTPClient,
		Logger:               a.logger,
	})
	if err != nil {
		lim.Close() //nolint:errcheck // construction already failed
		return nil, fmt.Errorf("metoffice: creating client: %w", err)
	}
	a.client = c

	return a, nil
}

// Source returns the binding name.
func (a *Account) Source() string {
	return a.source
}

// Limiter returns the account's daily budget.
func (a *Account) Limiter() *limiter.Limiter {
	return a.limiter
}

// Client returns the throttled client shared by all sites.
func (a *Account) Client() *client.Client {
	return a.client
}

// Authenticated reports whether the last response accepted the key.
func (a *Account) Authenticated() bool {
	return a.gate.Authenticated()
}

// SetAPIKey replaces the key. A malformed key is rejected and the previous
// one stays in use.
func (a *Account) SetAPIKey(key string) error {
	return a.gate.SetCredential(key)
}

// UpdateLimit changes the daily budget.
func (a *Account) UpdateLimit(limit int) {
	a.limiter.UpdateLimit(limit)
}

// AddSite registers and returns a site. The site does not poll until Run.
func (a *Account) AddSite(cfg SiteConfig) (*Site, error) {
	s, err := newSite(a, cfg)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sites[s.id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSite, s.id)
	}
	a.sites[s.id] = s
	return s, nil
}

// Site returns a registered site by id.
func (a *Account) Site(id string) (*Site, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sites[id]
	return s, ok
}

// Sites returns the registered sites ordered by id.
func (a *Account) Sites() []*Site {
	a.mu.RLock()
	out := make([]*Site, 0, len(a.sites))
	for _, s := range a.sites {
		out = append(out, s)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// PollCommand polls kind for one site, or for every site when subject is
// empty. It backs the MQTT poll command.
func (a *Account) PollCommand(ctx context.Context, subject, kind string) error {
	if !validKind(kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	sites := a.Sites()
	if subject != "" {
		s, ok := a.Site(subject)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSite, subject)
		}
		sites = []*Site{s}
	}

	var firstErr error
	for _, s := range sites {
		if _, err := s.Poll(ctx, kind); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run drives every site's schedule until ctx is cancelled.
func (a *Account) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range a.Sites() {
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	return g.Wait()
}

// Close stops the limiter and flushes its pending write.
func (a *Account) Close() error {
	return a.limiter.Close()
}

func (a *Account) budgetChanged(b limiter.Budget) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(notify.RateLimitEvent{Source: a.source, Budget: b})
}
