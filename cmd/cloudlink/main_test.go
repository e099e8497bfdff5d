package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/api"
	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/metoffice"
	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/unifiprotect"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cloudlink/internal/kvstore"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("CLOUDLINK_CONFIG", path)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("CLOUDLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config failure", err)
	}
}

func TestRun_MissingAPIKey(t *testing.T) {
	t.Setenv("CLOUDLINK_DATAHUB_API_KEY", "")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
datahub:
  enabled: true
  sites:
    - id: home
      location: "51.5,-0.1"
`)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "datahub.api_key") {
		t.Fatalf("run() error = %v, want missing api key", err)
	}
}

// TestRun_BrokerUnavailable needs nothing listening on port 1: startup
// stops at the MQTT connection after the database is migrated.
func TestRun_BrokerUnavailable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "test-cloudlink"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5
logging:
  level: error
  output: discard
api:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "MQTT") {
		t.Fatalf("run() error = %v, want MQTT failure", err)
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("database not created: %v", statErr)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CLOUDLINK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("CLOUDLINK_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

func TestConnectInflux_Disabled(t *testing.T) {
	client, err := connectInflux(context.Background(), config.InfluxDBConfig{}, logging.Discard())
	if err != nil || client != nil {
		t.Errorf("connectInflux() = %v, %v; want nil, nil", client, err)
	}
}

func TestBuildBindings(t *testing.T) {
	cfg := &config.Config{
		DataHub: config.DataHubConfig{
			Enabled:           true,
			BaseURL:           "http://127.0.0.1:1/sitespecific/v0",
			APIKey:            "datahub-key",
			DailyLimit:        360,
			RequestsPerSecond: 2,
			Timeout:           5,
			Sites: []config.DataHubSiteConfig{
				{ID: "home", Location: "51.5,-0.1", HourlyPollRate: 1, DailyPollRate: 3},
			},
		},
		Protect: config.ProtectConfig{
			Enabled:           true,
			Host:              "127.0.0.1:1",
			APIKey:            "protect-key",
			DailyLimit:        1000,
			RequestsPerSecond: 5,
			Timeout:           5,
			HeartbeatInterval: 30,
			ReconnectDelay:    1,
		},
	}

	registry := notify.NewRegistry()
	defer registry.Close()

	bindings, err := buildBindings(cfg, kvstore.NewMemoryStore(), registry, logging.Discard())
	defer closeBindings(bindings, logging.Discard())
	if err != nil {
		t.Fatalf("buildBindings() error = %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("bindings = %d, want 2", len(bindings))
	}

	account, ok := bindings[0].(*metoffice.Account)
	if !ok || account.Source() != metoffice.DefaultSource {
		t.Fatalf("bindings[0] = %T", bindings[0])
	}
	if _, ok := account.Site("home"); !ok {
		t.Error("site home not added")
	}
	if got := account.Limiter().Remaining(); got != 360 {
		t.Errorf("DataHub remaining = %d, want 360", got)
	}
	if _, ok := bindings[1].(*unifiprotect.Client); !ok {
		t.Errorf("bindings[1] = %T", bindings[1])
	}

	// Both bindings satisfy the API's budget view.
	var _ api.Budgeted = bindings[0]
}

func TestBuildBindings_BadLocation(t *testing.T) {
	cfg := &config.Config{
		DataHub: config.DataHubConfig{
			Enabled:           true,
			BaseURL:           "http://127.0.0.1:1",
			APIKey:            "datahub-key",
			DailyLimit:        10,
			RequestsPerSecond: 1,
			Sites:             []config.DataHubSiteConfig{{ID: "pole", Location: "89,0", HourlyPollRate: 1, DailyPollRate: 1}},
		},
	}

	bindings, err := buildBindings(cfg, kvstore.NewMemoryStore(), notify.NewRegistry(), logging.Discard())
	defer closeBindings(bindings, logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "pole") {
		t.Fatalf("buildBindings() error = %v, want invalid location", err)
	}
	if len(bindings) != 1 {
		t.Errorf("bindings returned for cleanup = %d, want 1", len(bindings))
	}
}

func TestHealthCheck(t *testing.T) {
	ok := healthFunc(func(context.Context) error { return nil })
	if err := healthCheck(context.Background(), map[string]api.HealthChecker{"a": ok}); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}

	bad := healthFunc(func(context.Context) error { return context.DeadlineExceeded })
	err := healthCheck(context.Background(), map[string]api.HealthChecker{"mqtt": bad})
	if err == nil || !strings.Contains(err.Error(), "mqtt") {
		t.Errorf("healthCheck() error = %v, want mqtt failure", err)
	}
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
