package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
role: ui
eventbus:
  maxHistory: 3
  fanoutWorkers: 4
  defaultScope: Local
bridge:
  url: ws://service:8000/ws
  syncLocal: false
  reconnect:
    initialInterval: 250ms
    maxInterval: 5s
  inboundRateLimit: 50
  inboundBurst: 10
  outbound:
    allow: ["*"]
    block: ["admin.*", " admin.* "]
apiServer:
  addr: ":9999"
middleware:
  enableLogging: false
  sensitivePatterns: ["secret.*"]
logging:
  level: DEBUG
  format: json
telemetry:
  serviceName: test-service
  enableMetrics: false
history:
  defaultLimit: 10
  maxLimit: 20
`)

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Environment != EnvStaging {
		t.Fatalf("expected environment %s, got %s", EnvStaging, cfg.Environment)
	}
	if cfg.Role != RoleUI {
		t.Fatalf("expected role ui, got %s", cfg.Role)
	}
	if cfg.Eventbus.MaxHistory != 3 {
		t.Fatalf("expected maxHistory 3, got %d", cfg.Eventbus.MaxHistory)
	}
	if workers := cfg.Eventbus.FanoutWorkerCount(); workers != 4 {
		t.Fatalf("expected fanout workers 4, got %d", workers)
	}

	bus := cfg.BusConfig()
	if bus.DefaultScope != schema.ScopeLocal {
		t.Fatalf("expected default scope local, got %s", bus.DefaultScope)
	}

	br := cfg.BridgeConfig()
	if br.SyncLocal {
		t.Fatalf("expected syncLocal disabled")
	}
	if !br.SyncRemote {
		t.Fatalf("expected syncRemote to default to true")
	}
	if br.ReconnectInitial != 250*time.Millisecond || br.ReconnectMax != 5*time.Second {
		t.Fatalf("unexpected reconnect bounds %s..%s", br.ReconnectInitial, br.ReconnectMax)
	}
	if br.InboundRateLimit != 50 || br.InboundBurst != 10 {
		t.Fatalf("unexpected rate limit %v/%d", br.InboundRateLimit, br.InboundBurst)
	}
	if got := br.Policies.Outbound.Block; len(got) != 1 || got[0] != "admin.*" {
		t.Fatalf("expected deduplicated block list, got %v", got)
	}
	if br.Policies.Outbound.Allows("admin.delete") || !br.Policies.Outbound.Allows("user.created") {
		t.Fatalf("outbound policy not applied")
	}
	if !br.Policies.Inbound.Allows("todo.added") || br.Policies.Inbound.Allows("private.key") {
		t.Fatalf("inbound policy should default to the sensitive-prefix policy")
	}

	if cfg.Middleware.EnableLogging {
		t.Fatalf("expected logging middleware disabled")
	}
	if !cfg.Middleware.EnableValidation {
		t.Fatalf("expected validation middleware to keep its default")
	}
	if got := cfg.Middleware.SensitivePatterns; len(got) != 1 || got[0] != "secret.*" {
		t.Fatalf("unexpected sensitive patterns %v", got)
	}
	if lc := cfg.LoggerConfig(); lc.Level != "debug" || lc.Format != "json" {
		t.Fatalf("unexpected logging config %+v", lc)
	}
	if cfg.History.DefaultLimit != 10 || cfg.History.MaxLimit != 20 {
		t.Fatalf("unexpected history limits %+v", cfg.History)
	}
	if cfg.Bridge.ReadLimitBytes != bridge.DefaultReadLimit {
		t.Fatalf("expected default read limit, got %d", cfg.Bridge.ReadLimitBytes)
	}
}

func TestDefaultAppConfig(t *testing.T) {
	cfg := DefaultAppConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Role != RoleService {
		t.Fatalf("expected service role, got %s", cfg.Role)
	}
	if cfg.Eventbus.MaxHistory != eventbus.DefaultMaxHistory {
		t.Fatalf("expected maxHistory %d, got %d", eventbus.DefaultMaxHistory, cfg.Eventbus.MaxHistory)
	}
	if cfg.Eventbus.FanoutWorkerCount() != 1 {
		t.Fatalf("expected sequential fanout by default")
	}
	if cfg.APIServer.Addr != ":8000" {
		t.Fatalf("unexpected api addr %q", cfg.APIServer.Addr)
	}
	if cfg.History.DefaultLimit != 50 || cfg.History.MaxLimit != 100 {
		t.Fatalf("unexpected history limits %+v", cfg.History)
	}
	br := cfg.BridgeConfig()
	if !br.SyncLocal || !br.SyncRemote {
		t.Fatalf("expected both sync directions enabled")
	}
	for _, topic := range []string{"private.x", "system.x", "admin.x", "auth.x", "internal.x"} {
		if br.Policies.Outbound.Allows(topic) {
			t.Fatalf("default outbound policy should block %s", topic)
		}
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := LoadOrDefault(context.Background(), "")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Environment != EnvDev {
		t.Fatalf("expected dev defaults, got %s", cfg.Environment)
	}

	path := writeConfig(t, "environment: prod\n")
	t.Setenv(EnvConfigPath, path)
	cfg, err = LoadOrDefault(context.Background(), "")
	if err != nil {
		t.Fatalf("LoadOrDefault from env: %v", err)
	}
	if cfg.Environment != EnvProd {
		t.Fatalf("expected prod from %s, got %s", EnvConfigPath, cfg.Environment)
	}
}

func TestFanoutWorkersAuto(t *testing.T) {
	cfg, err := Parse([]byte("eventbus:\n  fanoutWorkers: auto\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	expected := runtime.NumCPU()
	if expected <= 0 {
		expected = 1
	}
	if workers := cfg.Eventbus.FanoutWorkerCount(); workers != expected {
		t.Fatalf("expected fanout workers %d, got %d", expected, workers)
	}
}

func TestFanoutWorkersDefault(t *testing.T) {
	cfg, err := Parse([]byte("eventbus:\n  fanoutWorkers: default\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if workers := cfg.Eventbus.FanoutWorkerCount(); workers != 1 {
		t.Fatalf("expected fanout workers 1, got %d", workers)
	}
}

func TestFanoutWorkersInvalid(t *testing.T) {
	for _, value := range []string{"0", "-2", "lots"} {
		if _, err := Parse([]byte("eventbus:\n  fanoutWorkers: " + value + "\n")); err == nil {
			t.Fatalf("expected error for fanoutWorkers %q", value)
		}
	}
}

func TestFanoutWorkersRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(EventbusConfig{FanoutWorkers: FanoutWorkers(3)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), "fanoutWorkers: 3") {
		t.Fatalf("unexpected yaml %s", out)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"environment":  "environment: qa\n",
		"role":         "role: worker\n",
		"scope":        "eventbus:\n  defaultScope: galaxy\n",
		"ui url":       "role: ui\nbridge:\n  url: http://service\n",
		"rate":         "bridge:\n  inboundRateLimit: -1\n",
		"reconnect":    "bridge:\n  reconnect:\n    initialInterval: 10s\n    maxInterval: 1s\n",
		"policy":       "bridge:\n  outbound:\n    allow: [\"a*b\"]\n",
		"format":       "logging:\n  format: xml\n",
		"history":      "history:\n  defaultLimit: 200\n  maxLimit: 100\n",
		"pattern":      "middleware:\n  sensitivePatterns: [\"*x*\"]\n",
		"unknown yaml": "eventbus: [1, 2]\n",
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(context.Background(), filepath.Join("..", "..", "..", "config", "app.example.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.Role != RoleService {
		t.Fatalf("expected service role, got %q", cfg.Role)
	}
	if cfg.Bridge.Reconnect.MaxInterval != 20*time.Second {
		t.Fatalf("expected 20s max reconnect, got %v", cfg.Bridge.Reconnect.MaxInterval)
	}
	if got := cfg.BridgeConfig().Policies.Outbound.Check("admin.audit"); got == nil {
		t.Fatalf("expected example outbound policy to block admin.*")
	}
	if cfg.Middleware.ScriptsDir != filepath.Join("config", "scripts") {
		t.Fatalf("unexpected scripts dir %q", cfg.Middleware.ScriptsDir)
	}
}
