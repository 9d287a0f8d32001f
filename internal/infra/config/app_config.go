// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/logging"
	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

// EnvConfigPath names the environment variable that selects the config file.
const EnvConfigPath = "EVENTFRAME_CONFIG"

// EventbusConfig sets in-memory event bus characteristics.
type EventbusConfig struct {
	MaxHistory    int                 `yaml:"maxHistory"`
	FanoutWorkers FanoutWorkerSetting `yaml:"fanoutWorkers"`
	DefaultScope  string              `yaml:"defaultScope"`
}

type fanoutWorkerKind int

const (
	fanoutWorkerUnset fanoutWorkerKind = iota
	fanoutWorkerExplicit
	fanoutWorkerAuto
	fanoutWorkerDefault
)

// FanoutWorkerSetting accepts a positive integer, "auto" (one worker per CPU) or "default".
type FanoutWorkerSetting struct {
	kind  fanoutWorkerKind
	value int
}

// FanoutWorkers returns an explicit worker setting.
func FanoutWorkers(n int) FanoutWorkerSetting {
	if n <= 0 {
		return FanoutWorkerSetting{}
	}
	return FanoutWorkerSetting{kind: fanoutWorkerExplicit, value: n}
}

// UnmarshalYAML supports integer, "auto", and "default" values.
func (s *FanoutWorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = FanoutWorkerSetting{}
		return nil
	}
	text := strings.TrimSpace(node.Value)
	if text == "" {
		*s = FanoutWorkerSetting{}
		return nil
	}
	switch strings.ToLower(text) {
	case "auto":
		*s = FanoutWorkerSetting{kind: fanoutWorkerAuto}
		return nil
	case "default":
		*s = FanoutWorkerSetting{kind: fanoutWorkerDefault}
		return nil
	}
	val, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("fanoutWorkers: invalid value %q", node.Value)
	}
	if val <= 0 {
		return fmt.Errorf("fanoutWorkers: numeric value must be > 0")
	}
	*s = FanoutWorkerSetting{kind: fanoutWorkerExplicit, value: val}
	return nil
}

// MarshalYAML renders the setting the way it was written.
func (s FanoutWorkerSetting) MarshalYAML() (any, error) {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value, nil
	case fanoutWorkerAuto:
		return "auto", nil
	case fanoutWorkerDefault:
		return "default", nil
	default:
		return nil, nil
	}
}

func (s FanoutWorkerSetting) resolve() int {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value
	case fanoutWorkerAuto:
		if cores := runtime.NumCPU(); cores > 0 {
			return cores
		}
		return 1
	default:
		return 1
	}
}

// FanoutWorkerCount returns the resolved worker count; 1 means sequential invocation.
func (c EventbusConfig) FanoutWorkerCount() int {
	return c.FanoutWorkers.resolve()
}

// ReconnectConfig bounds the exponential reconnect backoff.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// BridgeConfig controls the transport bridge.
type BridgeConfig struct {
	URL              string          `yaml:"url"`
	SyncLocal        *bool           `yaml:"syncLocal"`
	SyncRemote       *bool           `yaml:"syncRemote"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
	InboundRateLimit float64         `yaml:"inboundRateLimit"`
	InboundBurst     int             `yaml:"inboundBurst"`
	Outbound         *bridge.Policy  `yaml:"outbound"`
	Inbound          *bridge.Policy  `yaml:"inbound"`
	ReadLimitBytes   int64           `yaml:"readLimitBytes"`
	WriteTimeout     time.Duration   `yaml:"writeTimeout"`
	RequestTimeout   time.Duration   `yaml:"requestTimeout"`
	AllowedOrigins   []string        `yaml:"allowedOrigins"`
}

// APIServerConfig configures the HTTP control surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// MiddlewareConfig toggles the built-in transforms.
type MiddlewareConfig struct {
	EnableLogging          bool     `yaml:"enableLogging"`
	EnableValidation       bool     `yaml:"enableValidation"`
	EnableSensitivityCheck bool     `yaml:"enableSensitivityCheck"`
	SensitivePatterns      []string `yaml:"sensitivePatterns"`
	ScriptsDir             string   `yaml:"scriptsDir"`
}

// LoggingConfig mirrors logging.Config in YAML.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// HistoryConfig bounds the REST history endpoint.
type HistoryConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxLimit     int `yaml:"maxLimit"`
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment      `yaml:"environment"`
	Role        Role             `yaml:"role"`
	Eventbus    EventbusConfig   `yaml:"eventbus"`
	Bridge      BridgeConfig     `yaml:"bridge"`
	APIServer   APIServerConfig  `yaml:"apiServer"`
	Middleware  MiddlewareConfig `yaml:"middleware"`
	Logging     LoggingConfig    `yaml:"logging"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	History     HistoryConfig    `yaml:"history"`
}

// DefaultAppConfig returns the configuration used when no file is supplied.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Role:        RoleService,
		Middleware: MiddlewareConfig{
			EnableLogging:          true,
			EnableValidation:       true,
			EnableSensitivityCheck: true,
		},
		Telemetry: TelemetryConfig{ServiceName: "eventframe", OTLPInsecure: true},
	}
	_ = cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file. Sections that are
// absent keep their defaults.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// Parse decodes YAML bytes over the defaults, then normalises and validates.
func Parse(data []byte) (AppConfig, error) {
	cfg := DefaultAppConfig()
	cfg.Bridge.Outbound = nil
	cfg.Bridge.Inbound = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to $EVENTFRAME_CONFIG and then to defaults
// when neither names a file.
func LoadOrDefault(ctx context.Context, path string) (AppConfig, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if candidate == "" {
		return DefaultAppConfig(), nil
	}
	return Load(ctx, candidate)
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(normalizeIdentifier(string(c.Environment)))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Role = Role(normalizeIdentifier(string(c.Role)))
	if c.Role == "" {
		c.Role = RoleService
	}

	if c.Eventbus.MaxHistory <= 0 {
		c.Eventbus.MaxHistory = eventbus.DefaultMaxHistory
	}
	c.Eventbus.DefaultScope = normalizeIdentifier(c.Eventbus.DefaultScope)
	if c.Eventbus.DefaultScope == "" {
		c.Eventbus.DefaultScope = string(schema.ScopeBoth)
	}

	c.Bridge.URL = strings.TrimSpace(c.Bridge.URL)
	if c.Bridge.URL == "" {
		c.Bridge.URL = "ws://localhost:8000/ws"
	}
	if c.Bridge.SyncLocal == nil {
		c.Bridge.SyncLocal = boolPtr(true)
	}
	if c.Bridge.SyncRemote == nil {
		c.Bridge.SyncRemote = boolPtr(true)
	}
	defaults := bridge.DefaultPolicies()
	if c.Bridge.Outbound == nil {
		c.Bridge.Outbound = &defaults.Outbound
	}
	if c.Bridge.Inbound == nil {
		c.Bridge.Inbound = &defaults.Inbound
	}
	c.Bridge.Outbound.Allow = trimAll(c.Bridge.Outbound.Allow)
	c.Bridge.Outbound.Block = trimAll(c.Bridge.Outbound.Block)
	c.Bridge.Inbound.Allow = trimAll(c.Bridge.Inbound.Allow)
	c.Bridge.Inbound.Block = trimAll(c.Bridge.Inbound.Block)
	if c.Bridge.Reconnect.InitialInterval <= 0 {
		c.Bridge.Reconnect.InitialInterval = 500 * time.Millisecond
	}
	if c.Bridge.Reconnect.MaxInterval <= 0 {
		c.Bridge.Reconnect.MaxInterval = 20 * time.Second
	}
	if c.Bridge.ReadLimitBytes <= 0 {
		c.Bridge.ReadLimitBytes = bridge.DefaultReadLimit
	}
	c.Bridge.AllowedOrigins = trimAll(c.Bridge.AllowedOrigins)
	if len(c.Bridge.AllowedOrigins) == 0 {
		c.Bridge.AllowedOrigins = []string{"localhost:*", "127.0.0.1:*"}
	}

	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	if c.APIServer.Addr == "" {
		c.APIServer.Addr = ":8000"
	}

	c.Middleware.SensitivePatterns = trimAll(c.Middleware.SensitivePatterns)
	if len(c.Middleware.SensitivePatterns) == 0 {
		c.Middleware.SensitivePatterns = append([]string(nil), bridge.SensitivePrefixes...)
	}
	if dir := strings.TrimSpace(c.Middleware.ScriptsDir); dir != "" {
		c.Middleware.ScriptsDir = filepath.Clean(dir)
	}

	c.Logging.Level = normalizeIdentifier(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeIdentifier(c.Logging.Format)
	if c.Logging.Format == "" {
		c.Logging.Format = logging.FormatConsole
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "eventframe"
	}

	if c.History.DefaultLimit <= 0 {
		c.History.DefaultLimit = 50
	}
	if c.History.MaxLimit <= 0 {
		c.History.MaxLimit = eventbus.DefaultMaxHistory
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	switch c.Role {
	case RoleService, RoleUI:
	default:
		return fmt.Errorf("role must be one of service, ui")
	}

	if c.Eventbus.MaxHistory <= 0 {
		return fmt.Errorf("eventbus maxHistory must be >0")
	}
	if c.Eventbus.FanoutWorkerCount() <= 0 {
		return fmt.Errorf("eventbus fanoutWorkers must be >0")
	}
	if _, err := schema.ParseScope(c.Eventbus.DefaultScope, ""); err != nil {
		return fmt.Errorf("eventbus defaultScope: %w", err)
	}

	if c.Role == RoleUI && !strings.HasPrefix(c.Bridge.URL, "ws://") && !strings.HasPrefix(c.Bridge.URL, "wss://") {
		return fmt.Errorf("bridge url must use ws:// or wss://")
	}
	if c.Bridge.InboundRateLimit < 0 {
		return fmt.Errorf("bridge inboundRateLimit must be >=0")
	}
	if c.Bridge.InboundBurst < 0 {
		return fmt.Errorf("bridge inboundBurst must be >=0")
	}
	if c.Bridge.Reconnect.MaxInterval < c.Bridge.Reconnect.InitialInterval {
		return fmt.Errorf("bridge reconnect maxInterval must be >= initialInterval")
	}
	if err := c.Bridge.Outbound.Validate(); err != nil {
		return fmt.Errorf("bridge outbound policy: %w", err)
	}
	if err := c.Bridge.Inbound.Validate(); err != nil {
		return fmt.Errorf("bridge inbound policy: %w", err)
	}

	if c.Role == RoleService && c.APIServer.Addr == "" {
		return fmt.Errorf("apiServer addr required")
	}
	for _, p := range c.Middleware.SensitivePatterns {
		if err := eventbus.ValidateTopic(p); err != nil {
			return fmt.Errorf("middleware sensitivePatterns: %w", err)
		}
	}
	switch c.Logging.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("logging format must be one of console, json")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if c.History.DefaultLimit > c.History.MaxLimit {
		return fmt.Errorf("history defaultLimit must be <= maxLimit")
	}
	return nil
}

// BusConfig converts the eventbus section.
func (c AppConfig) BusConfig() eventbus.Config {
	scope, _ := schema.ParseScope(c.Eventbus.DefaultScope, schema.ScopeBoth)
	return eventbus.Config{
		MaxHistory:    c.Eventbus.MaxHistory,
		FanoutWorkers: c.Eventbus.FanoutWorkerCount(),
		DefaultScope:  scope,
	}
}

// BridgeConfig converts the bridge section for the configured role.
func (c AppConfig) BridgeConfig() bridge.Config {
	scope, _ := schema.ParseScope(c.Eventbus.DefaultScope, schema.ScopeBoth)
	cfg := bridge.Config{
		Role:             string(c.Role),
		SyncLocal:        c.Bridge.SyncLocal == nil || *c.Bridge.SyncLocal,
		SyncRemote:       c.Bridge.SyncRemote == nil || *c.Bridge.SyncRemote,
		InboundRateLimit: c.Bridge.InboundRateLimit,
		InboundBurst:     c.Bridge.InboundBurst,
		ReconnectInitial: c.Bridge.Reconnect.InitialInterval,
		ReconnectMax:     c.Bridge.Reconnect.MaxInterval,
		WriteTimeout:     c.Bridge.WriteTimeout,
		RequestTimeout:   c.Bridge.RequestTimeout,
		DefaultScope:     scope,
	}
	if c.Bridge.Outbound != nil {
		cfg.Policies.Outbound = *c.Bridge.Outbound
	}
	if c.Bridge.Inbound != nil {
		cfg.Policies.Inbound = *c.Bridge.Inbound
	}
	return cfg
}

// LoggerConfig converts the logging section.
func (c AppConfig) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format, Verbose: c.Logging.Verbose}
}

// TelemetryProviderConfig converts the telemetry section.
func (c AppConfig) TelemetryProviderConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = cfg.Enabled || c.Telemetry.EnableMetrics
	cfg.ServiceName = c.Telemetry.ServiceName
	cfg.Environment = string(c.Environment)
	cfg.OTLPInsecure = c.Telemetry.OTLPInsecure
	if c.Telemetry.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	}
	return cfg
}

func boolPtr(v bool) *bool {
	return &v
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))
	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
