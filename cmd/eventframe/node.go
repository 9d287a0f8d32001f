package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coachpo/eventframe/internal/app/listeners"
	"github.com/coachpo/eventframe/internal/app/middleware"
	"github.com/coachpo/eventframe/internal/app/scripting"
	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/config"
	"github.com/coachpo/eventframe/internal/infra/logging"
	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

// node is one side of the bridge: a bus with its transforms and listeners, plus the
// bridge that mirrors it to the peer.
type node struct {
	bus       *eventbus.MemoryBus
	listeners *listeners.Set
	scripts   *scripting.Installed
	bridge    *bridge.Bridge
}

type nodeOptions struct {
	// demoListeners registers the application listener tables.
	demoListeners bool
	transport     bridge.Transport
}

func newNode(ctx context.Context, cfg config.AppConfig, opts nodeOptions) (*node, error) {
	n := &node{
		bus: eventbus.NewMemoryBus(cfg.BusConfig(), eventbus.WithLogger(logging.Component("eventbus"))),
	}

	middleware.Install(n.bus, middleware.Options{
		Logging:           cfg.Middleware.EnableLogging,
		Verbose:           cfg.Logging.Verbose,
		Validation:        cfg.Middleware.EnableValidation,
		SensitivityCheck:  cfg.Middleware.EnableSensitivityCheck,
		SensitivePatterns: cfg.Middleware.SensitivePatterns,
	}, logging.Component("middleware"))

	if dir := cfg.Middleware.ScriptsDir; dir != "" {
		loader, err := scripting.NewLoader(dir)
		if err != nil {
			n.close()
			return nil, err
		}
		if err := loader.Refresh(ctx); err != nil {
			n.close()
			return nil, fmt.Errorf("load scripts: %w", err)
		}
		installed, err := scripting.Install(n.bus, loader, logging.Component("scripting"))
		if err != nil {
			n.close()
			return nil, fmt.Errorf("install scripts: %w", err)
		}
		n.scripts = installed
	}

	if opts.demoListeners {
		n.listeners = listeners.NewSet(logging.Component("listeners"))
		if _, err := n.listeners.Register(n.bus); err != nil {
			n.close()
			return nil, fmt.Errorf("register listeners: %w", err)
		}
	}

	br, err := bridge.New(n.bus, opts.transport, cfg.BridgeConfig(), bridge.WithLogger(logging.Component("bridge")))
	if err != nil {
		n.close()
		return nil, fmt.Errorf("create bridge: %w", err)
	}
	n.bridge = br
	return n, nil
}

func (n *node) close() {
	if n.bridge != nil {
		n.bridge.Close()
	}
	if n.scripts != nil {
		n.scripts.Close()
	}
	n.bus.Close()
}

// logStatus reports bridge transitions on logger.
func logStatus(logger zerolog.Logger) bridge.StatusObserver {
	return func(st bridge.Status) {
		ev := logger.Info()
		if st.Err != nil {
			ev = logger.Warn().Err(st.Err)
		}
		ev.Str("state", string(st.State)).Msg("bridge state changed")
	}
}

func initTelemetry(ctx context.Context, logger zerolog.Logger, cfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := cfg.TelemetryProviderConfig()
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Enabled() {
		logger.Info().Str("endpoint", telemetryCfg.OTLPEndpoint).Str("service", telemetryCfg.ServiceName).Msg("telemetry initialized")
	} else {
		logger.Info().Msg("telemetry disabled")
	}
	return provider, nil
}
