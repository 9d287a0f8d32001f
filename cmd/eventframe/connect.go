package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/config"
	"github.com/coachpo/eventframe/internal/infra/logging"
)

func newConnectCmd(state *cliState) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run a UI peer that mirrors the service's events and prints them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := uiConfig(state.cfg, url)
			return runConnect(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Service websocket URL, overrides bridge.url")
	return cmd
}

func uiConfig(cfg config.AppConfig, url string) config.AppConfig {
	cfg.Role = config.RoleUI
	if url != "" {
		cfg.Bridge.URL = url
	}
	return cfg
}

func dialTransport(cfg config.AppConfig) bridge.DialTransport {
	return bridge.DialTransport{URL: cfg.Bridge.URL, ReadLimit: cfg.Bridge.ReadLimitBytes}
}

func runConnect(parent context.Context, cfg config.AppConfig, out io.Writer) error {
	ctx, cancel := newSignalContext(parent)
	defer cancel()

	logger := logging.Component("eventframe")
	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		return err
	}

	n, err := newNode(ctx, cfg, nodeOptions{transport: dialTransport(cfg)})
	if err != nil {
		_ = telemetryProvider.Shutdown(context.Background())
		return err
	}
	n.bridge.OnStatusChange(logStatus(logger))
	if _, err := n.bus.On(eventbus.MatchAll, printer(out), eventbus.WithName("cli.printer")); err != nil {
		n.close()
		return fmt.Errorf("register printer: %w", err)
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := n.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("bridge stopped")
		}
	})
	logger.Info().Str("url", cfg.Bridge.URL).Msg("ui peer started; awaiting shutdown signal")

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		node:       n,
		telemetry:  telemetryProvider,
	})
	return nil
}

// printer writes every event it sees to out as one JSON line.
func printer(out io.Writer) eventbus.Listener {
	var mu sync.Mutex
	return func(_ context.Context, evt *schema.Event) (schema.Result, error) {
		line, err := json.Marshal(schema.FrameFromEvent(evt))
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), line)
		return schema.Done, err
	}
}
