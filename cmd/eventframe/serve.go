package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/config"
	"github.com/coachpo/eventframe/internal/infra/logging"
	httpserver "github.com/coachpo/eventframe/internal/infra/server/http"
)

const apiReadHeaderTimeout = 5 * time.Second

func newServeCmd(state *cliState) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the service node: REST API, websocket bridge endpoint and listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := state.cfg
			cfg.Role = config.RoleService
			if addr != "" {
				cfg.APIServer.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides apiServer.addr")
	return cmd
}

func runServe(parent context.Context, cfg config.AppConfig) error {
	ctx, cancel := newSignalContext(parent)
	defer cancel()

	logger := logging.Component("eventframe")
	logger.Info().Str("env", string(cfg.Environment)).Str("role", string(cfg.Role)).Msg("configuration initialised")

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		return err
	}

	accept := bridge.NewAcceptTransport(cfg.Bridge.ReadLimitBytes,
		bridge.WithOriginPatterns(cfg.Bridge.AllowedOrigins...))
	n, err := newNode(ctx, cfg, nodeOptions{demoListeners: true, transport: accept})
	if err != nil {
		_ = telemetryProvider.Shutdown(context.Background())
		return err
	}
	n.bridge.OnStatusChange(logStatus(logger))
	logger.Info().Interface("listeners", n.bus.ListenerCounts()).Msg("listeners registered")

	handlerLogger := logging.Component("http")
	server := buildAPIServer(cfg.APIServer.Addr, httpserver.NewHandler(httpserver.Options{
		Bus:            n.bus,
		Dispatcher:     n.bridge,
		Bridge:         n.bridge,
		Socket:         accept,
		History:        cfg.History,
		AllowedOrigins: cfg.Bridge.AllowedOrigins,
		Logger:         &handlerLogger,
	}))

	var lifecycle conc.WaitGroup
	startAPIServer(&lifecycle, logger, server)
	lifecycle.Go(func() {
		if err := n.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("bridge stopped")
		}
	})
	logger.Info().Str("addr", server.Addr).Msg("service started; awaiting shutdown signal")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     server,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		node:       n,
		telemetry:  telemetryProvider,
	})
	logger.Info().Dur("elapsed", time.Since(shutdownStart)).Msg("shutdown completed")
	return nil
}

func buildAPIServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger zerolog.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server stopped")
		}
	})
}
