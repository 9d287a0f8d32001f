package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

const (
	shutdownTimeout          = 30 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	nodeShutdownTimeout      = 2 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	node       *node
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger zerolog.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info().Str("step", name).Msg("shutdown step started")
		if err := fn(stepCtx); err != nil {
			logger.Warn().Err(err).Str("step", name).Msg("shutdown step failed")
		} else {
			logger.Info().Str("step", name).Msg("shutdown step completed")
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Info().Msg("cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			return waitWithin(stepCtx, cfg.lifecycle.Wait)
		})
	}

	if cfg.node != nil {
		shutdownStep("closing bridge and bus", nodeShutdownTimeout, func(stepCtx context.Context) error {
			return waitWithin(stepCtx, cfg.node.close)
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func waitWithin(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}
