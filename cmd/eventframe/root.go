package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/coachpo/eventframe/internal/infra/config"
	"github.com/coachpo/eventframe/internal/infra/logging"
)

const defaultEnvFile = ".env"

// cliState is shared by every subcommand once the persistent pre-run has loaded it.
type cliState struct {
	configPath string
	envFile    string
	cfg        config.AppConfig
}

func newRootCmd() *cobra.Command {
	state := &cliState{}
	root := &cobra.Command{
		Use:   "eventframe [command] [flags]",
		Short: "Topic-routed event bus with a bidirectional peer bridge",
		Long: `eventframe routes named events to prioritised listeners and mirrors them to one
remote peer over a websocket bridge.

Examples:
  # Run the service node (REST API + /ws endpoint)
  eventframe serve --config config/app.example.yaml

  # Connect a UI peer to a running service
  eventframe connect --url ws://localhost:8000/ws

  # Emit one event on a local bus, or through a running service
  eventframe emit user.created '{"name":"Ada"}'
  eventframe emit todo.save '{"title":"ship it"}' --remote`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.load(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&state.configPath, "config", "",
		fmt.Sprintf("Path to application configuration file (default: $%s)", config.EnvConfigPath))
	root.PersistentFlags().StringVar(&state.envFile, "env-file", defaultEnvFile, "Dotenv file loaded before the configuration")

	root.AddCommand(newServeCmd(state))
	root.AddCommand(newConnectCmd(state))
	root.AddCommand(newEmitCmd(state))
	return root
}

func (s *cliState) load(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.envFile != "" {
		_ = godotenv.Load(s.envFile) // a missing dotenv file is not an error
	}
	cfg, err := config.LoadOrDefault(ctx, s.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s.cfg = cfg
	logging.Init(cfg.LoggerConfig())
	return nil
}

func newSignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
