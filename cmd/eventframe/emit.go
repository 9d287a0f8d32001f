package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/config"
)

const defaultConnectTimeout = 10 * time.Second

type emitOptions struct {
	scope   string
	remote  bool
	url     string
	timeout time.Duration
}

func newEmitCmd(state *cliState) *cobra.Command {
	opts := emitOptions{}
	cmd := &cobra.Command{
		Use:   "emit NAME [DATA]",
		Short: "Emit one event and print the settled response",
		Long: `Emit one event and print the EmitResponse as JSON.

DATA is parsed as JSON when possible and sent as a plain string otherwise.
Without --remote the event is dispatched on an in-process bus carrying the
application listeners; with --remote it is sent to a running service as an
emit request and the service's response is printed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := schema.EmitRequest{Name: args[0], Scope: opts.scope}
			if len(args) == 2 {
				req.Data = parseEventData(args[1])
			}
			if err := bridge.ValidateRequest(req); err != nil {
				return err
			}
			ctx, cancel := newSignalContext(cmd.Context())
			defer cancel()

			var (
				resp schema.EmitResponse
				err  error
			)
			if opts.remote {
				resp, err = emitRemote(ctx, uiConfig(state.cfg, opts.url), req, opts.timeout)
			} else {
				resp, err = emitLocal(ctx, state.cfg, req)
			}
			if err != nil {
				return err
			}
			return writeResponse(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Event scope: local, broadcast or both")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "Send the event to a running service instead of a local bus")
	cmd.Flags().StringVar(&opts.url, "url", "", "Service websocket URL for --remote, overrides bridge.url")
	cmd.Flags().DurationVar(&opts.timeout, "connect-timeout", defaultConnectTimeout, "Time allowed to reach the service")
	return cmd
}

func parseEventData(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return raw
	}
	return v
}

func emitLocal(ctx context.Context, cfg config.AppConfig, req schema.EmitRequest) (schema.EmitResponse, error) {
	cfg.Role = config.RoleService
	n, err := newNode(ctx, cfg, nodeOptions{demoListeners: true})
	if err != nil {
		return schema.EmitResponse{}, err
	}
	defer n.close()
	return n.bridge.Dispatch(ctx, req)
}

func emitRemote(ctx context.Context, cfg config.AppConfig, req schema.EmitRequest, timeout time.Duration) (schema.EmitResponse, error) {
	n, err := newNode(ctx, cfg, nodeOptions{transport: dialTransport(cfg)})
	if err != nil {
		return schema.EmitResponse{}, err
	}
	defer n.close()

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := n.bridge.Connect(connectCtx); err != nil {
		return schema.EmitResponse{}, fmt.Errorf("connect %s: %w", cfg.Bridge.URL, err)
	}
	return n.bridge.Request(ctx, req)
}

func writeResponse(out io.Writer, resp schema.EmitResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
