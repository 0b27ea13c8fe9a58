package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/synapse/internal/reporting"
	"github.com/petrijr/synapse/internal/workflow"
)

func newServeCmd(opts *options) *cobra.Command {
	var workflowPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded traces over HTTP",
		Long: `Serve the trace store as JSON under /api, a run index at / and
Prometheus metrics at /metrics.

With --workflow, POST /api/runs {"prompt": "..."} executes that workflow.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd, map[string]string{
				"host": "server.host",
				"port": "server.port",
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				a.shutdown(sctx)
			}()
			a.withProcessCollectors()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			handlerOpts := []reporting.Option{reporting.WithLogger(a.logger)}
			if a.metrics != nil {
				handlerOpts = append(handlerOpts, reporting.WithMetrics(a.metrics))
			}
			if workflowPath != "" {
				graph, err := workflow.Load(workflowPath)
				if err != nil {
					return &usageError{err: err}
				}
				eng, err := a.newEngine(graph, store)
				if err != nil {
					return err
				}
				handlerOpts = append(handlerOpts, reporting.WithEngine(eng))
			}

			addr := cfg.Server.Addr()
			h := reporting.NewServer(addr, reporting.NewHandler(store, handlerOpts...))
			a.logger.Info("serving traces", slog.String("addr", addr))
			// Spin blocks until SIGINT/SIGTERM and shuts the server down.
			h.Spin()
			return nil
		},
	}

	cmd.Flags().String("host", "", "listen host (default 127.0.0.1)")
	cmd.Flags().Int("port", 0, "listen port (default 8080)")
	cmd.Flags().StringVar(&workflowPath, "workflow", "", "workflow executed by POST /api/runs")
	return cmd
}
