package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/synapse"
	"github.com/petrijr/synapse/internal/workflow"
)

func newRunCmd(opts *options) *cobra.Command {
	var prompts []string

	cmd := &cobra.Command{
		Use:   "run <workflow.yml>",
		Short: "Execute a workflow and record its trace",
		Long: `Execute a workflow document with the given prompt as run input.

Passing --prompt more than once starts one run per prompt; the runs execute
concurrently on workers.count workers.`,
		Example: `  synapse run workflows/research.yml --prompt "neural rendering"
  synapse run wf.yml --prompt a --prompt b --store memory`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(prompts) == 0 {
				return &usageError{err: errors.New(`required flag "prompt" not set`)}
			}

			cfg, err := opts.loadConfig(cmd, map[string]string{"workers": "workers.count"})
			if err != nil {
				return err
			}

			graph, err := workflow.Load(args[0])
			if err != nil {
				return &usageError{err: err}
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

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			eng, err := a.newEngine(graph, store)
			if err != nil {
				return err
			}

			if len(prompts) == 1 {
				res, err := eng.Run(ctx, prompts[0])
				if err != nil {
					printRunFailed(opts.stderr, res, err)
					return err
				}
				return printRunComplete(opts.stdout, res)
			}
			return runMany(ctx, opts, eng, prompts, cfg.Workers.Count, cfg.Workers.QueueSize)
		},
	}

	cmd.Flags().StringArrayVarP(&prompts, "prompt", "p", nil, "initial prompt/input (repeatable)")
	cmd.Flags().Int("workers", 0, "concurrent runs when several prompts are given")
	return cmd
}

// runMany executes one run per prompt on a LocalRunner and reports them in
// prompt order. The first failure is returned after every run finished.
func runMany(ctx context.Context, opts *options, eng synapse.Engine, prompts []string, workers, queueSize int) error {
	if queueSize < len(prompts) {
		queueSize = len(prompts)
	}
	runner := synapse.NewLocalRunnerWithQueue(eng, synapse.NewInMemoryQueue(queueSize))
	if err := runner.StartWorkers(ctx, workers); err != nil {
		return err
	}
	defer runner.Stop()

	tickets := make([]<-chan synapse.RunOutcome, 0, len(prompts))
	for _, p := range prompts {
		ticket, err := runner.Submit(ctx, p)
		if err != nil {
			return err
		}
		tickets = append(tickets, ticket)
	}

	var firstErr error
	for i, ticket := range tickets {
		var out synapse.RunOutcome
		select {
		case out = <-ticket:
		case <-ctx.Done():
			return ctx.Err()
		}

		mutedStyle.Fprintf(opts.stdout, "[%d] prompt=%q\n", i+1, prompts[i])
		if out.Err != nil {
			printRunFailed(opts.stderr, out.Result, out.Err)
			if firstErr == nil {
				firstErr = out.Err
			}
			continue
		}
		if err := printRunComplete(opts.stdout, out.Result); err != nil {
			return err
		}
	}
	return firstErr
}
