package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/petrijr/synapse/internal/config"
	"github.com/petrijr/synapse/pkg/api"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitInvalid     = 2 // bad flags, config or workflow document
	exitStepFailed  = 3
	exitPersistence = 4
)

// options are shared by every subcommand.
type options struct {
	configPath string
	v          *viper.Viper
	stdout     io.Writer
	stderr     io.Writer
}

// usageError marks errors caused by bad input rather than a failed run.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	errorStyle.Fprintf(stderr, "Error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var (
		usage    *usageError
		invalid  *api.InvalidWorkflowError
		stepErr  *api.StepExecutionError
		storeErr *api.PersistenceError
	)
	switch {
	case errors.As(err, &usage), errors.As(err, &invalid):
		return exitInvalid
	case errors.As(err, &stepErr):
		return exitStepFailed
	case errors.As(err, &storeErr):
		return exitPersistence
	default:
		return exitError
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{
		v:      config.New(),
		stdout: stdout,
		stderr: stderr,
	}

	root := &cobra.Command{
		Use:           "synapse",
		Short:         "Run traced agent workflows",
		Long:          "synapse executes YAML workflows step by step and records every attempt and context version in a trace store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")
	pf.String("store", "", "trace store backend (memory, sqlite, postgres, redis, mongo)")
	pf.String("db", "", "SQLite trace database path")
	pf.String("dsn", "", "PostgreSQL connection string")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newInitCmd(opts),
	)
	return root
}

// persistentKeys maps root flags to config keys.
var persistentKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"store":      "store.backend",
	"db":         "store.path",
	"dsn":        "store.dsn",
}

// bindChanged copies explicitly set flags into v so that they take
// precedence over the environment and the config file.
func bindChanged(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
}

// loadConfig resolves the configuration for cmd, honouring its flags.
func (o *options) loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
	bindChanged(o.v, cmd.Flags(), persistentKeys)
	bindChanged(o.v, cmd.Flags(), keys)

	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, &usageError{err: fmt.Errorf("config: %w", err)}
	}
	return cfg, nil
}
