package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/synapse/internal/scaffold"
)

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a starter workflow and README",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			created, err := scaffold.Init(dir)
			if err != nil {
				return &usageError{err: err}
			}
			for _, path := range created {
				successStyle.Fprint(opts.stdout, "created ")
				fmt.Fprintln(opts.stdout, path)
			}
			return nil
		},
	}
}
