package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/petrijr/synapse/pkg/api"
)

var (
	successStyle = color.New(color.FgGreen, color.Bold)
	errorStyle   = color.New(color.FgRed, color.Bold)
	headerStyle  = color.New(color.FgCyan, color.Bold)
	mutedStyle   = color.New(color.FgHiBlack)
)

func printRunComplete(w io.Writer, res *api.RunResult) error {
	successStyle.Fprintf(w, "Run complete. run_id=%s\n", res.RunID)
	return printContext(w, res.FinalContext)
}

// printRunFailed reports a run that stopped early. res may be nil when the
// run could not be started.
func printRunFailed(w io.Writer, res *api.RunResult, err error) {
	if res != nil {
		errorStyle.Fprintf(w, "Run failed. run_id=%s\n", res.RunID)
	} else {
		errorStyle.Fprintln(w, "Run failed.")
	}
	var stepErr *api.StepExecutionError
	if errors.As(err, &stepErr) {
		fmt.Fprintf(w, "  step:     %s\n", stepErr.Step)
		fmt.Fprintf(w, "  attempts: %d\n", stepErr.Attempts)
		fmt.Fprintf(w, "  error:    %v\n", unwrapAttempt(stepErr.Err))
	}
}

func unwrapAttempt(err error) error {
	var ae *api.StepAttemptError
	if errors.As(err, &ae) {
		return ae.Err
	}
	return err
}

func printContext(w io.Writer, c api.Context) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	headerStyle.Fprintln(w, "Final context:")
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
