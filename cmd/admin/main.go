package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	exitFailure      = 1
	exitCommandError = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: exitCommandError, err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

type rootOptions struct {
	DataDir string
	Format  string
}

func (o *rootOptions) indexPath() string {
	return filepath.Join(o.DataDir, "index", "controller.sqlite")
}

func (o *rootOptions) saveDir() string {
	return filepath.Join(o.DataDir, "saves")
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Operator tooling for the transfer controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return usageError("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data", "./data", "runtime data directory")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newSaveCommand(opts))
	cmd.AddCommand(newOutcomesCommand(opts))
	cmd.AddCommand(newFailuresCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newRemoteCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
