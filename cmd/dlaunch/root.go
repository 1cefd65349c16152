package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dlaunch/dlaunch/internal/cluster"
	"github.com/dlaunch/dlaunch/internal/config"
	"github.com/dlaunch/dlaunch/internal/lifecycle"
)

// Process exit codes.
const (
	exitOK           = 0
	exitTaskFailure  = 1
	exitPrecondition = 2
	exitInterrupted  = 130
)

var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:   "dlaunch",
	Short: "drive distributed-training commands across a pre-provisioned cluster",
	Long: `dlaunch coordinates a cluster of training nodes from one of them:
every node runs "dlaunch wait" to assemble the cluster, then the
orchestrating node runs, kills, and benchmarks jobs across all of it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.LoadDefault()
		return err
	},
}

// exitError carries an explicit process exit code out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the CLI and returns the process exit code. Interrupts cancel
// the command context; in-flight work tears down before the process exits.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintf(os.Stderr, "dlaunch: %v\n", exit.err)
		}
		return exit.code
	}

	fmt.Fprintf(os.Stderr, "dlaunch: %v\n", err)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitInterrupted
	case errors.Is(err, cluster.ErrMissing):
		return exitPrecondition
	}

	var corrupt *cluster.CorruptError
	var stale *cluster.StaleError
	if errors.As(err, &corrupt) || errors.As(err, &stale) {
		return exitPrecondition
	}

	return exitTaskFailure
}

func newController() *lifecycle.Controller {
	return lifecycle.New(settings)
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// promptPassword reads an SSH password once, up front, so a 100-host fan-out
// asks exactly one question.
func promptPassword() (func() (string, error), error) {
	fmt.Fprint(os.Stderr, "SSH password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	secret := string(pw)
	return func() (string, error) { return secret, nil }, nil
}
