package main

import (
	"github.com/spf13/cobra"

	"github.com/dlaunch/dlaunch/internal/lifecycle"
)

var killFlags struct {
	force   bool
	nodes   string
	askPass bool
}

func init() {
	rootCmd.AddCommand(killCmd)
	f := killCmd.Flags()
	f.BoolVar(&killFlags.force, "force", false, "send SIGKILL instead of SIGTERM")
	f.StringVar(&killFlags.nodes, "nodes", "", "comma-separated host list, overriding the cluster info document")
	f.BoolVar(&killFlags.askPass, "ask-pass", false, "prompt for an SSH password")
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "stop the running job on every node",
	Long: `Signals every process launched by "dlaunch run" cluster-wide, matching
them by job signature. The parked waiter is never touched. Exits 0 when the
attempt reached all hosts, including when nothing was running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := lifecycle.KillOptions{
			Nodes: killFlags.nodes,
			Force: killFlags.force,
			Color: stdoutIsTerminal(),
		}
		if killFlags.askPass {
			pw, err := promptPassword()
			if err != nil {
				return &exitError{code: exitPrecondition, err: err}
			}
			opts.AskPass = pw
		}

		c := newController()
		sum, err := c.Kill(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if cmd.Context().Err() != nil {
			return &exitError{code: exitInterrupted}
		}
		if !sum.AllSucceeded() {
			return &exitError{code: exitTaskFailure}
		}
		return nil
	},
}
