package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dlaunch/dlaunch/internal/lifecycle"
)

var pushFlags struct {
	nodes   string
	askPass bool
}

func init() {
	rootCmd.AddCommand(pushCmd)
	f := pushCmd.Flags()
	f.StringVar(&pushFlags.nodes, "nodes", "", "comma-separated host list, overriding the cluster info document")
	f.BoolVar(&pushFlags.askPass, "ask-pass", false, "prompt for an SSH password")
}

var pushCmd = &cobra.Command{
	Use:   "push <file> [remote-path]",
	Short: "upload a file to every node",
	Long: `Uploads a file to the same path on every node over SFTP, verifying each
copy by checksum. With no remote path, the file lands at its local absolute
path, so a subsequent "run" finds it everywhere.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		local := args[0]
		remote := ""
		if len(args) == 2 {
			remote = args[1]
		} else {
			abs, err := filepath.Abs(local)
			if err != nil {
				return &exitError{code: exitPrecondition, err: err}
			}
			remote = abs
		}

		opts := lifecycle.PushOptions{Nodes: pushFlags.nodes}
		if pushFlags.askPass {
			pw, err := promptPassword()
			if err != nil {
				return &exitError{code: exitPrecondition, err: err}
			}
			opts.AskPass = pw
		}

		c := newController()
		if err := c.Push(cmd.Context(), local, remote, opts); err != nil {
			return err
		}
		return nil
	},
}
