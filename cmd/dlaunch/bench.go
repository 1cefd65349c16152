package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/dlaunch/dlaunch/internal/lifecycle"
)

var benchScript string

func init() {
	rootCmd.AddCommand(benchCmd)
	f := benchCmd.Flags()
	f.SetInterspersed(false)
	f.StringVar(&benchScript, "script", "all_reduce_perf",
		"bandwidth benchmark binary to launch on every node")
}

var benchCmd = &cobra.Command{
	Use:   "bench [benchmark args...]",
	Short: "run the interconnect bandwidth benchmark cluster-wide",
	Long: `Launches the external bandwidth micro-benchmark on every node through
the same environment and fan-out as "run", capturing its output per host.
The benchmark binary itself must already be installed on the nodes.`,
	Example: `  dlaunch bench
  dlaunch bench -b 8 -e 1G -f 2 -g 8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		command := benchScript
		if len(args) > 0 {
			command += " " + strings.Join(args, " ")
		}

		c := newController()
		sum, err := c.Run(cmd.Context(), command, lifecycle.RunOptions{
			Color: stdoutIsTerminal(),
		})
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
