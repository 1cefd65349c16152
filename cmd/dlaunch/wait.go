package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var waitForceDiscovery bool

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().BoolVar(&waitForceDiscovery, "force-discovery", false,
		"re-run discovery even if cluster info already exists")
}

var waitCmd = &cobra.Command{
	Use:   "wait [timeout_seconds]",
	Short: "assemble the cluster and park until signalled",
	Long: `Run on every node at job start. The nodes exchange hostnames, rank 0
persists the cluster info document, and then every node parks until it is
signalled (or the optional timeout elapses). Exits 0 on a clean shutdown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var timeout time.Duration
		if len(args) == 1 {
			secs, err := strconv.Atoi(args[0])
			if err != nil || secs < 0 {
				return &exitError{code: exitPrecondition,
					err: fmt.Errorf("invalid timeout %q: want non-negative seconds", args[0])}
			}
			timeout = time.Duration(secs) * time.Second
		}

		c := newController()
		if err := c.Wait(cmd.Context(), timeout, waitForceDiscovery); err != nil {
			return err
		}
		return nil
	},
}
