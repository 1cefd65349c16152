package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dlaunch/dlaunch/internal/lifecycle"
)

var runFlags struct {
	masterAddr  string
	masterPort  int
	worldSize   int
	nodes       string
	sshKey      string
	sshPort     int
	sshUser     string
	concurrency int
	taskTimeout time.Duration
	copyScript  bool
	askPass     bool
	dryRun      bool
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	// Everything after the first positional arg belongs to the training
	// command, not to dlaunch.
	f.SetInterspersed(false)
	f.StringVar(&runFlags.masterAddr, "master-addr", "", "training master address (default: rank 0's hostname)")
	f.IntVar(&runFlags.masterPort, "master-port", 0, "training master port")
	f.IntVar(&runFlags.worldSize, "world-size", 0, "expected node count; a mismatched host list is fatal")
	f.StringVar(&runFlags.nodes, "nodes", "", "comma-separated host list, overriding the cluster info document")
	f.StringVar(&runFlags.sshKey, "ssh-key", "", "SSH private key path")
	f.IntVar(&runFlags.sshPort, "ssh-port", 0, "SSH port")
	f.StringVar(&runFlags.sshUser, "ssh-user", "", "SSH user")
	f.IntVar(&runFlags.concurrency, "concurrency", 0, "max concurrent hosts")
	f.DurationVar(&runFlags.taskTimeout, "task-timeout", 0, "per-host timeout (0 = unlimited)")
	f.BoolVar(&runFlags.copyScript, "copy-script", false, "push the command's script to every node before launching")
	f.BoolVar(&runFlags.askPass, "ask-pass", false, "prompt for an SSH password")
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "print per-host commands without executing")
}

var runCmd = &cobra.Command{
	Use:   "run <command> [args...]",
	Short: "run a command on every node with the distributed-training environment",
	Example: `  dlaunch run torchrun --nproc-per-node 8 train.py
  dlaunch run --copy-script ./train.sh --epochs 10
  dlaunch run --nodes node-a,node-b nvidia-smi`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applySSHFlags()

		opts := lifecycle.RunOptions{
			Nodes:       runFlags.nodes,
			MasterAddr:  runFlags.masterAddr,
			MasterPort:  runFlags.masterPort,
			WorldSize:   runFlags.worldSize,
			Concurrency: runFlags.concurrency,
			TaskTimeout: runFlags.taskTimeout,
			CopyScript:  runFlags.copyScript,
			DryRun:      runFlags.dryRun,
			Color:       stdoutIsTerminal(),
		}
		if runFlags.askPass {
			pw, err := promptPassword()
			if err != nil {
				return &exitError{code: exitPrecondition, err: err}
			}
			opts.AskPass = pw
		}

		c := newController()
		sum, err := c.Run(cmd.Context(), strings.Join(args, " "), opts)
		if err != nil {
			return err
		}
		if cmd.Context().Err() != nil {
			return &exitError{code: exitInterrupted}
		}
		if opts.DryRun {
			return nil
		}
		if !sum.AllSucceeded() {
			return &exitError{code: exitTaskFailure}
		}
		return nil
	},
}

// applySSHFlags overlays explicit SSH flags on the loaded settings; flags
// outrank both the environment and the defaults file.
func applySSHFlags() {
	if runFlags.sshKey != "" {
		settings.SSHKey = runFlags.sshKey
	}
	if runFlags.sshPort > 0 {
		settings.SSHPort = runFlags.sshPort
	}
	if runFlags.sshUser != "" {
		settings.SSHUser = runFlags.sshUser
	}
}
