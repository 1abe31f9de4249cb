package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the daemon in the foreground. It serves the API on a unix
socket and runs the job processor until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return daemon.Run(newResolver(), daemon.Options{Force: force})
	},
}

func init() {
	daemonStartCmd.Flags().Bool("force", false, "Remove existing runtime files before starting")
	daemonCmd.AddCommand(daemonStartCmd)
}
