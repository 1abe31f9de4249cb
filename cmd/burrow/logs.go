package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "View task logs",
	Long: `Print a task's captured output. With --follow the logs stream from
the daemon until the task finishes; otherwise the log file is read as it
currently stands.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		id := args[0]

		if follow {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.TailTaskLogs(context.Background(), id, os.Stdout)
		}

		logPath, err := newResolver().TaskLogPath(id)
		if err != nil {
			return err
		}
		contents, err := os.ReadFile(logPath)
		if os.IsNotExist(err) {
			return fmt.Errorf("no logs found for task %s", id)
		}
		if err != nil {
			return err
		}
		os.Stdout.Write(contents)
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output in realtime")
}
