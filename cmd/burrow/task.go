package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskNewCmd = &cobra.Command{
	Use:   "new <description>",
	Short: "Create a new task",
	Long: `Create a task. The daemon pairs it with an environment (reusing a
pooled one when available), prepares the workspace, and runs the task
provider's command inside it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		projectName, _ := cmd.Flags().GetString("project")
		flagProvider, _ := cmd.Flags().GetString("provider")
		flagEnvProvider, _ := cmd.Flags().GetString("env-provider")
		attach, _ := cmd.Flags().GetBool("attach")

		c, err := newClient()
		if err != nil {
			return err
		}
		project, err := resolveProject(c, projectName)
		if err != nil {
			return err
		}

		cfg, err := loadUserConfig()
		if err != nil {
			return err
		}
		taskProvider := flagProvider
		if taskProvider == "" {
			taskProvider = cfg.DefaultTaskProviderForProject(project.Name)
		}
		if taskProvider == "" {
			return fmt.Errorf("--provider is required (or set task-provider in config)")
		}
		envProvider := flagEnvProvider
		if envProvider == "" {
			envProvider = cfg.DefaultEnvironmentProviderForProject(project.Name)
		}
		if envProvider == "" {
			return fmt.Errorf("--env-provider is required (or set environment-provider in config)")
		}

		// Catch a missing task provider entry before staging anything.
		if _, err := cfg.GetTaskProvider(taskProvider); err != nil {
			return err
		}

		task, err := c.CreateTask(project.ID, taskProvider, envProvider, args[0])
		if err != nil {
			return err
		}
		if err := printTask(task, format); err != nil {
			return err
		}

		if attach {
			return c.TailTaskLogs(context.Background(), task.ID, os.Stdout)
		}
		return nil
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a task and its environment",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		skipProvider, _ := cmd.Flags().GetBool("skip-provider")
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.RemoveTask(args[0], skipProvider)
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		tasks, err := c.ListTasks()
		if err != nil {
			return err
		}
		return printTaskList(tasks, format)
	},
}

func init() {
	taskNewCmd.Flags().String("format", formatHuman, "Output format (human, plain, json)")
	taskNewCmd.Flags().String("project", "", "Project name (defaults to project matching current directory)")
	taskNewCmd.Flags().String("provider", "", "Task provider (uses config default if not specified)")
	taskNewCmd.Flags().String("env-provider", "", "Environment provider (uses config default if not specified)")
	taskNewCmd.Flags().BoolP("attach", "a", false, "Follow task logs after creation")
	taskRemoveCmd.Flags().Bool("skip-provider", false, "Delete the rows without running provider cleanup")
	taskListCmd.Flags().String("format", formatHuman, "Output format (human, plain, json)")

	taskCmd.AddCommand(taskNewCmd)
	taskCmd.AddCommand(taskRemoveCmd)
	taskCmd.AddCommand(taskListCmd)
}
