package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectNewCmd = &cobra.Command{
	Use:   "new [name] [path]",
	Short: "Register a project directory",
	Long: `Register a project. With no arguments the current directory is
registered under its own name.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		if path == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			path = cwd
		}
		path, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}

		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		if name == "" {
			name = filepath.Base(path)
			if name == "." || name == string(filepath.Separator) {
				return fmt.Errorf("could not determine directory name")
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		project, err := c.CreateProject(name, path)
		if err != nil {
			return err
		}
		fmt.Printf("registered project %s at %s\n", project.Name, project.Path)
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a project",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.DeleteProject(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
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
		projects, err := c.ListProjects()
		if err != nil {
			return err
		}
		return printProjectList(projects, format)
	},
}

func init() {
	projectListCmd.Flags().String("format", formatHuman, "Output format (human, plain, json)")
	projectCmd.AddCommand(projectNewCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
}
