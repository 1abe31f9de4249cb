package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/provider"
	"github.com/cuemby/burrow/pkg/types"
)

var environmentCmd = &cobra.Command{
	Use:     "environment",
	Aliases: []string{"env"},
	Short:   "Manage environments",
}

// defaultEnvProvider falls back from the flag to the config defaults.
func defaultEnvProvider(projectName, flagProvider string) (string, error) {
	if flagProvider != "" {
		return flagProvider, nil
	}
	cfg, err := loadUserConfig()
	if err != nil {
		return "", err
	}
	if p := cfg.DefaultEnvironmentProviderForProject(projectName); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("--provider is required (or set environment-provider in config)")
}

var environmentCreateCmd = &cobra.Command{
	Use:   "create [project]",
	Short: "Prepare and claim a new environment",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		flagProvider, _ := cmd.Flags().GetString("provider")

		c, err := newClient()
		if err != nil {
			return err
		}
		projectName := ""
		if len(args) > 0 {
			projectName = args[0]
		}
		project, err := resolveProject(c, projectName)
		if err != nil {
			return err
		}
		providerName, err := defaultEnvProvider(project.Name, flagProvider)
		if err != nil {
			return err
		}

		env, err := c.PrepareEnvironment(project.ID, providerName, true)
		if err != nil {
			return err
		}
		return printEnvironment(env, format)
	},
}

var environmentPrepareCmd = &cobra.Command{
	Use:   "prepare [project]",
	Short: "Prepare a new environment and add it to the pool",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		flagProvider, _ := cmd.Flags().GetString("provider")

		c, err := newClient()
		if err != nil {
			return err
		}
		projectName := ""
		if len(args) > 0 {
			projectName = args[0]
		}
		project, err := resolveProject(c, projectName)
		if err != nil {
			return err
		}
		providerName, err := defaultEnvProvider(project.Name, flagProvider)
		if err != nil {
			return err
		}

		env, err := c.PrepareEnvironment(project.ID, providerName, false)
		if err != nil {
			return err
		}
		return printEnvironment(env, format)
	},
}

var environmentUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a pooled environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		job, err := c.UpdateEnvironment(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("update queued for environment %s (job %s)\n", args[0], job.ID)
		return nil
	},
}

var environmentClaimCmd = &cobra.Command{
	Use:   "claim [id]",
	Short: "Claim an environment from the pool",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		flagProvider, _ := cmd.Flags().GetString("provider")
		projectName, _ := cmd.Flags().GetString("project")

		c, err := newClient()
		if err != nil {
			return err
		}

		var env *types.Environment
		if len(args) > 0 {
			env, err = c.ClaimEnvironment(args[0])
		} else {
			if projectName == "" {
				return fmt.Errorf("--project is required when no id is given")
			}
			var project *types.Project
			project, err = resolveProject(c, projectName)
			if err != nil {
				return err
			}
			var providerName string
			providerName, err = defaultEnvProvider(project.Name, flagProvider)
			if err != nil {
				return err
			}
			env, err = c.ClaimNextEnvironment(providerName, project.ID)
		}
		if err != nil {
			return err
		}
		return printEnvironment(env, format)
	},
}

var environmentRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an environment",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		skipProvider, _ := cmd.Flags().GetBool("skip-provider")
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.RemoveEnvironment(args[0], skipProvider)
	},
}

var environmentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List environments",
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
		envs, err := c.ListEnvironments()
		if err != nil {
			return err
		}
		return printEnvironmentList(envs, format)
	},
}

var environmentLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Follow an environment's lifecycle log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.TailEnvironmentLogs(context.Background(), args[0], os.Stdout)
	},
}

// environmentExecCmd resolves the provider locally and replaces the CLI's
// behavior with the provider's RunSpec, wired to the terminal.
var environmentExecCmd = &cobra.Command{
	Use:   "exec <id> [command] [args...]",
	Short: "Run a provider command inside an environment",
	Long: `Run one of the provider's interactive commands inside an
environment ("cd" opens a shell in the workspace). With no command the
available commands are listed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		envs, err := c.ListEnvironments()
		if err != nil {
			return err
		}
		var env *types.Environment
		for i := range envs {
			if envs[i].ID == args[0] {
				env = &envs[i]
				break
			}
		}
		if env == nil {
			return fmt.Errorf("environment not found: %s", args[0])
		}

		cfg, err := loadUserConfig()
		if err != nil {
			return err
		}
		worktreesDir, err := newResolver().WorktreesDir()
		if err != nil {
			return err
		}
		handler, err := provider.NewRegistry(cfg, worktreesDir).Resolve(env.Provider)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			commands, err := handler.ExecCommands(env.Metadata)
			if err != nil {
				return err
			}
			for _, command := range commands {
				if command.Help != "" {
					fmt.Printf("%s\t%s\n", command.Name, command.Help)
				} else {
					fmt.Println(command.Name)
				}
			}
			return nil
		}

		spec, err := handler.Exec(env.Metadata, args[1], args[2:])
		if err != nil {
			return err
		}

		run := exec.Command(spec.Program, spec.Args...)
		run.Dir = spec.Dir
		run.Stdin = os.Stdin
		run.Stdout = os.Stdout
		run.Stderr = os.Stderr
		if len(spec.Env) > 0 {
			run.Env = append(os.Environ(), spec.Env...)
		}
		if spec.StdinData != nil {
			run.Stdin = bytes.NewReader(spec.StdinData)
		}
		if err := run.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				os.Exit(exitErr.ExitCode())
			}
			return err
		}
		return nil
	},
}

var environmentProviderCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage environment providers",
}

var environmentProviderListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List available providers",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := provider.BuiltinNames()
		if cfg, err := loadUserConfig(); err == nil {
			for name := range cfg.Environments.Providers {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{environmentCreateCmd, environmentPrepareCmd, environmentClaimCmd, environmentListCmd} {
		c.Flags().String("format", formatHuman, "Output format (human, plain, json)")
	}
	environmentCreateCmd.Flags().String("provider", "", "Provider (uses config default if not specified)")
	environmentPrepareCmd.Flags().String("provider", "", "Provider (uses config default if not specified)")
	environmentClaimCmd.Flags().String("provider", "", "Claim next available for this provider (required if no id)")
	environmentClaimCmd.Flags().String("project", "", "Project name (required if no id)")
	environmentRemoveCmd.Flags().Bool("skip-provider", false, "Delete the row without running provider cleanup")

	environmentProviderCmd.AddCommand(environmentProviderListCmd)

	environmentCmd.AddCommand(environmentCreateCmd)
	environmentCmd.AddCommand(environmentPrepareCmd)
	environmentCmd.AddCommand(environmentUpdateCmd)
	environmentCmd.AddCommand(environmentClaimCmd)
	environmentCmd.AddCommand(environmentRemoveCmd)
	environmentCmd.AddCommand(environmentListCmd)
	environmentCmd.AddCommand(environmentLogsCmd)
	environmentCmd.AddCommand(environmentExecCmd)
	environmentCmd.AddCommand(environmentProviderCmd)
}
