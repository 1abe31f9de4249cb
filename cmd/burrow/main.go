package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagDebug bool
	flagHome  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - single-host work orchestrator",
	Long: `Burrow prepares isolated project workspaces through pluggable
providers, runs coding tasks inside them, and tracks everything in a
durable local store. Most commands talk to the background daemon over
its unix socket; start it with "burrow daemon start".`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Override the burrow home directory (BURROW_HOME)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(environmentCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(resetDatabaseCmd)
}

// setupLogging picks the level: --debug (or daemon.debug in config) wins,
// the daemon defaults to info, everything else stays quiet at warn.
func setupLogging(cmd *cobra.Command) {
	level := log.WarnLevel
	isDaemon := cmd.Name() == "start" && cmd.Parent() != nil && cmd.Parent().Name() == "daemon"
	if isDaemon {
		level = log.InfoLevel
	}
	if cfg, err := loadUserConfig(); err == nil && cfg.Daemon.Debug {
		level = log.DebugLevel
	}
	if flagDebug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, Output: os.Stderr})
}

func newResolver() *paths.Resolver {
	return paths.NewResolver(flagHome)
}

func newClient() (*client.Client, error) {
	return client.New(newResolver())
}

func loadUserConfig() (*config.Config, error) {
	path, err := newResolver().ConfigPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// resolveProject picks a project by name, or by matching the current
// directory against the registered project paths when no name is given.
func resolveProject(c *client.Client, name string) (*types.Project, error) {
	projects, err := c.ListProjects()
	if err != nil {
		return nil, err
	}

	if name != "" {
		for i := range projects {
			if projects[i].Name == name {
				return &projects[i], nil
			}
		}
		return nil, fmt.Errorf("project not found: %s", name)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = resolved
	}
	for i := range projects {
		rel, err := filepath.Rel(projects[i].Path, cwd)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return &projects[i], nil
		}
	}
	return nil, fmt.Errorf("could not determine project from current directory; specify a project name")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			return fmt.Errorf("$EDITOR is not set")
		}
		path, err := newResolver().ConfigPath()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		edit := exec.Command(editor, path)
		edit.Stdin = os.Stdin
		edit.Stdout = os.Stdout
		edit.Stderr = os.Stderr
		return edit.Run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("burrow %s\n", Version)
	},
}

var resetDatabaseCmd = &cobra.Command{
	Use:    "reset-database",
	Short:  "Wipe the daemon's database",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.ResetDatabase()
	},
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
