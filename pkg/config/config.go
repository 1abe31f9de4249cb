package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the user configuration loaded from config.yaml
type Config struct {
	Daemon DaemonConfig `yaml:"daemon"`

	// Global defaults, overridable per project.
	EnvironmentProvider string `yaml:"environment-provider"`
	TaskProvider        string `yaml:"task-provider"`

	// Older configs used default-* keys; kept as read-only aliases.
	LegacyEnvironmentProvider string `yaml:"default-environment-provider"`
	LegacyTaskProvider        string `yaml:"default-task-provider"`

	Projects     map[string]ProjectConfig `yaml:"projects"`
	Tasks        TasksConfig              `yaml:"tasks"`
	Environments EnvironmentsConfig       `yaml:"environments"`
}

func (c *Config) normalize() {
	if c.EnvironmentProvider == "" {
		c.EnvironmentProvider = c.LegacyEnvironmentProvider
	}
	if c.TaskProvider == "" {
		c.TaskProvider = c.LegacyTaskProvider
	}
	for name, p := range c.Projects {
		if p.EnvironmentProvider == "" {
			p.EnvironmentProvider = p.LegacyEnvironmentProvider
		}
		if p.TaskProvider == "" {
			p.TaskProvider = p.LegacyTaskProvider
		}
		c.Projects[name] = p
	}
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	Debug bool `yaml:"debug"`
}

// ProjectConfig overrides provider defaults for one project
type ProjectConfig struct {
	EnvironmentProvider string `yaml:"environment-provider"`
	TaskProvider        string `yaml:"task-provider"`

	LegacyEnvironmentProvider string `yaml:"default-environment-provider"`
	LegacyTaskProvider        string `yaml:"default-task-provider"`
}

// TasksConfig holds named task provider entries
type TasksConfig struct {
	Providers map[string]TaskProviderConfig `yaml:"providers"`
}

// TaskProviderConfig describes how to launch a task command. Args may
// contain the literal {task_description} placeholder, substituted at run
// time.
type TaskProviderConfig struct {
	Type    string   `yaml:"type"` // "command"
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ResolveArgs substitutes the task description placeholder into the
// configured argument list.
func (c TaskProviderConfig) ResolveArgs(description string) []string {
	resolved := make([]string, len(c.Args))
	for i, a := range c.Args {
		resolved[i] = strings.ReplaceAll(a, "{task_description}", description)
	}
	return resolved
}

// EnvironmentsConfig holds named environment provider entries
type EnvironmentsConfig struct {
	Providers map[string]EnvironmentProviderConfig `yaml:"providers"`
}

// EnvironmentProviderConfig describes a script environment provider
type EnvironmentProviderConfig struct {
	Type string `yaml:"type"` // "script"
	Path string `yaml:"path"`
}

// DefaultTaskProviderForProject returns the task provider default for a
// project, falling back to the global default. Empty if neither is set.
func (c *Config) DefaultTaskProviderForProject(projectName string) string {
	if p, ok := c.Projects[projectName]; ok && p.TaskProvider != "" {
		return p.TaskProvider
	}
	return c.TaskProvider
}

// DefaultEnvironmentProviderForProject returns the environment provider
// default for a project, falling back to the global default.
func (c *Config) DefaultEnvironmentProviderForProject(projectName string) string {
	if p, ok := c.Projects[projectName]; ok && p.EnvironmentProvider != "" {
		return p.EnvironmentProvider
	}
	return c.EnvironmentProvider
}

// GetTaskProvider looks up a named task provider entry
func (c *Config) GetTaskProvider(name string) (TaskProviderConfig, error) {
	p, ok := c.Tasks.Providers[name]
	if !ok {
		return TaskProviderConfig{}, fmt.Errorf("task provider not found: %s", name)
	}
	return p, nil
}

// GetEnvironmentProvider looks up a named environment provider entry
func (c *Config) GetEnvironmentProvider(name string) (EnvironmentProviderConfig, error) {
	p, ok := c.Environments.Providers[name]
	if !ok {
		return EnvironmentProviderConfig{}, fmt.Errorf("environment provider not found in config: %s", name)
	}
	return p, nil
}

// Load reads the config file at path. A missing file yields an empty config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}
