package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/types"
)

const (
	formatHuman = "human"
	formatPlain = "plain"
	formatJSON  = "json"
)

func validateFormat(format string) error {
	switch format {
	case formatHuman, formatPlain, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format: %s (expected human, plain, or json)", format)
	}
}

func printJSON(v any) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}

func metadataString(metadata types.Metadata, key string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return "-"
}

func printEnvironment(env *types.Environment, format string) error {
	switch format {
	case formatPlain:
		fmt.Printf("%s\t%s\t%s\t%s\n", env.ID, env.Provider, env.Status, metadataString(env.Metadata, "worktree_path"))
	case formatJSON:
		return printJSON(env)
	default:
		fmt.Printf("%s (id: %s)\n", env.Status, env.ID)
		fmt.Printf("  provider:  %s\n", env.Provider)
		fmt.Printf("  project:   %s\n", env.ProjectID)
		fmt.Printf("  branch:    %s\n", metadataString(env.Metadata, "branch"))
		fmt.Printf("  path:      %s\n", metadataString(env.Metadata, "worktree_path"))
	}
	return nil
}

func printEnvironmentList(envs []types.Environment, format string) error {
	switch format {
	case formatPlain:
		for _, e := range envs {
			fmt.Printf("%s\t%s\t%s\t%s\n", e.ID, e.Provider, e.Status, e.ProjectID)
		}
	case formatJSON:
		return printJSON(envs)
	default:
		if len(envs) == 0 {
			return nil
		}
		fmt.Printf("%-22s  %-12s  %-14s  %-22s  PATH\n", "ID", "PROVIDER", "STATUS", "PROJ")
		for _, e := range envs {
			fmt.Printf("%-22s  %-12s  %-14s  %-22s  %s\n",
				e.ID, e.Provider, e.Status, e.ProjectID, metadataString(e.Metadata, "worktree_path"))
		}
	}
	return nil
}

func printTask(task *types.Task, format string) error {
	switch format {
	case formatPlain:
		fmt.Printf("%s\t%s\t%s\t%s\n", task.ID, task.Provider, task.Status, task.Description)
	case formatJSON:
		return printJSON(task)
	default:
		fmt.Printf("%s (id: %s)\n", task.Status, task.ID)
		fmt.Printf("  provider:      %s\n", task.Provider)
		fmt.Printf("  project:       %s\n", task.ProjectID)
		fmt.Printf("  environment:   %s\n", task.EnvironmentID)
		fmt.Printf("  description:   %s\n", task.Description)
	}
	return nil
}

func printTaskList(tasks []types.Task, format string) error {
	switch format {
	case formatPlain:
		for _, t := range tasks {
			fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.Provider, t.Status, t.Description)
		}
	case formatJSON:
		return printJSON(tasks)
	default:
		if len(tasks) == 0 {
			return nil
		}
		fmt.Printf("%-22s  %-12s  %-10s  DESCRIPTION\n", "ID", "PROVIDER", "STATUS")
		for _, t := range tasks {
			fmt.Printf("%-22s  %-12s  %-10s  %s\n", t.ID, t.Provider, t.Status, t.Description)
		}
	}
	return nil
}

func printProjectList(projects []types.Project, format string) error {
	switch format {
	case formatPlain:
		for _, p := range projects {
			fmt.Printf("%s\t%s\n", p.Name, p.Path)
		}
	case formatJSON:
		return printJSON(projects)
	default:
		if len(projects) == 0 {
			return nil
		}
		nameWidth := 4
		for _, p := range projects {
			if len(p.Name) > nameWidth {
				nameWidth = len(p.Name)
			}
		}
		fmt.Printf("%-*s  PATH\n", nameWidth, "NAME")
		for _, p := range projects {
			fmt.Printf("%-*s  %s\n", nameWidth, p.Name, p.Path)
		}
	}
	return nil
}
