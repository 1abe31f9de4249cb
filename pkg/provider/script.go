package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/cuemby/burrow/pkg/types"
)

// metadataEnvVar carries the environment metadata to exec'd script
// provider processes.
const metadataEnvVar = "WORK_ENV_METADATA"

// Script shells out to a configured program. Each operation runs the
// program as `<program> <action>` with a JSON payload on stdin and parses
// JSON from its stdout; nonzero exit means failure. Stderr goes to the
// lifecycle log when one is provided.
type Script struct {
	Path string
}

func appendLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (p *Script) call(action string, input any, logPath string, quietStderr bool) ([]byte, error) {
	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s input: %w", action, err)
	}

	cmd := exec.Command(p.Path, action)

	switch {
	case logPath != "":
		logFile, err := appendLogFile(logPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open lifecycle log: %w", err)
		}
		defer logFile.Close()
		cmd.Stderr = logFile
	case quietStderr:
		cmd.Stderr = nil
	default:
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	go func() {
		stdin.Write(inputBytes)
		stdin.Close()
	}()

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", p.Path, action, err)
	}
	return out, nil
}

func (p *Script) callMetadata(action string, input any, logPath string) (types.Metadata, error) {
	out, err := p.call(action, input, logPath, false)
	if err != nil {
		return nil, err
	}
	var metadata types.Metadata
	if err := json.Unmarshal(out, &metadata); err != nil {
		return nil, fmt.Errorf("%s %s produced invalid output: %w", p.Path, action, err)
	}
	return metadata, nil
}

func (p *Script) Prepare(project *types.Project, envID, logPath string) (types.Metadata, error) {
	return p.callMetadata("prepare", map[string]any{
		"project_name": project.Name,
		"project_path": project.Path,
		"env_id":       envID,
	}, logPath)
}

func (p *Script) Update(metadata types.Metadata, logPath string) (types.Metadata, error) {
	return p.callMetadata("update", metadata, logPath)
}

func (p *Script) Claim(metadata types.Metadata, logPath string) (types.Metadata, error) {
	return p.callMetadata("claim", metadata, logPath)
}

// Remove produces no output; both stdout and stderr go to the lifecycle
// log when one is provided.
func (p *Script) Remove(metadata types.Metadata, logPath string) error {
	inputBytes, err := json.Marshal(map[string]any{"metadata": metadata})
	if err != nil {
		return fmt.Errorf("failed to encode remove input: %w", err)
	}

	cmd := exec.Command(p.Path, "remove")
	if logPath != "" {
		logFile, err := appendLogFile(logPath)
		if err != nil {
			return fmt.Errorf("failed to open lifecycle log: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	go func() {
		stdin.Write(inputBytes)
		stdin.Close()
	}()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s remove failed: %w", p.Path, err)
	}
	return nil
}

// Run re-invokes the program with the run payload on stdin; the spawned
// process is the task command.
func (p *Script) Run(metadata types.Metadata, command string, args []string) (*RunSpec, error) {
	input, err := json.Marshal(map[string]any{
		"metadata": metadata,
		"command":  command,
		"args":     args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run input: %w", err)
	}

	return &RunSpec{
		Program:   p.Path,
		Args:      []string{"run"},
		StdinData: input,
	}, nil
}

func (p *Script) Exec(metadata types.Metadata, command string, args []string) (*RunSpec, error) {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	execArgs := append([]string{"exec", command}, args...)
	return &RunSpec{
		Program: p.Path,
		Args:    execArgs,
		Env:     []string{metadataEnvVar + "=" + string(metadataJSON)},
	}, nil
}

func (p *Script) ExecCommands(metadata types.Metadata) ([]ExecCommand, error) {
	out, err := p.call("commands", map[string]any{"metadata": metadata}, "", true)
	if err != nil {
		return nil, err
	}
	return parseExecCommands(out)
}

// parseExecCommands accepts the two output shapes the commands action may
// produce: an array of names or {name, help} objects, or an object mapping
// names to help strings.
func parseExecCommands(data []byte) ([]ExecCommand, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("commands output is not valid JSON: %w", err)
	}

	switch v := value.(type) {
	case []any:
		commands := make([]ExecCommand, 0, len(v))
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				commands = append(commands, ExecCommand{Name: entry})
			case map[string]any:
				name, ok := entry["name"].(string)
				if !ok {
					return nil, fmt.Errorf("commands object entries must include name")
				}
				help, _ := entry["help"].(string)
				if help == "" {
					help, _ = entry["description"].(string)
				}
				commands = append(commands, ExecCommand{Name: name, Help: help})
			default:
				return nil, fmt.Errorf("commands entries must be strings or objects")
			}
		}
		return commands, nil
	case map[string]any:
		commands := make([]ExecCommand, 0, len(v))
		for name, help := range v {
			helpStr, _ := help.(string)
			commands = append(commands, ExecCommand{Name: name, Help: helpStr})
		}
		sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })
		return commands, nil
	}

	return nil, fmt.Errorf("commands output must be an array or object")
}
