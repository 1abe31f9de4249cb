package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/types"
)

// baseURL is a placeholder; the transport dials the unix socket and
// ignores the host.
const baseURL = "http://burrow"

// Client talks to the daemon over its unix socket
type Client struct {
	socketPath string
	http       *http.Client
}

// New creates a client for the daemon owned by the given path resolver
func New(resolver *paths.Resolver) (*Client, error) {
	socketPath, err := resolver.SocketPath()
	if err != nil {
		return nil, err
	}

	c := &Client{socketPath: socketPath}
	c.http = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				conn, err := d.DialContext(ctx, "unix", socketPath)
				if err != nil {
					return nil, fmt.Errorf(
						"could not connect to daemon at %s: %w\nIs the daemon running? Start it with: burrow daemon start",
						socketPath, err,
					)
				}
				return conn, nil
			},
		},
	}
	return c, nil
}

// do sends one request and decodes a JSON response into out when given.
func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return unwrapURLError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.New(extractError(data, resp.StatusCode))
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

// unwrapURLError strips the *url.Error envelope so the dial hint reads
// cleanly.
func unwrapURLError(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

// extractError pulls the message out of an {"error": "..."} body, falling
// back to the raw body or the status code.
func extractError(body []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return fmt.Sprintf("request failed with status %d", status)
}

// Health checks that the daemon answers on its socket
func (c *Client) Health() error {
	return c.do(http.MethodGet, "/health", nil, nil)
}

// ListProjects returns all registered projects
func (c *Client) ListProjects() ([]types.Project, error) {
	var projects []types.Project
	if err := c.do(http.MethodGet, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject registers a project directory under a unique name
func (c *Client) CreateProject(name, path string) (*types.Project, error) {
	body := map[string]string{"name": name, "path": path}
	var project types.Project
	if err := c.do(http.MethodPost, "/projects", body, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject removes a project by name
func (c *Client) DeleteProject(name string) error {
	return c.do(http.MethodDelete, "/projects/"+name, nil, nil)
}

// ResetDatabase wipes the daemon's store
func (c *Client) ResetDatabase() error {
	return c.do(http.MethodPost, "/reset-database", nil, nil)
}

// ListEnvironments returns all environments
func (c *Client) ListEnvironments() ([]types.Environment, error) {
	var envs []types.Environment
	if err := c.do(http.MethodGet, "/environments", nil, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// PrepareEnvironment stages a new environment. With claimAfterPrepare the
// environment goes straight to in_use once ready instead of the pool.
func (c *Client) PrepareEnvironment(projectID, provider string, claimAfterPrepare bool) (*types.Environment, error) {
	body := map[string]any{
		"project_id":          projectID,
		"provider":            provider,
		"claim_after_prepare": claimAfterPrepare,
	}
	var env types.Environment
	if err := c.do(http.MethodPost, "/environments", body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// UpdateEnvironment stages a refresh of a pooled environment
func (c *Client) UpdateEnvironment(id string) (*types.Job, error) {
	var job types.Job
	if err := c.do(http.MethodPost, "/environments/"+id+"/update", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimEnvironment stages a claim of a specific pooled environment
func (c *Client) ClaimEnvironment(id string) (*types.Environment, error) {
	var env types.Environment
	if err := c.do(http.MethodPost, "/environments/"+id+"/claim", nil, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ClaimNextEnvironment stages a claim of the oldest pooled environment
// matching the provider and project
func (c *Client) ClaimNextEnvironment(provider, projectID string) (*types.Environment, error) {
	body := map[string]string{"provider": provider, "project_id": projectID}
	var env types.Environment
	if err := c.do(http.MethodPost, "/environments/claim", body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// RemoveEnvironment stages environment removal. With skipProvider the row
// is deleted directly without running provider cleanup.
func (c *Client) RemoveEnvironment(id string, skipProvider bool) error {
	path := "/environments/" + id
	if skipProvider {
		path += "?skip_provider=true"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// ListTasks returns all tasks, newest first
func (c *Client) ListTasks() ([]types.Task, error) {
	var tasks []types.Task
	if err := c.do(http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask returns one task by ID
func (c *Client) GetTask(id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(http.MethodGet, "/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask stages a task and the environment it will run in
func (c *Client) CreateTask(projectID, provider, envProvider, description string) (*types.Task, error) {
	body := map[string]string{
		"project_id":   projectID,
		"provider":     provider,
		"env_provider": envProvider,
		"description":  description,
	}
	var task types.Task
	if err := c.do(http.MethodPost, "/tasks", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RemoveTask stages removal of a task and its environment
func (c *Client) RemoveTask(id string, skipProvider bool) error {
	path := "/tasks/" + id
	if skipProvider {
		path += "?skip_provider=true"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// TailTaskLogs streams the task's log to w. For a running task the stream
// stays open until the task finishes; for a terminal one the full log is
// written and the call returns.
func (c *Client) TailTaskLogs(ctx context.Context, taskID string, w io.Writer) error {
	return c.tail(ctx, "/tasks/"+taskID+"/logs", w)
}

// TailEnvironmentLogs streams the environment's lifecycle log to w
func (c *Client) TailEnvironmentLogs(ctx context.Context, envID string, w io.Writer) error {
	return c.tail(ctx, "/environments/"+envID+"/logs", w)
}

func (c *Client) tail(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return unwrapURLError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(extractError(data, resp.StatusCode))
	}

	_, err = io.Copy(w, resp.Body)
	return err
}
