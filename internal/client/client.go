// Package client talks to the editem task server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/knaw-huc/editem/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// TransportError reports a request that did not produce a usable response:
// the server could not be reached, or it answered with a non-success code.
type TransportError struct {
	Op         string // "run", "kill", "tasks", ...
	Code       int    // HTTP status code, 0 when no response arrived
	StatusText string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Error %s %d %s", e.Op, e.Code, e.StatusText)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Response is the body returned by the run and kill routes.
type Response struct {
	Task    string `json:"task,omitempty"`
	Project string `json:"pid,omitempty"`
	Stat    string `json:"stat"`
	Msg     string `json:"msg,omitempty"`
}

// Event converts the response into a local status event for task.
func (r Response) Event(task string) models.StatusEvent {
	if r.Task != "" {
		task = r.Task
	}
	return models.StatusEvent{
		Project: r.Project,
		Task:    task,
		Kind:    models.ParseKind(r.Stat),
		Raw:     r.Stat,
		Message: r.Msg,
		Local:   true,
	}
}

// HealthResponse matches the server's health response structure.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Client wraps HTTP calls to the task server.
type Client struct {
	baseURL    string
	project    string
	httpClient *http.Client
}

// New creates a client for baseURL. A non-empty project routes run and
// kill requests through the project endpoints.
func New(baseURL, project string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		project: project,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Project returns the project the client is scoped to.
func (c *Client) Project() string { return c.project }

// WebsocketURL returns the address of the push channel.
func (c *Client) WebsocketURL() string {
	u := c.baseURL + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Do sends a start or kill request for task and returns the server's verdict.
func (c *Client) Do(ctx context.Context, task string, action models.Action) (Response, error) {
	path := fmt.Sprintf("/%s/%s/", action, url.PathEscape(task))
	var payload interface{} = struct{}{}
	if c.project != "" {
		path = fmt.Sprintf("/project/%s/%s", url.PathEscape(c.project), action)
		payload = map[string]string{"task": task}
	}

	var resp Response
	body, err := c.post(ctx, string(action), path, payload)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, &TransportError{Op: string(action), Code: http.StatusOK, StatusText: "malformed response", Err: err}
	}
	return resp, nil
}

// Run asks the server to start task.
func (c *Client) Run(ctx context.Context, task string) (Response, error) {
	return c.Do(ctx, task, models.ActionStart)
}

// Kill asks the server to stop task.
func (c *Client) Kill(ctx context.Context, task string) (Response, error) {
	return c.Do(ctx, task, models.ActionKill)
}

// ListTasks fetches the task identifiers the server knows.
func (c *Client) ListTasks(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "tasks", "/tasks")
	if err != nil {
		return nil, err
	}
	var tasks []string
	if err := json.Unmarshal(body, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse task list: %w", err)
	}
	return tasks, nil
}

// Runs fetches the run history of task.
func (c *Client) Runs(ctx context.Context, task string) ([]models.Run, error) {
	body, err := c.get(ctx, "runs", "/tasks/"+url.PathEscape(task)+"/runs")
	if err != nil {
		return nil, err
	}
	var runs []models.Run
	if err := json.Unmarshal(body, &runs); err != nil {
		return nil, fmt.Errorf("failed to parse runs: %w", err)
	}
	return runs, nil
}

// CheckHealth checks if the server is healthy and returns its health payload.
// The payload is returned alongside the error on a non-200 response.
func (c *Client) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "health", StatusText: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, &TransportError{Op: "health", Code: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	}
	return &health, nil
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(op, req)
}

func (c *Client) post(ctx context.Context, op, path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		text := "error"
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			text = "timeout"
		}
		return nil, &TransportError{Op: op, StatusText: text, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Code: resp.StatusCode, StatusText: "incomplete response", Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &TransportError{
			Op:         op,
			Code:       resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Err:        fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}
