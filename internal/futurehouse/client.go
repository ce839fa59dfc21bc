// Package futurehouse talks to the FutureHouse task-execution platform.
package futurehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"fhgateway/internal/domain"
)

const (
	defaultBaseURL      = "https://api.platform.futurehouse.org"
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = 2 * time.Second
)

// ErrUnavailable is reported at the API boundary when no client could be
// initialised (typically a missing API key).
var ErrUnavailable = errors.New("futurehouse client not available")

// TaskRequest describes one job to submit upstream. RuntimeConfig is passed
// through unmodified.
type TaskRequest struct {
	Name          domain.JobKind `json:"name"`
	Query         string         `json:"query"`
	RuntimeConfig map[string]any `json:"runtime_config,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
}

// Client is the upstream collaborator that actually executes jobs.
type Client interface {
	// CreateTask submits a job without waiting for it and returns the
	// upstream task id.
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
	// TaskStatus reports the upstream status string for a task id.
	TaskStatus(ctx context.Context, id string) (string, error)
	// TaskResult fetches the result payload of a finished task.
	TaskResult(ctx context.Context, id string, verbose bool) (map[string]any, error)
	// RunUntilDone submits a job and blocks until it reaches a terminal
	// status, returning the result payload.
	RunUntilDone(ctx context.Context, req TaskRequest) (map[string]any, error)
	// RunAllUntilDone runs a batch concurrently. results[i] corresponds to
	// reqs[i]; the first job error fails the whole batch.
	RunAllUntilDone(ctx context.Context, reqs []TaskRequest) ([]map[string]any, error)
}

var successStatuses = map[string]bool{
	"completed": true,
	"success":   true,
}

var failureStatuses = map[string]bool{
	"failed":    true,
	"error":     true,
	"cancelled": true,
}

// IsSuccessStatus reports whether an upstream status string means the task
// finished successfully.
func IsSuccessStatus(s string) bool {
	return successStatuses[strings.ToLower(s)]
}

// IsTerminalStatus reports whether an upstream status string is final.
func IsTerminalStatus(s string) bool {
	s = strings.ToLower(s)
	return successStatuses[s] || failureStatuses[s]
}

// Config holds the settings for the HTTP client.
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// HTTPClient implements Client against the FutureHouse REST API.
type HTTPClient struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("futurehouse api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &HTTPClient{
		apiKey:       apiKey,
		baseURL:      baseURL,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClient) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v0.1/tasks", req, &out); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	if out.TaskID == "" {
		return "", errors.New("create task: upstream returned no task id")
	}
	return out.TaskID, nil
}

func (c *HTTPClient) TaskStatus(ctx context.Context, id string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v0.1/tasks/"+id+"/status", nil, &out); err != nil {
		return "", fmt.Errorf("task status: %w", err)
	}
	return out.Status, nil
}

func (c *HTTPClient) TaskResult(ctx context.Context, id string, verbose bool) (map[string]any, error) {
	path := "/v0.1/tasks/" + id
	if verbose {
		path += "?verbose=true"
	}
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("task result: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) RunUntilDone(ctx context.Context, req TaskRequest) (map[string]any, error) {
	id, err := c.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := c.TaskStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if !IsTerminalStatus(status) {
			continue
		}
		if !IsSuccessStatus(status) {
			return nil, fmt.Errorf("task %s ended with status %q", id, status)
		}
		return c.TaskResult(ctx, id, false)
	}
}

func (c *HTTPClient) RunAllUntilDone(ctx context.Context, reqs []TaskRequest) ([]map[string]any, error) {
	results := make([]map[string]any, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req TaskRequest) {
			defer wg.Done()
			results[i], errs[i] = c.RunUntilDone(ctx, req)
		}(i, req)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := upstreamMessage(raw)
		log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("upstream error response")
		return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func upstreamMessage(raw []byte) string {
	var decoded struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if decoded.Message != "" {
			return decoded.Message
		}
		if decoded.Detail != "" {
			return decoded.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
