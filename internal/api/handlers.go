package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"fhgateway/internal/config"
	"fhgateway/internal/domain"
	"fhgateway/internal/executor"
	"fhgateway/internal/futurehouse"
	"fhgateway/internal/registry"
)

type handlers struct {
	cfg      *config.Config
	client   futurehouse.Client
	registry *registry.Registry
	executor *executor.Executor
	validate *validator.Validate
}

func newHandlers(cfg *config.Config, client futurehouse.Client, reg *registry.Registry, exec *executor.Executor) *handlers {
	v := validator.New()
	// Report json field names instead of Go struct field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &handlers{
		cfg:      cfg,
		client:   client,
		registry: reg,
		executor: exec,
		validate: v,
	}
}

// decode parses and validates a JSON request body, writing the 400 envelope
// itself when the body is unusable.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "a JSON body is required")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return fmt.Sprintf("invalid or missing parameters: %s", strings.Join(fields, ", "))
	}
	return "invalid request body"
}

// clientAvailable writes the 503 envelope when no upstream client exists.
func (h *handlers) clientAvailable(w http.ResponseWriter) bool {
	if h.client == nil {
		writeError(w, http.StatusServiceUnavailable, "FutureHouse client not available")
		return false
	}
	return true
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"service":            serviceName,
		"version":            serviceVersion,
		"api_key_configured": h.cfg.FutureHouse.APIKey != "",
		"client_initialized": h.client != nil,
	})
}

func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"jobs":   domain.JobCatalog(),
	})
}

type createTaskRequest struct {
	JobName       string         `json:"job_name" validate:"required"`
	Query         string         `json:"query"    validate:"required"`
	RuntimeConfig map[string]any `json:"runtime_config"`
	TaskID        string         `json:"task_id"`
}

// createTask submits a job upstream without executing or tracking it locally.
func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	if !h.clientAvailable(w) {
		return
	}

	var req createTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	kind, err := domain.ParseJobKind(req.JobName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := h.client.CreateTask(r.Context(), futurehouse.TaskRequest{
		Name:          kind,
		Query:         req.Query,
		RuntimeConfig: req.RuntimeConfig,
		TaskID:        req.TaskID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create task: %s", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"task_id":  taskID,
		"job_name": kind,
		"query":    req.Query,
		"message":  fmt.Sprintf("Task created. Poll /task/%s/status to follow progress.", taskID),
	})
}

// taskStatus resolves a task id upstream first and falls back to the local
// registry, so both pass-through and locally tracked tasks answer here.
func (h *handlers) taskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.client != nil {
		if status, err := h.client.TaskStatus(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"status":       "success",
				"task_id":      id,
				"task_status":  status,
				"is_completed": futurehouse.IsTerminalStatus(status),
			})
			return
		}
	}

	t, err := h.registry.Get(id)
	if err != nil {
		if h.client == nil {
			writeError(w, http.StatusServiceUnavailable, "FutureHouse client not available")
			return
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return
	}

	resp := map[string]any{
		"status":       "success",
		"task_id":      id,
		"task_status":  t.Status,
		"is_completed": t.Status.Terminal(),
	}
	if t.Status == domain.StatusRunning {
		resp["elapsed_seconds"] = int(time.Since(t.StartedAt).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// taskResult returns the stored outcome of a terminal task, 202 while the
// task is still running, with the same upstream-first precedence as status.
func (h *handlers) taskResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	verbose := strings.EqualFold(r.URL.Query().Get("verbose"), "true")

	if h.client != nil {
		if status, err := h.client.TaskStatus(r.Context(), id); err == nil {
			h.upstreamResult(w, r, id, status, verbose)
			return
		}
	}

	t, err := h.registry.Get(id)
	if err != nil {
		if h.client == nil {
			writeError(w, http.StatusServiceUnavailable, "FutureHouse client not available")
			return
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return
	}

	switch t.Status {
	case domain.StatusCompleted:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "success",
			"task_id":     id,
			"task_status": t.Status,
			"result":      t.Result,
		})
	case domain.StatusFailed:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "failed",
			"task_id":       id,
			"task_status":   t.Status,
			"error_message": t.ErrorMessage,
		})
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":          "pending",
			"task_id":         id,
			"task_status":     t.Status,
			"elapsed_seconds": int(time.Since(t.StartedAt).Seconds()),
			"message":         "Task not finished yet.",
		})
	}
}

func (h *handlers) upstreamResult(w http.ResponseWriter, r *http.Request, id, status string, verbose bool) {
	if !futurehouse.IsTerminalStatus(status) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":      "pending",
			"task_id":     id,
			"task_status": status,
			"message":     fmt.Sprintf("Task not finished yet. Current status: %s", status),
		})
		return
	}

	if !futurehouse.IsSuccessStatus(status) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "failed",
			"task_id":       id,
			"task_status":   status,
			"error_message": fmt.Sprintf("task ended with status %q", status),
		})
		return
	}

	result, err := h.client.TaskResult(r.Context(), id, verbose)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to fetch result: %s", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"task_id":     id,
		"task_status": status,
		"result":      result,
	})
}

type runTaskRequest struct {
	JobName       string         `json:"job_name" validate:"required"`
	Query         string         `json:"query"    validate:"required"`
	Verbose       bool           `json:"verbose"`
	RuntimeConfig map[string]any `json:"runtime_config"`
}

// runTask blocks the request for the full duration of the job.
func (h *handlers) runTask(w http.ResponseWriter, r *http.Request) {
	if !h.clientAvailable(w) {
		return
	}

	var req runTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	kind, err := domain.ParseJobKind(req.JobName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.client.RunUntilDone(r.Context(), futurehouse.TaskRequest{
		Name:          kind,
		Query:         req.Query,
		RuntimeConfig: req.RuntimeConfig,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("task execution failed: %s", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"job_name": kind,
		"query":    req.Query,
		"response": result,
		"message":  "Task executed successfully",
	})
}

type batchRequest struct {
	Tasks []batchEntry `json:"tasks" validate:"required,min=1,dive"`
}

type batchEntry struct {
	JobName       string         `json:"job_name" validate:"required"`
	Query         string         `json:"query"    validate:"required"`
	RuntimeConfig map[string]any `json:"runtime_config"`
}

// runBatch fans the whole batch out upstream and joins before responding.
// Validation of every entry happens before any execution starts.
func (h *handlers) runBatch(w http.ResponseWriter, r *http.Request) {
	if !h.clientAvailable(w) {
		return
	}

	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}

	reqs := make([]futurehouse.TaskRequest, 0, len(req.Tasks))
	for _, entry := range req.Tasks {
		kind, err := domain.ParseJobKind(entry.JobName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		reqs = append(reqs, futurehouse.TaskRequest{
			Name:          kind,
			Query:         entry.Query,
			RuntimeConfig: entry.RuntimeConfig,
		})
	}

	results, err := h.client.RunAllUntilDone(r.Context(), reqs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("batch execution failed: %s", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": results,
		"count":   len(results),
		"message": fmt.Sprintf("%d tasks executed successfully", len(results)),
	})
}

type asyncTaskRequest struct {
	JobName       string         `json:"job_name"    validate:"required"`
	Query         string         `json:"query"       validate:"required"`
	WebhookURL    string         `json:"webhook_url" validate:"omitempty,url"`
	RuntimeConfig map[string]any `json:"runtime_config"`
}

// submitAsync registers a tracked task and returns before it executes.
func (h *handlers) submitAsync(w http.ResponseWriter, r *http.Request) {
	if !h.clientAvailable(w) {
		return
	}

	var req asyncTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	kind, err := domain.ParseJobKind(req.JobName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := h.executor.Submit(r.Context(), executor.SubmitRequest{
		JobKind:       kind,
		Query:         req.Query,
		RuntimeConfig: req.RuntimeConfig,
		WebhookURL:    req.WebhookURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownJobKind) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to submit task: %s", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"task_id":    taskID,
		"status_url": fmt.Sprintf("/task/%s/status", taskID),
		"result_url": fmt.Sprintf("/task/%s/result", taskID),
		"message":    "Task accepted and running in the background",
	})
}

// testTask fires a fixed DUMMY smoke run.
func (h *handlers) testTask(w http.ResponseWriter, r *http.Request) {
	if !h.clientAvailable(w) {
		return
	}

	result, err := h.client.RunUntilDone(r.Context(), futurehouse.TaskRequest{
		Name:  domain.JobDummy,
		Query: "ping",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("DUMMY test failed: %s", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  "DUMMY test passed",
		"response": result,
	})
}

// listTasks is the diagnostic view over every task tracked by this process.
func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.registry.Snapshot()

	var running, completed, failed int
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusRunning:
			running++
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"tasks":     tasks,
		"count":     len(tasks),
		"running":   running,
		"completed": completed,
		"failed":    failed,
	})
}
