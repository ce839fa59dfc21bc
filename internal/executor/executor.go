package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fhgateway/internal/domain"
	"fhgateway/internal/futurehouse"
	"fhgateway/internal/registry"
	"fhgateway/internal/webhook"
)

// Executor runs submitted jobs in the background without blocking the
// submitting request.
type Executor struct {
	client   futurehouse.Client
	registry *registry.Registry
	notifier *webhook.Notifier
}

// SubmitRequest carries one asynchronous job submission.
type SubmitRequest struct {
	JobKind       domain.JobKind
	Query         string
	RuntimeConfig map[string]any
	WebhookURL    string
}

func New(client futurehouse.Client, reg *registry.Registry, notifier *webhook.Notifier) *Executor {
	return &Executor{client: client, registry: reg, notifier: notifier}
}

// Submit registers a new task and launches its execution in a detached
// goroutine. It returns the task id as soon as the registry entry exists,
// independent of how long the job itself takes. One goroutine is spawned per
// submission with no upper bound, and in-flight work is abandoned at shutdown.
func (e *Executor) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	// The adapter validates the kind before it gets here, but an unsupported
	// kind must never reach the upstream client.
	kind, err := domain.ParseJobKind(string(req.JobKind))
	if err != nil {
		return "", err
	}

	task := domain.Task{
		ID:            uuid.NewString(),
		JobKind:       kind,
		Query:         req.Query,
		RuntimeConfig: req.RuntimeConfig,
		WebhookURL:    req.WebhookURL,
	}
	if err := e.registry.Register(task); err != nil {
		return "", fmt.Errorf("register task: %w", err)
	}

	go e.run(task)
	return task.ID, nil
}

// run executes a single registered task to its terminal state. Errors and
// panics end up in the registry, never in the worker's caller.
func (e *Executor) run(task domain.Task) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic during task execution: %v", rec)
			log.Error().Str("task_id", task.ID).Msg(msg)
			// A no-op if the terminal state was already written.
			if err := e.registry.Fail(task.ID, msg); err == nil {
				e.notifyTerminal(task, nil, msg)
			}
		}
	}()

	// Background context: execution outlives the HTTP request that submitted it.
	ctx := context.Background()

	log.Info().
		Str("task_id", task.ID).
		Str("job_name", string(task.JobKind)).
		Msg("starting background task")

	result, err := e.client.RunUntilDone(ctx, futurehouse.TaskRequest{
		Name:          task.JobKind,
		Query:         task.Query,
		RuntimeConfig: task.RuntimeConfig,
	})

	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("background task failed")
		if ferr := e.registry.Fail(task.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("task_id", task.ID).Msg("failed to record task failure")
			return
		}
		e.notifyTerminal(task, nil, err.Error())
		return
	}

	log.Info().Str("task_id", task.ID).Msg("background task completed")
	if cerr := e.registry.Complete(task.ID, result); cerr != nil {
		log.Error().Err(cerr).Str("task_id", task.ID).Msg("failed to record task result")
		return
	}
	e.notifyTerminal(task, result, "")
}

// notifyTerminal fires the webhook, if one was requested, strictly after the
// registry already holds the terminal state.
func (e *Executor) notifyTerminal(task domain.Task, result map[string]any, errMsg string) {
	if task.WebhookURL == "" {
		return
	}

	payload := map[string]any{
		"task_id":  task.ID,
		"job_name": task.JobKind,
		"query":    task.Query,
	}
	if errMsg != "" {
		payload["status"] = domain.StatusFailed
		payload["error"] = errMsg
	} else {
		payload["status"] = domain.StatusCompleted
		payload["result"] = result
	}

	e.notifier.Notify(context.Background(), task.WebhookURL, payload)
}
