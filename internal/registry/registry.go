package registry

import (
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"fhgateway/internal/domain"
)

var (
	ErrNotFound      = errors.New("task not found")
	ErrDuplicateTask = errors.New("task id already registered")
	ErrTaskTerminal  = errors.New("task already in a terminal state")
)

// Registry is the process-wide store of tracked tasks. Entries are written
// once at registration, updated once at the terminal transition, and never
// evicted: the map grows for the lifetime of the process.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

func New() *Registry {
	return &Registry{tasks: make(map[string]*domain.Task)}
}

// Register inserts a new running task. The caller must invoke Register before
// spawning any background work on the same id, so that a Get issued right
// after submission can never miss the entry.
func (r *Registry) Register(t domain.Task) error {
	if t.ID == "" {
		return errors.New("task id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return ErrDuplicateTask
	}
	t.Status = domain.StatusRunning
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	t.Result = nil
	t.ErrorMessage = ""
	clone := cloneTask(&t)
	r.tasks[t.ID] = clone
	return nil
}

// Complete transitions a running task to completed. The second terminal write
// on an id is rejected and leaves the entry untouched.
func (r *Registry) Complete(id string, result map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrTaskTerminal
	}
	t.Status = domain.StatusCompleted
	t.Result = maps.Clone(result)
	t.ErrorMessage = ""
	t.CompletedAt = time.Now()
	return nil
}

// Fail transitions a running task to failed.
func (r *Registry) Fail(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrTaskTerminal
	}
	t.Status = domain.StatusFailed
	t.ErrorMessage = message
	t.Result = nil
	t.CompletedAt = time.Now()
	return nil
}

// Get returns a snapshot copy of the task, so callers never share memory with
// the entry the executor will later update.
func (r *Registry) Get(id string) (domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return *cloneTask(t), nil
}

// Summary is the minimal per-task view used by the diagnostic listing.
type Summary struct {
	ID          string            `json:"task_id"`
	JobName     domain.JobKind    `json:"job_name"`
	Status      domain.TaskStatus `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at,omitzero"`
}

// Snapshot returns a point-in-time listing of all known tasks, oldest first.
func (r *Registry) Snapshot() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, Summary{
			ID:          t.ID,
			JobName:     t.JobKind,
			Status:      t.Status,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func cloneTask(t *domain.Task) *domain.Task {
	clone := *t
	clone.RuntimeConfig = maps.Clone(t.RuntimeConfig)
	clone.Result = maps.Clone(t.Result)
	return &clone
}
