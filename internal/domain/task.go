package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind selects which research agent runs a task.
type JobKind string

const (
	JobCrow    JobKind = "CROW"
	JobFalcon  JobKind = "FALCON"
	JobOwl     JobKind = "OWL"
	JobPhoenix JobKind = "PHOENIX"
	JobDummy   JobKind = "DUMMY"
)

var jobKinds = []JobKind{JobCrow, JobFalcon, JobOwl, JobPhoenix, JobDummy}

var ErrUnknownJobKind = errors.New("invalid job")

// JobKinds lists the supported kinds in catalog order.
func JobKinds() []JobKind {
	out := make([]JobKind, len(jobKinds))
	copy(out, jobKinds)
	return out
}

// ParseJobKind resolves a caller-supplied job name, case-insensitively.
func ParseJobKind(name string) (JobKind, error) {
	k := JobKind(strings.ToUpper(strings.TrimSpace(name)))
	for _, v := range jobKinds {
		if v == k {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q, available jobs: %v", ErrUnknownJobKind, name, jobKinds)
}

type TaskStatus string

const (
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one tracked job submission. Result is set only when the task
// completed, ErrorMessage only when it failed.
type Task struct {
	ID            string         `json:"id"`
	JobKind       JobKind        `json:"job_name"`
	Query         string         `json:"query"`
	RuntimeConfig map[string]any `json:"runtime_config,omitempty"`
	WebhookURL    string         `json:"webhook_url,omitempty"`
	Status        TaskStatus     `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at,omitzero"`
	Result        map[string]any `json:"result,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}
