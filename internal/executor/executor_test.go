package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhgateway/internal/domain"
	"fhgateway/internal/futurehouse"
	"fhgateway/internal/registry"
	"fhgateway/internal/webhook"
)

// stubClient lets each test script the upstream behaviour.
type stubClient struct {
	runFn func(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error)
}

func (s *stubClient) CreateTask(ctx context.Context, req futurehouse.TaskRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubClient) TaskStatus(ctx context.Context, id string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubClient) TaskResult(ctx context.Context, id string, verbose bool) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (s *stubClient) RunUntilDone(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error) {
	return s.runFn(ctx, req)
}

func (s *stubClient) RunAllUntilDone(ctx context.Context, reqs []futurehouse.TaskRequest) ([]map[string]any, error) {
	out := make([]map[string]any, len(reqs))
	for i, req := range reqs {
		res, err := s.runFn(ctx, req)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func newExecutor(client futurehouse.Client) (*Executor, *registry.Registry) {
	reg := registry.New()
	return New(client, reg, webhook.NewNotifier(time.Second)), reg
}

func TestSubmitReturnsBeforeExecutionFinishes(t *testing.T) {
	release := make(chan struct{})
	exec, reg := newExecutor(&stubClient{
		runFn: func(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error) {
			<-release
			return map[string]any{"echo": req.Query}, nil
		},
	})

	start := time.Now()
	id, err := exec.Submit(context.Background(), SubmitRequest{JobKind: domain.JobCrow, Query: "q"})
	require.NoError(t, err)
	// Submission latency must not depend on job duration.
	assert.Less(t, time.Since(start), time.Second)

	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)

	close(release)
	require.Eventually(t, func() bool {
		got, err := reg.Get(id)
		return err == nil && got.Status == domain.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err = reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "q"}, got.Result)
	assert.Empty(t, got.ErrorMessage)
}

func TestSubmitRejectsUnknownJobKind(t *testing.T) {
	exec, reg := newExecutor(&stubClient{
		runFn: func(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error) {
			t.Error("execution must not start for an invalid kind")
			return nil, nil
		},
	})

	_, err := exec.Submit(context.Background(), SubmitRequest{JobKind: "RAVEN", Query: "q"})
	require.ErrorIs(t, err, domain.ErrUnknownJobKind)
	assert.Empty(t, reg.Snapshot())
}

func TestExecutionErrorBecomesFailedState(t *testing.T) {
	exec, reg := newExecutor(&stubClient{
		runFn: func(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error) {
			return nil, errors.New("upstream blew up")
		},
	})

	id, err := exec.Submit(context.Background(), SubmitRequest{JobKind: domain.JobOwl, Query: "q"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := reg.Get(id)
		return err == nil && got.Status == domain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "upstream blew up", got.ErrorMessage)
	assert.Nil(t, got.Result)
}

func TestPanicDuringExecutionIsCaptured(t *testing.T) {
	exec, reg := newExecutor(&stubClient{
		runFn: func(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error) {
			panic("something went very wrong")
		},
	})

	id, err := exec.Submit(context.Background(), SubmitRequest{JobKind: domain.JobDummy, Query: "q"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := reg.Get(id)
		return err == nil && got.Status == domain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "something went very wrong")
}

func TestWebhookReceivesCompletionExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	var payload map[string]any
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer hook.Close()

	exec, reg := newExecutor(&stubClient{
		runFn: func(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error) {
			return map[string]any{"echo": req.Query}, nil
		},
	})

	id, err := exec.Submit(context.Background(), SubmitRequest{
		JobKind:    domain.JobCrow,
		Query:      "q",
		WebhookURL: hook.URL,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The webhook fires only after the registry already holds the result.
	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	assert.Equal(t, id, payload["task_id"])
	assert.Equal(t, string(domain.StatusCompleted), payload["status"])
	assert.Equal(t, map[string]any{"echo": "q"}, payload["result"])

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "webhook must not be retried")
}

func TestWebhookReceivesFailurePayload(t *testing.T) {
	var payload map[string]any
	done := make(chan struct{})
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		close(done)
	}))
	defer hook.Close()

	exec, _ := newExecutor(&stubClient{
		runFn: func(ctx context.Context, req futurehouse.TaskRequest) (map[string]any, error) {
			return nil, errors.New("agent crashed")
		},
	})

	_, err := exec.Submit(context.Background(), SubmitRequest{
		JobKind:    domain.JobFalcon,
		Query:      "q",
		WebhookURL: hook.URL,
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never called")
	}

	assert.Equal(t, string(domain.StatusFailed), payload["status"])
	assert.Equal(t, "agent crashed", payload["error"])
	assert.NotContains(t, payload, "result")
}
