package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhgateway/internal/domain"
)

func newTask(id string) domain.Task {
	return domain.Task{ID: id, JobKind: domain.JobCrow, Query: "q"}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTask("a")))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.False(t, got.StartedAt.IsZero())
	assert.Nil(t, got.Result)
	assert.Empty(t, got.ErrorMessage)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTask("a")))
	assert.ErrorIs(t, r.Register(newTask("a")), ErrDuplicateTask)

	assert.Error(t, r.Register(domain.Task{}))
}

func TestComplete(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTask("a")))
	require.NoError(t, r.Complete("a", map[string]any{"answer": 42}))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, map[string]any{"answer": 42}, got.Result)
	assert.Empty(t, got.ErrorMessage)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestFail(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTask("a")))
	require.NoError(t, r.Fail("a", "boom"))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.Nil(t, got.Result)
}

func TestTerminalTransitionIsWrittenOnce(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTask("a")))
	require.NoError(t, r.Complete("a", map[string]any{"first": true}))

	assert.ErrorIs(t, r.Complete("a", map[string]any{"second": true}), ErrTaskTerminal)
	assert.ErrorIs(t, r.Fail("a", "late failure"), ErrTaskTerminal)

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, map[string]any{"first": true}, got.Result)
	assert.Empty(t, got.ErrorMessage)
}

func TestUnknownID(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Complete("nope", nil), ErrNotFound)
	assert.ErrorIs(t, r.Fail("nope", "x"), ErrNotFound)
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := New()
	task := newTask("a")
	task.RuntimeConfig = map[string]any{"k": "v"}
	require.NoError(t, r.Register(task))

	got, err := r.Get("a")
	require.NoError(t, err)
	got.RuntimeConfig["k"] = "mutated"
	got.Status = domain.StatusFailed

	again, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "v", again.RuntimeConfig["k"])
	assert.Equal(t, domain.StatusRunning, again.Status)
}

func TestSnapshot(t *testing.T) {
	r := New()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Register(newTask(fmt.Sprintf("task-%d", i))))
	}
	require.NoError(t, r.Complete("task-1", nil))
	require.NoError(t, r.Fail("task-2", "boom"))

	tasks := r.Snapshot()
	require.Len(t, tasks, 3)

	byID := map[string]Summary{}
	for _, s := range tasks {
		byID[s.ID] = s
	}
	assert.Equal(t, domain.StatusRunning, byID["task-0"].Status)
	assert.Equal(t, domain.StatusCompleted, byID["task-1"].Status)
	assert.Equal(t, domain.StatusFailed, byID["task-2"].Status)
}

// Readers polling a task while its terminal transition lands must only ever
// see running-without-payload or completed-with-payload, nothing in between.
func TestConcurrentReadsDuringTransition(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTask("a")))

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				got, err := r.Get("a")
				if err != nil {
					errs <- err
					return
				}
				switch got.Status {
				case domain.StatusRunning:
					if got.Result != nil || got.ErrorMessage != "" {
						errs <- fmt.Errorf("running task carries a payload")
						return
					}
				case domain.StatusCompleted:
					if got.Result == nil || got.ErrorMessage != "" {
						errs <- fmt.Errorf("completed task has wrong payload")
						return
					}
				default:
					errs <- fmt.Errorf("unexpected status %q", got.Status)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Complete("a", map[string]any{"done": true})
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
