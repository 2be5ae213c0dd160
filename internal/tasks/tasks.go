// Package tasks implements the background task manager (C12): long-running
// operations (index rebuilds, community refresh, batch imports) are started
// asynchronously and tracked by id, with status polling, a cancellation-
// shielded wait, and explicit cancellation -- grounded on background.py's
// BackgroundTaskManager, translated from asyncio tasks/coroutines into
// goroutines, channels, and context.Context.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// State is one of the states a background task can be in.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

// Status is the externally-visible snapshot of a task, free of internal
// scheduling fields (the "k starts with _" filter in the original's
// get_status becomes simply: don't put those fields on this struct).
type Status struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ProjectPath string     `json:"project_path,omitempty"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Func is the unit of work a background task runs. It receives a context
// cancelled by Manager.Cancel, and returns a result or an error.
type Func func(ctx context.Context) (interface{}, error)

type entry struct {
	status Status
	result interface{}
	done   chan struct{}
	cancel context.CancelFunc
}

// Manager tracks background tasks for one daemon instance across all
// projects, bounding concurrency with a semaphore sized by max_concurrent.
// In-memory state is the source of truth for live status/wait/cancel; the
// store-backed rows (when persist is set) are a durable audit trail that
// survives the in-memory map's TTL-based pruning.
type Manager struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	sem     chan struct{}
	ttl     time.Duration
	queue   int
	stop    chan struct{}
	stopped chan struct{}
	persist *store.Store
}

// New creates a task manager. maxConcurrent bounds how many task functions
// may run at once (0 means unbounded); queueSize is stored but does not
// bound the number of tracked tasks; ttl is how long a finished task's
// status is kept before pruning, and pruning happens by ttl only.
// persist, if non-nil, receives a durable copy of every task's lifecycle
// transitions via internal/store's background_tasks table.
func New(maxConcurrent, queueSize int, ttl time.Duration, persist *store.Store) *Manager {
	m := &Manager{
		tasks:   make(map[string]*entry),
		queue:   queueSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		persist: persist,
	}
	if maxConcurrent > 0 {
		m.sem = make(chan struct{}, maxConcurrent)
	}
	go m.pruneLoop()
	return m
}

// Close stops the prune loop. Running tasks are not affected.
func (m *Manager) Close() {
	close(m.stop)
	<-m.stopped
}

func (m *Manager) pruneLoop() {
	defer close(m.stopped)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

func (m *Manager) prune() {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.tasks {
		if e.status.CompletedAt == nil {
			continue
		}
		if time.Since(*e.status.CompletedAt) > m.ttl {
			delete(m.tasks, id)
		}
	}
}

// CreateTask starts fn in its own goroutine and returns immediately with
// an id for tracking it. The task transitions pending -> running ->
// {completed|failed|cancelled}.
func (m *Manager) CreateTask(fn Func, name, projectPath string) string {
	id := uuid.NewString()[:8]
	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(context.Background())

	e := &entry{
		status: Status{
			ID:          id,
			Name:        name,
			ProjectPath: projectPath,
			State:       Pending,
			CreatedAt:   now,
		},
		done:   make(chan struct{}),
		cancel: cancel,
	}

	m.mu.Lock()
	m.tasks[id] = e
	m.mu.Unlock()

	if m.persist != nil {
		if err := m.persist.InsertTask(&store.BackgroundTaskRow{TaskID: id, Name: name, Project: projectPath}); err != nil {
			logging.Get(logging.CategoryTasks).Warn("failed to persist task %s: %v", id, err)
		}
	}

	go m.run(ctx, id, e, fn)
	return id
}

func (m *Manager) run(ctx context.Context, id string, e *entry, fn Func) {
	if m.sem != nil {
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-ctx.Done():
		}
	}

	defer close(e.done)

	m.mu.Lock()
	started := time.Now().UTC()
	e.status.State = Running
	e.status.StartedAt = &started
	m.mu.Unlock()
	m.persistState(id, Running, "", "")

	result, err := func() (res interface{}, runErr error) {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return fn(ctx)
	}()

	completed := time.Now().UTC()
	m.mu.Lock()
	e.status.CompletedAt = &completed
	switch {
	case ctx.Err() == context.Canceled && err != nil:
		e.status.State = Cancelled
	case err != nil:
		e.status.State = Failed
		e.status.Error = err.Error()
		logging.Get(logging.CategoryTasks).Warn("task %s (%s) failed: %v", id, e.status.Name, err)
	default:
		e.status.State = Completed
		e.result = result
	}
	finalState, finalErr := e.status.State, e.status.Error
	m.mu.Unlock()

	resultText := ""
	if finalState == Completed {
		resultText = fmt.Sprintf("%v", result)
	}
	m.persistState(id, finalState, finalErr, resultText)
}

// persistState pushes a task's current lifecycle state to the durable
// store, if one was configured. Failures are logged, not returned -- the
// in-memory Manager remains authoritative for the daemon's own operation.
func (m *Manager) persistState(id string, state State, errMsg, result string) {
	if m.persist == nil {
		return
	}
	if err := m.persist.UpdateTaskState(id, store.TaskState(state), errMsg, result); err != nil {
		logging.Get(logging.CategoryTasks).Warn("failed to persist task %s state %s: %v", id, state, err)
	}
}

// GetStatus returns a task's current status, or nil if id is unknown.
func (m *Manager) GetStatus(id string) *Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return nil
	}
	status := e.status
	return &status
}

// WaitFor blocks until the task completes or timeout elapses, returning
// its result. Unlike a plain context timeout, a WaitFor timeout does not
// cancel the task itself (mirroring the original's asyncio.shield): the
// caller can poll GetStatus or call WaitFor again later.
func (m *Manager) WaitFor(id string, timeout time.Duration) (interface{}, error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown task: %s", id)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-e.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		if e.status.State == Failed {
			return nil, fmt.Errorf("task %s failed: %s", id, e.status.Error)
		}
		return e.result, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out waiting for task %s", id)
	}
}

// Cancel cancels a running task's context and waits for it to unwind,
// returning false if the id is unknown.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return false
	}

	e.cancel()
	<-e.done

	m.mu.Lock()
	if e.status.State == Running || e.status.State == Pending {
		e.status.State = Cancelled
	}
	state := e.status.State
	m.mu.Unlock()
	if state == Cancelled {
		m.persistState(id, Cancelled, "", "")
	}
	return true
}

// Persisted looks up a task's durable row, for status requests about a
// task that has aged out of the in-memory map. Returns nil, nil if no
// store was configured or the id is unknown to it.
func (m *Manager) Persisted(id string) (*store.BackgroundTaskRow, error) {
	if m.persist == nil {
		return nil, nil
	}
	return m.persist.GetTask(id)
}

// ListTasks returns all tracked task statuses, optionally filtered by
// project path.
func (m *Manager) ListTasks(projectPath string) []*Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Status, 0, len(m.tasks))
	for _, e := range m.tasks {
		if projectPath != "" && e.status.ProjectPath != projectPath {
			continue
		}
		status := e.status
		out = append(out, &status)
	}
	return out
}
