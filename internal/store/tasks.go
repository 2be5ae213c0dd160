package store

import (
	"database/sql"
	"fmt"
	"time"
)

// TaskState is one of the background-task lifecycle states (§3, C12).
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// BackgroundTaskRow is the persisted shape of a tracked long-running
// operation (C12).
type BackgroundTaskRow struct {
	TaskID      string
	Name        string
	Project     string
	State       TaskState
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Result      string
}

// InsertTask creates a new task row in the pending state.
func (s *Store) InsertTask(t *BackgroundTaskRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO background_tasks (task_id, name, project, state) VALUES (?, ?, ?, ?)`,
		t.TaskID, t.Name, t.Project, string(TaskPending),
	)
	return err
}

// UpdateTaskState transitions a task's state and stamps the relevant
// timestamp/error/result fields.
func (s *Store) UpdateTaskState(taskID string, state TaskState, errMsg, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch state {
	case TaskRunning:
		_, err := s.db.Exec(`UPDATE background_tasks SET state = ?, started_at = CURRENT_TIMESTAMP WHERE task_id = ?`, string(state), taskID)
		return err
	case TaskCompleted, TaskFailed, TaskCancelled:
		_, err := s.db.Exec(
			`UPDATE background_tasks SET state = ?, completed_at = CURRENT_TIMESTAMP, error = ?, result = ? WHERE task_id = ?`,
			string(state), errMsg, result, taskID)
		return err
	default:
		_, err := s.db.Exec(`UPDATE background_tasks SET state = ? WHERE task_id = ?`, string(state), taskID)
		return err
	}
}

// GetTask fetches a task row by id.
func (s *Store) GetTask(taskID string) (*BackgroundTaskRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t BackgroundTaskRow
	var state string
	var startedAt, completedAt sql.NullTime
	var errMsg, result sql.NullString
	err := s.db.QueryRow(
		`SELECT task_id, name, project, state, created_at, started_at, completed_at, error, result
		 FROM background_tasks WHERE task_id = ?`, taskID,
	).Scan(&t.TaskID, &t.Name, &t.Project, &state, &t.CreatedAt, &startedAt, &completedAt, &errMsg, &result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task: %w", err)
	}
	t.State = TaskState(state)
	if startedAt.Valid {
		tm := startedAt.Time
		t.StartedAt = &tm
	}
	if completedAt.Valid {
		tm := completedAt.Time
		t.CompletedAt = &tm
	}
	t.Error = errMsg.String
	t.Result = result.String
	return &t, nil
}
