package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ContextCheck is one (topic, timestamp) counsel token (§3, §4.9).
type ContextCheck struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStateRow is the persisted shape of per-project covenant state.
type SessionStateRow struct {
	SessionID        string
	Project          string
	Briefed          bool
	ContextChecks    []ContextCheck
	PendingDecisions []string
	LastActivity     time.Time
}

// GetOrCreateSession fetches session state by id, creating a fresh
// (unbriefed) row if none exists.
func (s *Store) GetOrCreateSession(sessionID, project string) (*SessionStateRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.getSessionLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}

	fresh := &SessionStateRow{SessionID: sessionID, Project: project, LastActivity: time.Now()}
	_, err = s.db.Exec(
		`INSERT INTO session_state (session_id, project, briefed, context_checks, pending_decisions, last_activity)
		 VALUES (?, ?, 0, '[]', '[]', CURRENT_TIMESTAMP)`,
		sessionID, project,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session state: %w", err)
	}
	return fresh, nil
}

func (s *Store) getSessionLocked(sessionID string) (*SessionStateRow, error) {
	var row SessionStateRow
	var checksJSON, pendingJSON string
	err := s.db.QueryRow(
		`SELECT session_id, project, briefed, context_checks, pending_decisions, last_activity
		 FROM session_state WHERE session_id = ?`, sessionID,
	).Scan(&row.SessionID, &row.Project, &row.Briefed, &checksJSON, &pendingJSON, &row.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session state: %w", err)
	}
	_ = json.Unmarshal([]byte(checksJSON), &row.ContextChecks)
	_ = json.Unmarshal([]byte(pendingJSON), &row.PendingDecisions)
	return &row, nil
}

// MarkBriefed sets the briefed flag for a session.
func (s *Store) MarkBriefed(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE session_state SET briefed = 1, last_activity = CURRENT_TIMESTAMP WHERE session_id = ?`,
		sessionID)
	return err
}

// AddContextCheck appends a counsel token and touches last_activity.
func (s *Store) AddContextCheck(sessionID, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.getSessionLocked(sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("session %s does not exist", sessionID)
	}
	row.ContextChecks = append(row.ContextChecks, ContextCheck{Topic: topic, Timestamp: time.Now()})
	checksJSON, _ := json.Marshal(row.ContextChecks)

	_, err = s.db.Exec(
		`UPDATE session_state SET context_checks = ?, last_activity = CURRENT_TIMESTAMP WHERE session_id = ?`,
		string(checksJSON), sessionID)
	return err
}

// AddPendingDecision appends a memory id awaiting outcome.
func (s *Store) AddPendingDecision(sessionID, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.getSessionLocked(sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("session %s does not exist", sessionID)
	}
	row.PendingDecisions = append(row.PendingDecisions, memoryID)
	pendingJSON, _ := json.Marshal(row.PendingDecisions)

	_, err = s.db.Exec(`UPDATE session_state SET pending_decisions = ? WHERE session_id = ?`, string(pendingJSON), sessionID)
	return err
}

// RemovePendingDecision removes a memory id from the pending-decisions log,
// called when record_outcome resolves it.
func (s *Store) RemovePendingDecision(sessionID, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.getSessionLocked(sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	filtered := row.PendingDecisions[:0]
	for _, id := range row.PendingDecisions {
		if id != memoryID {
			filtered = append(filtered, id)
		}
	}
	pendingJSON, _ := json.Marshal(filtered)
	_, err = s.db.Exec(`UPDATE session_state SET pending_decisions = ? WHERE session_id = ?`, string(pendingJSON), sessionID)
	return err
}

// GetSession is the exported read-only accessor.
func (s *Store) GetSession(sessionID string) (*SessionStateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(sessionID)
}
