package store

import (
	"fmt"
	"time"
)

// ActiveContextEntry pins a memory into a session's always-hot working
// set, with an optional expiry after which it stops being force-included.
type ActiveContextEntry struct {
	SessionID string
	MemoryID  string
	Project   string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// SetActiveContext pins memoryID into sessionID's working context. A nil
// expiresAt pins it for the remainder of the session.
func (s *Store) SetActiveContext(sessionID, memoryID, project string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO active_context (session_id, memory_id, project, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, memory_id) DO UPDATE SET expires_at = excluded.expires_at`,
		sessionID, memoryID, project, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set active context: %w", err)
	}
	return nil
}

// ClearActiveContextEntry removes one memory from a session's working context.
func (s *Store) ClearActiveContextEntry(sessionID, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`DELETE FROM active_context WHERE session_id = ? AND memory_id = ?`, sessionID, memoryID)
	return err
}

// ClearActiveContext empties a session's entire working context.
func (s *Store) ClearActiveContext(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM active_context WHERE session_id = ?`, sessionID)
	return err
}

// ActiveContextMemories returns the ids of a session's currently live
// (non-expired) working-context memories, pruning any expired rows as a
// side effect.
func (s *Store) ActiveContextMemories(sessionID string) ([]string, error) {
	s.mu.Lock()
	_, err := s.db.Exec(
		`DELETE FROM active_context WHERE session_id = ? AND expires_at IS NOT NULL AND expires_at < CURRENT_TIMESTAMP`,
		sessionID)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired active context: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT memory_id FROM active_context WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active context: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
