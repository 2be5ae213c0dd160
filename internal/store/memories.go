package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// WorkedState is the tri-state outcome flag on a Memory.
type WorkedState string

const (
	WorkedUnknown WorkedState = "unknown"
	WorkedTrue    WorkedState = "true"
	WorkedFalse   WorkedState = "false"
)

// Memory is the fundamental persisted unit (see data model §3).
type Memory struct {
	ID               string
	Project          string
	Category         string
	Content          string
	Rationale        string
	Context          map[string]interface{}
	Tags             []string
	FilePath         string
	Outcome          string
	Worked           WorkedState
	Pinned           bool
	Archived         bool
	ImportanceScore  float64
	SurpriseScore    float64
	SourceClient     string
	SourceModel      string
	HappenedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InsertMemory inserts a new memory row. Embedding storage and indexing
// into C2/C3/C4 are the caller's responsibility (orchestrated by
// internal/memory); this method only persists the row within C1.
func (s *Store) InsertMemory(m *Memory) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertMemory")
	defer timer.Stop()

	ctxJSON, err := marshalOrEmpty(m.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	tagsJSON, err := marshalOrEmpty(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	if m.Worked == "" {
		m.Worked = WorkedUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO memories (id, project, category, content, rationale, context, tags, file_path,
			outcome, worked, pinned, archived, importance_score, surprise_score,
			source_client, source_model, happened_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Project, m.Category, m.Content, m.Rationale, ctxJSON, tagsJSON, m.FilePath,
		m.Outcome, string(m.Worked), m.Pinned, m.Archived, m.ImportanceScore, m.SurpriseScore,
		m.SourceClient, m.SourceModel, m.HappenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return s.TouchLastUpdate("memories")
}

// GetMemory fetches a memory by id. Returns nil, nil if not found.
func (s *Store) GetMemory(id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMemoryLocked(id)
}

func (s *Store) getMemoryLocked(id string) (*Memory, error) {
	row := s.db.QueryRow(
		`SELECT id, project, category, content, rationale, context, tags, file_path, outcome, worked,
			pinned, archived, importance_score, surprise_score, source_client, source_model,
			happened_at, created_at, updated_at
		 FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var ctxJSON, tagsJSON sql.NullString
	var happenedAt sql.NullTime
	var worked string

	err := row.Scan(&m.ID, &m.Project, &m.Category, &m.Content, &m.Rationale, &ctxJSON, &tagsJSON,
		&m.FilePath, &m.Outcome, &worked, &m.Pinned, &m.Archived, &m.ImportanceScore, &m.SurpriseScore,
		&m.SourceClient, &m.SourceModel, &happenedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Worked = WorkedState(worked)
	if ctxJSON.Valid && ctxJSON.String != "" {
		_ = json.Unmarshal([]byte(ctxJSON.String), &m.Context)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
	}
	if happenedAt.Valid {
		t := happenedAt.Time
		m.HappenedAt = &t
	}
	return &m, nil
}

// MemoryFilter narrows ListMemories / recall hydration.
type MemoryFilter struct {
	Project    string
	Categories []string
	Tags       []string
	FilePath   string
	Since      *time.Time
	Until      *time.Time
	IncludeArchived bool
	IDs        []string
}

// GetMemories hydrates multiple rows by id, preserving no particular order
// guarantee beyond what SQLite returns; callers re-sort by their own ranking.
func (s *Store) GetMemories(ids []string) ([]*Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`SELECT id, project, category, content, rationale, context, tags, file_path, outcome, worked,
			pinned, archived, importance_score, surprise_score, source_client, source_model,
			happened_at, created_at, updated_at
		 FROM memories WHERE id IN (%s)`, string(placeholders))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByFilter returns memories matching project/category/tag/file/time
// filters, most recently created first. Used by recall_for_file and as a
// fallback path when no retriever is available.
func (s *Store) ListByFilter(f MemoryFilter, offset, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, project, category, content, rationale, context, tags, file_path, outcome, worked,
			pinned, archived, importance_score, surprise_score, source_client, source_model,
			happened_at, created_at, updated_at
		 FROM memories WHERE project = ?`
	args := []interface{}{f.Project}

	if !f.IncludeArchived {
		query += " AND archived = 0"
	}
	if f.FilePath != "" {
		query += " AND file_path = ?"
		args = append(args, f.FilePath)
	}
	if len(f.Categories) > 0 {
		query += " AND category IN (" + placeholdersFor(len(f.Categories)) + ")"
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, f.Since)
	}
	if f.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, f.Until)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		if len(f.Tags) > 0 && !hasAnyTag(m.Tags, f.Tags) {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

func placeholdersFor(n int) string {
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

// UpdateOutcome applies record_outcome's row-level effect (C8 writes the
// corresponding version separately via internal/temporal).
func (s *Store) UpdateOutcome(id, outcome string, worked WorkedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE memories SET outcome = ?, worked = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		outcome, string(worked), id)
	if err != nil {
		return fmt.Errorf("failed to update outcome: %w", err)
	}
	return s.TouchLastUpdate("memories")
}

// SetPinned implements pin/unpin; idempotent (pin(true) -> pin(true) is a no-op).
func (s *Store) SetPinned(id string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE memories SET pinned = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, pinned, id)
	if err != nil {
		return fmt.Errorf("failed to set pinned: %w", err)
	}
	return s.TouchLastUpdate("memories")
}

// SetArchived implements archive; memories are never physically removed.
func (s *Store) SetArchived(id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE memories SET archived = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, archived, id)
	if err != nil {
		return fmt.Errorf("failed to set archived: %w", err)
	}
	return s.TouchLastUpdate("memories")
}

// SetSurpriseScore records the novelty score computed by the retrieval
// engine (C5) at remember-time.
func (s *Store) SetSurpriseScore(id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE memories SET surprise_score = ? WHERE id = ?`, score, id)
	return err
}

// FailedDecisions returns memories with worked=false, not archived, older
// than minAge, newest-first, limited to max -- the exact predicate the
// FailedDecisionReview dream strategy evaluates.
func (s *Store) FailedDecisions(project string, minAge time.Duration, max int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-minAge)
	rows, err := s.db.Query(
		`SELECT id, project, category, content, rationale, context, tags, file_path, outcome, worked,
			pinned, archived, importance_score, surprise_score, source_client, source_model,
			happened_at, created_at, updated_at
		 FROM memories
		 WHERE project = ? AND worked = 'false' AND archived = 0 AND created_at < ?
		 ORDER BY created_at DESC LIMIT ?`,
		project, cutoff, max)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed decisions: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingOutcomeDecisions returns memories with worked still unknown,
// older than minAge -- used by PendingOutcomeResolver.
func (s *Store) PendingOutcomeDecisions(project string, minAge time.Duration, max int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-minAge)
	rows, err := s.db.Query(
		`SELECT id, project, category, content, rationale, context, tags, file_path, outcome, worked,
			pinned, archived, importance_score, surprise_score, source_client, source_model,
			happened_at, created_at, updated_at
		 FROM memories
		 WHERE project = ? AND worked = 'unknown' AND archived = 0 AND created_at < ?
		 ORDER BY created_at ASC LIMIT ?`,
		project, cutoff, max)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending decisions: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func marshalOrEmpty(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
