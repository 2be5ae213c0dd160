package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MemoryVersion is one bi-temporal snapshot of a memory: changed_at is
// transaction time (when we recorded it), valid_from/valid_to is valid
// time (when it was true in reality). valid_to is NULL while current.
type MemoryVersion struct {
	ID                     string
	MemoryID               string
	VersionNumber          int
	Content                string
	Rationale              string
	Context                map[string]interface{}
	Tags                   []string
	Outcome                string
	Worked                 WorkedState
	ChangeType             string
	ChangeDescription      string
	ChangedAt              time.Time
	ValidFrom              *time.Time
	ValidTo                *time.Time
	InvalidatedByVersionID string
}

// NextVersionNumber returns the version number to assign to a memory's
// next version (1 if it has none yet).
func (s *Store) NextVersionNumber(memoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version_number) FROM memory_versions WHERE memory_id = ?`, memoryID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to look up max version number: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// InsertVersion records a new bi-temporal version snapshot. When
// validFrom is nil, the fact is taken to be true as of now.
func (s *Store) InsertVersion(v *MemoryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	context, err := marshalOrEmpty(v.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal version context: %w", err)
	}
	tags, err := marshalOrEmpty(v.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal version tags: %w", err)
	}

	if v.ChangedAt.IsZero() {
		v.ChangedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(
		`INSERT INTO memory_versions (id, memory_id, version_number, content, rationale, context, tags,
			outcome, worked, change_type, change_description, changed_at, valid_from, valid_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.MemoryID, v.VersionNumber, v.Content, v.Rationale, context, tags,
		v.Outcome, string(v.Worked), v.ChangeType, v.ChangeDescription, v.ChangedAt, v.ValidFrom, v.ValidTo,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory version: %w", err)
	}
	return nil
}

// InvalidateVersion sets valid_to on a still-current version, recording
// which new version superseded it. It is a no-op (returns false) if the
// version was already invalidated -- invalidation never deletes history.
func (s *Store) InvalidateVersion(versionID, invalidatedByVersionID string, invalidationTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE memory_versions SET valid_to = ?, invalidated_by_version_id = ?
		 WHERE id = ? AND valid_to IS NULL`,
		invalidationTime, invalidatedByVersionID, versionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to invalidate version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// VersionsAtTime answers the core bi-temporal query: which versions of a
// memory were valid at asOfValidTime, as known at asOfTransactionTime
// (defaults to now). Ordered most-recent-version-first.
func (s *Store) VersionsAtTime(memoryID string, asOfValidTime time.Time, asOfTransactionTime *time.Time) ([]*MemoryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txTime := time.Now().UTC()
	if asOfTransactionTime != nil {
		txTime = *asOfTransactionTime
	}

	rows, err := s.db.Query(
		`SELECT id, memory_id, version_number, content, rationale, context, tags, outcome, worked,
			change_type, change_description, changed_at, valid_from, valid_to, invalidated_by_version_id
		 FROM memory_versions
		 WHERE memory_id = ?
		   AND (valid_from <= ? OR valid_from IS NULL)
		   AND (valid_to IS NULL OR valid_to > ?)
		   AND changed_at <= ?
		 ORDER BY version_number DESC`,
		memoryID, asOfValidTime, asOfValidTime, txTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions at time: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

// VersionsForMemories returns every version touching the given memory
// ids, optionally excluding already-invalidated ones, ordered by
// valid_from then changed_at ascending (earliest known state first) --
// the ordering trace_knowledge_evolution needs to build a timeline.
func (s *Store) VersionsForMemories(memoryIDs []string, includeInvalidated bool) ([]*MemoryVersion, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]interface{}, len(memoryIDs))
	for i, id := range memoryIDs {
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT id, memory_id, version_number, content, rationale, context, tags, outcome, worked,
			change_type, change_description, changed_at, valid_from, valid_to, invalidated_by_version_id
		 FROM memory_versions WHERE memory_id IN (%s)`, placeholdersFor(len(memoryIDs)))
	if !includeInvalidated {
		query += " AND valid_to IS NULL"
	}
	query += " ORDER BY (valid_from IS NOT NULL) DESC, valid_from ASC, changed_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions for memories: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

func scanVersions(rows *sql.Rows) ([]*MemoryVersion, error) {
	var out []*MemoryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVersion(row rowScanner) (*MemoryVersion, error) {
	var v MemoryVersion
	var rationale, outcome, changeDescription, invalidatedBy sql.NullString
	var context, tags string
	var worked string
	var validFrom, validTo sql.NullTime

	err := row.Scan(&v.ID, &v.MemoryID, &v.VersionNumber, &v.Content, &rationale, &context, &tags,
		&outcome, &worked, &v.ChangeType, &changeDescription, &v.ChangedAt, &validFrom, &validTo, &invalidatedBy)
	if err != nil {
		return nil, err
	}

	v.Rationale = rationale.String
	v.Outcome = outcome.String
	v.ChangeDescription = changeDescription.String
	v.InvalidatedByVersionID = invalidatedBy.String
	v.Worked = WorkedState(worked)
	_ = json.Unmarshal([]byte(context), &v.Context)
	_ = json.Unmarshal([]byte(tags), &v.Tags)
	if validFrom.Valid {
		t := validFrom.Time
		v.ValidFrom = &t
	}
	if validTo.Valid {
		t := validTo.Time
		v.ValidTo = &t
	}
	return &v, nil
}
