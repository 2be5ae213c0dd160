package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Rule is a trigger phrase plus four action lists (§3).
type Rule struct {
	ID            string
	Project       string
	TriggerPhrase string
	MustDo        []string
	MustNot       []string
	AskFirst      []string
	Warnings      []string
	Priority      int
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InsertRule persists a new rule.
func (s *Store) InsertRule(r *Rule) error {
	mustDo, _ := json.Marshal(r.MustDo)
	mustNot, _ := json.Marshal(r.MustNot)
	askFirst, _ := json.Marshal(r.AskFirst)
	warnings, _ := json.Marshal(r.Warnings)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO rules (id, project, trigger_phrase, must_do, must_not, ask_first, warnings, priority, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Project, r.TriggerPhrase, string(mustDo), string(mustNot), string(askFirst), string(warnings),
		r.Priority, r.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return s.TouchLastUpdate("rules")
}

// UpdateRule overwrites an existing rule's mutable fields.
func (s *Store) UpdateRule(r *Rule) error {
	mustDo, _ := json.Marshal(r.MustDo)
	mustNot, _ := json.Marshal(r.MustNot)
	askFirst, _ := json.Marshal(r.AskFirst)
	warnings, _ := json.Marshal(r.Warnings)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE rules SET trigger_phrase=?, must_do=?, must_not=?, ask_first=?, warnings=?,
			priority=?, enabled=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		r.TriggerPhrase, string(mustDo), string(mustNot), string(askFirst), string(warnings),
		r.Priority, r.Enabled, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return s.TouchLastUpdate("rules")
}

// GetRule fetches a single rule by id.
func (s *Store) GetRule(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		`SELECT id, project, trigger_phrase, must_do, must_not, ask_first, warnings, priority, enabled, created_at, updated_at
		 FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// ListRules returns rules for a project, optionally filtering disabled ones.
func (s *Store) ListRules(project string, enabledOnly bool) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, project, trigger_phrase, must_do, must_not, ask_first, warnings, priority, enabled, created_at, updated_at
		FROM rules WHERE project = ?`
	if enabledOnly {
		query += " AND enabled = 1"
	}
	query += " ORDER BY priority DESC"

	rows, err := s.db.Query(query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var mustDo, mustNot, askFirst, warnings sql.NullString
	err := row.Scan(&r.ID, &r.Project, &r.TriggerPhrase, &mustDo, &mustNot, &askFirst, &warnings,
		&r.Priority, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(mustDo.String), &r.MustDo)
	_ = json.Unmarshal([]byte(mustNot.String), &r.MustNot)
	_ = json.Unmarshal([]byte(askFirst.String), &r.AskFirst)
	_ = json.Unmarshal([]byte(warnings.String), &r.Warnings)
	return &r, nil
}
