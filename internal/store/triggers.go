package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ContextTrigger fires a proactive recall when the host integration
// observes a matching file/tag/entity (§3). The matching logic lives in
// internal/memory; this file only persists the rows.
type ContextTrigger struct {
	ID             string
	Project        string
	TriggerType    string
	Pattern        string
	RecallTopic    string
	CategoryFilter string
	Priority       int
	IsActive       bool
	TriggerCount   int
	LastTriggered  *time.Time
}

// InsertContextTrigger persists a new trigger.
func (s *Store) InsertContextTrigger(t *ContextTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO context_triggers (id, project, trigger_type, pattern, recall_topic, category_filter, priority, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Project, t.TriggerType, t.Pattern, t.RecallTopic, t.CategoryFilter, t.Priority, t.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert context trigger: %w", err)
	}
	return nil
}

// ActiveContextTriggers returns all active triggers for a project.
func (s *Store) ActiveContextTriggers(project string) ([]*ContextTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project, trigger_type, pattern, recall_topic, category_filter, priority, is_active, trigger_count, last_triggered
		 FROM context_triggers WHERE project = ? AND is_active = 1 ORDER BY priority DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list context triggers: %w", err)
	}
	defer rows.Close()

	var out []*ContextTrigger
	for rows.Next() {
		var t ContextTrigger
		var lastTriggered sql.NullTime
		if err := rows.Scan(&t.ID, &t.Project, &t.TriggerType, &t.Pattern, &t.RecallTopic, &t.CategoryFilter,
			&t.Priority, &t.IsActive, &t.TriggerCount, &lastTriggered); err != nil {
			continue
		}
		if lastTriggered.Valid {
			tm := lastTriggered.Time
			t.LastTriggered = &tm
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// AllContextTriggers returns every trigger for a project, active or not.
func (s *Store) AllContextTriggers(project string) ([]*ContextTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project, trigger_type, pattern, recall_topic, category_filter, priority, is_active, trigger_count, last_triggered
		 FROM context_triggers WHERE project = ? ORDER BY priority DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list context triggers: %w", err)
	}
	defer rows.Close()

	var out []*ContextTrigger
	for rows.Next() {
		var t ContextTrigger
		var lastTriggered sql.NullTime
		if err := rows.Scan(&t.ID, &t.Project, &t.TriggerType, &t.Pattern, &t.RecallTopic, &t.CategoryFilter,
			&t.Priority, &t.IsActive, &t.TriggerCount, &lastTriggered); err != nil {
			continue
		}
		if lastTriggered.Valid {
			tm := lastTriggered.Time
			t.LastTriggered = &tm
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteContextTrigger removes a trigger permanently.
func (s *Store) DeleteContextTrigger(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM context_triggers WHERE id = ?`, id)
	return err
}

// RecordTrigger increments the fire count and stamps last_triggered.
func (s *Store) RecordTrigger(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE context_triggers SET trigger_count = trigger_count + 1, last_triggered = CURRENT_TIMESTAMP WHERE id = ?`,
		id)
	return err
}
