package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Entity is an extracted symbol (§3, §4.6).
type Entity struct {
	ID            string
	Project       string
	Type          string
	Name          string
	QualifiedName string
	MentionCount  int
	CodeEntityID  string
}

// MemoryEntityRef links a memory to an entity it mentions (§3).
type MemoryEntityRef struct {
	ID             string
	MemoryID       string
	EntityID       string
	Relationship   string
	ContextSnippet string
}

// UpsertEntity inserts an entity or, if (project, type, name) already
// exists, increments its mention count and returns the existing id.
func (s *Store) UpsertEntity(e *Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID string
	err := s.db.QueryRow(
		`SELECT id FROM entities WHERE project = ? AND type = ? AND name = ?`,
		e.Project, e.Type, e.Name,
	).Scan(&existingID)

	if err == nil {
		_, err = s.db.Exec(
			`UPDATE entities SET mention_count = mention_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			existingID)
		return existingID, err
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up entity: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO entities (id, project, type, name, qualified_name, mention_count, code_entity_id)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		e.ID, e.Project, e.Type, e.Name, e.QualifiedName, e.CodeEntityID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert entity: %w", err)
	}
	return e.ID, nil
}

// InsertRef links a memory to an entity with a context snippet; it is a
// no-op if the (memory, entity, relationship) triple already exists.
func (s *Store) InsertRef(r *MemoryEntityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO memory_entity_refs (id, memory_id, entity_id, relationship, context_snippet)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.MemoryID, r.EntityID, r.Relationship, r.ContextSnippet,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory-entity ref: %w", err)
	}
	return nil
}

// EntityByName looks up an entity by (project, type, name).
func (s *Store) EntityByName(project, typ, name string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Entity
	err := s.db.QueryRow(
		`SELECT id, project, type, name, qualified_name, mention_count, code_entity_id
		 FROM entities WHERE project = ? AND type = ? AND name = ?`,
		project, typ, name,
	).Scan(&e.ID, &e.Project, &e.Type, &e.Name, &e.QualifiedName, &e.MentionCount, &e.CodeEntityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity: %w", err)
	}
	return &e, nil
}

// EntityByID looks up an entity by its primary key.
func (s *Store) EntityByID(id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Entity
	err := s.db.QueryRow(
		`SELECT id, project, type, name, qualified_name, mention_count, code_entity_id
		 FROM entities WHERE id = ?`, id,
	).Scan(&e.ID, &e.Project, &e.Type, &e.Name, &e.QualifiedName, &e.MentionCount, &e.CodeEntityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity by id: %w", err)
	}
	return &e, nil
}

// MemoryIDsForEntityID returns the distinct memory ids referencing an
// entity by its primary key (trace_knowledge_evolution's starting point).
func (s *Store) MemoryIDsForEntityID(entityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT memory_id FROM memory_entity_refs WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories for entity id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MemoriesForEntity returns the ids of memories referencing the given
// entity name (optionally filtered by type), most-recently-referenced
// order not guaranteed.
func (s *Store) MemoriesForEntity(project, name, typ string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT DISTINCT r.memory_id FROM memory_entity_refs r
		JOIN entities e ON e.id = r.entity_id
		WHERE e.project = ? AND e.name = ?`
	args := []interface{}{project, name}
	if typ != "" {
		query += " AND e.type = ?"
		args = append(args, typ)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories for entity: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EntitiesForProject returns every entity extracted for a project,
// highest mention count first, optionally filtered by a case-insensitive
// substring of the entity name.
func (s *Store) EntitiesForProject(project, nameContains string, limit int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, project, type, name, qualified_name, mention_count, code_entity_id
		FROM entities WHERE project = ?`
	args := []interface{}{project}
	if nameContains != "" {
		query += " AND name LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(nameContains)+"%")
	}
	query += " ORDER BY mention_count DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Project, &e.Type, &e.Name, &e.QualifiedName, &e.MentionCount, &e.CodeEntityID); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

// EntitiesForMemory returns every entity a memory references.
func (s *Store) EntitiesForMemory(memoryID string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT e.id, e.project, e.type, e.name, e.qualified_name, e.mention_count, e.code_entity_id
		 FROM memory_entity_refs r JOIN entities e ON e.id = r.entity_id
		 WHERE r.memory_id = ?`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities for memory: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Project, &e.Type, &e.Name, &e.QualifiedName, &e.MentionCount, &e.CodeEntityID); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
