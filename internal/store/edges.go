package store

import "fmt"

// MemoryEdge is a typed directed relationship between two memories (§3).
type MemoryEdge struct {
	ID           string
	SourceID     string
	TargetID     string
	Relationship string
	Confidence   float64
	Description  string
}

// InsertEdge creates an edge. Self-links are rejected per §4.6's invariant.
func (s *Store) InsertEdge(e *MemoryEdge) error {
	if e.SourceID == e.TargetID {
		return fmt.Errorf("self-links are not allowed: %s", e.SourceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO memory_edges (id, source_id, target_id, relationship, confidence, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceID, e.TargetID, e.Relationship, e.Confidence, e.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return s.TouchLastUpdate("memory_edges")
}

// DeleteEdge removes an edge; relationship empty matches any relationship
// between the two memories (unlink semantics from §4.8).
func (s *Store) DeleteEdge(sourceID, targetID, relationship string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if relationship == "" {
		_, err := s.db.Exec(
			`DELETE FROM memory_edges WHERE source_id = ? AND target_id = ?`, sourceID, targetID)
		return err
	}
	_, err := s.db.Exec(
		`DELETE FROM memory_edges WHERE source_id = ? AND target_id = ? AND relationship = ?`,
		sourceID, targetID, relationship)
	return err
}

// queryEdgesLocked executes an edge query assuming the caller already
// holds at least s.mu.RLock(); avoids the nested-RLock deadlock risk the
// teacher's knowledge-graph traversal guards against.
func (s *Store) queryEdgesLocked(memoryID, direction string) ([]*MemoryEdge, error) {
	var query string
	switch direction {
	case "outgoing":
		query = `SELECT id, source_id, target_id, relationship, confidence, description FROM memory_edges WHERE source_id = ?`
	case "incoming":
		query = `SELECT id, source_id, target_id, relationship, confidence, description FROM memory_edges WHERE target_id = ?`
	default:
		query = `SELECT id, source_id, target_id, relationship, confidence, description FROM memory_edges WHERE source_id = ? OR target_id = ?`
	}

	var args []interface{}
	if direction == "outgoing" || direction == "incoming" {
		args = []interface{}{memoryID}
	} else {
		args = []interface{}{memoryID, memoryID}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*MemoryEdge
	for rows.Next() {
		var e MemoryEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relationship, &e.Confidence, &e.Description); err != nil {
			continue
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// QueryEdges returns edges touching memoryID in the given direction
// ("outgoing", "incoming", or "both").
func (s *Store) QueryEdges(memoryID, direction string) ([]*MemoryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEdgesLocked(memoryID, direction)
}

// AllEdges returns every edge for a project's memories, used to build the
// in-memory graph for community detection (C6).
func (s *Store) AllEdges(project string) ([]*MemoryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT me.id, me.source_id, me.target_id, me.relationship, me.confidence, me.description
		 FROM memory_edges me
		 JOIN memories m ON m.id = me.source_id
		 WHERE m.project = ?`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to query all edges: %w", err)
	}
	defer rows.Close()

	var edges []*MemoryEdge
	for rows.Next() {
		var e MemoryEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relationship, &e.Confidence, &e.Description); err != nil {
			continue
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
