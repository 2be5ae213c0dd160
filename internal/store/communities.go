package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Community is a Leiden/Louvain-detected node set (§3).
type Community struct {
	ID                string
	Project           string
	Level             int
	ParentCommunityID string
	MemberIDs         []string
	KeyEntities       []string
	Summary           string
}

// ReplaceCommunities atomically swaps all communities at a given level for
// a project -- community detection always recomputes from scratch.
func (s *Store) ReplaceCommunities(project string, level int, communities []*Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM communities WHERE project = ? AND level = ?`, project, level); err != nil {
		return fmt.Errorf("failed to clear communities: %w", err)
	}

	for _, c := range communities {
		members, _ := json.Marshal(c.MemberIDs)
		keyEntities, _ := json.Marshal(c.KeyEntities)
		_, err := tx.Exec(
			`INSERT INTO communities (id, project, level, parent_community_id, member_ids, key_entities, summary)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, project, level, c.ParentCommunityID, string(members), string(keyEntities), c.Summary,
		)
		if err != nil {
			return fmt.Errorf("failed to insert community: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit communities: %w", err)
	}
	return s.TouchLastUpdate("communities")
}

// CommunitiesByLevel returns all communities for a project at a level.
func (s *Store) CommunitiesByLevel(project string, level int) ([]*Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project, level, parent_community_id, member_ids, key_entities, summary
		 FROM communities WHERE project = ? AND level = ?`, project, level)
	if err != nil {
		return nil, fmt.Errorf("failed to query communities: %w", err)
	}
	defer rows.Close()

	var out []*Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCommunity fetches one community by id.
func (s *Store) GetCommunity(id string) (*Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		`SELECT id, project, level, parent_community_id, member_ids, key_entities, summary
		 FROM communities WHERE id = ?`, id)
	c, err := scanCommunity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get community: %w", err)
	}
	return c, nil
}

func scanCommunity(row rowScanner) (*Community, error) {
	var c Community
	var parent sql.NullString
	var members, keyEntities string
	err := row.Scan(&c.ID, &c.Project, &c.Level, &parent, &members, &keyEntities, &c.Summary)
	if err != nil {
		return nil, err
	}
	c.ParentCommunityID = parent.String
	_ = json.Unmarshal([]byte(members), &c.MemberIDs)
	_ = json.Unmarshal([]byte(keyEntities), &c.KeyEntities)
	return &c, nil
}
