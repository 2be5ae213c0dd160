package store

import (
	"fmt"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// createFTS creates the contentless FTS5 virtual table mirroring memories
// and the three triggers that keep it in sync within the same transaction
// as the source row (C4). FTS5 is compiled into mattn/go-sqlite3.
func (s *Store) createFTS() error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			id UNINDEXED,
			content,
			rationale,
			tags,
			content='memories',
			content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, id, content, rationale, tags)
			VALUES (new.rowid, new.id, new.content, new.rationale, new.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, id, content, rationale, tags)
			VALUES ('delete', old.rowid, old.id, old.content, old.rationale, old.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, id, content, rationale, tags)
			VALUES ('delete', old.rowid, old.id, old.content, old.rationale, old.tags);
			INSERT INTO memories_fts(rowid, id, content, rationale, tags)
			VALUES (new.rowid, new.id, new.content, new.rationale, new.tags);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// FTSResult is one full-text match with an optional highlighted snippet.
type FTSResult struct {
	MemoryID string
	Rank     float64
	Snippet  string
}

// SearchFTS runs an FTS5 MATCH query ranked by the built-in bm25() function,
// returning up to limit results with a caller-delimited snippet.
func (s *Store) SearchFTS(query string, limit int, leftDelim, rightDelim string) ([]FTSResult, error) {
	timer := logging.StartTimer(logging.CategoryFTS, "SearchFTS")
	defer timer.Stop()

	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if leftDelim == "" {
		leftDelim = "["
	}
	if rightDelim == "" {
		rightDelim = "]"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, bm25(memories_fts) AS rank, snippet(memories_fts, 1, ?, ?, '...', 12)
		 FROM memories_fts WHERE memories_fts MATCH ? ORDER BY rank LIMIT ?`,
		leftDelim, rightDelim, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	defer rows.Close()

	var results []FTSResult
	for rows.Next() {
		var r FTSResult
		if err := rows.Scan(&r.MemoryID, &r.Rank, &r.Snippet); err != nil {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
