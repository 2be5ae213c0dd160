// Package vectorindex implements the persistent dense-vector index (C3):
// a vec0 virtual table keyed by memory id when sqlite-vec is available,
// falling back to brute-force cosine search over an in-memory cache when
// it isn't -- the same degrade-gracefully behavior store.Open logs at
// startup.
package vectorindex

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/embedding"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Store is the subset of *store.Store the index needs; kept as an
// interface to avoid an import cycle between store and vectorindex.
type Store interface {
	DB() *sql.DB
	Lock()
	Unlock()
	RLock()
	RUnlock()
	HasVectorExtension() bool
}

// Index wraps a store.Store's vec0 table (or an in-memory fallback) and
// exposes the metadata-filtered cosine search C5 fans out to.
type Index struct {
	store Store
	dim   int

	mu       sync.RWMutex
	fallback map[string]cachedVec // used only when HasVectorExtension() is false
}

type cachedVec struct {
	vec      []float32
	project  string
	category string
	tags     []string
	filePath string
}

// Metadata is the filterable side-table carried alongside each embedding.
type Metadata struct {
	Project  string
	Category string
	Tags     []string
	FilePath string
}

// Result is one ranked hit.
type Result struct {
	MemoryID string
	Score    float64 // cosine similarity, higher is better
}

// New creates an index bound to a store and the deployment's embedding
// dimension. It creates the vec0 table eagerly when the extension loaded.
func New(s Store, dim int) (*Index, error) {
	idx := &Index{store: s, dim: dim, fallback: make(map[string]cachedVec)}
	if s.HasVectorExtension() {
		s.Lock()
		defer s.Unlock()
		stmt := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(embedding float[%d])`, dim)
		if _, err := s.DB().Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create vec0 table: %w", err)
		}
		if _, err := s.DB().Exec(
			`CREATE TABLE IF NOT EXISTS vec_memory_meta (
				memory_id TEXT PRIMARY KEY,
				rowid_ref INTEGER NOT NULL,
				project TEXT NOT NULL,
				category TEXT,
				tags TEXT,
				file_path TEXT
			)`); err != nil {
			return nil, fmt.Errorf("failed to create vector metadata table: %w", err)
		}
	}
	return idx, nil
}

func encodeVector(v []float32) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(v) * 4)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// Upsert stores (or replaces) the embedding for a memory id.
func (idx *Index) Upsert(id string, vec []float32, meta Metadata) error {
	timer := logging.StartTimer(logging.CategoryVector, "Upsert")
	defer timer.Stop()

	if idx.store.HasVectorExtension() {
		return idx.upsertVec0(id, vec, meta)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.fallback[id] = cachedVec{vec: vec, project: meta.Project, category: meta.Category, tags: meta.Tags, filePath: meta.FilePath}
	return nil
}

func (idx *Index) upsertVec0(id string, vec []float32, meta Metadata) error {
	idx.store.Lock()
	defer idx.store.Unlock()

	tagsJSON, _ := json.Marshal(meta.Tags)
	blob := encodeVector(vec)

	tx, err := idx.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin vector upsert transaction: %w", err)
	}
	defer tx.Rollback()

	var existingRowID sql.NullInt64
	err = tx.QueryRow(`SELECT rowid_ref FROM vec_memory_meta WHERE memory_id = ?`, id).Scan(&existingRowID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to look up existing vector row: %w", err)
	}
	if existingRowID.Valid {
		if _, err := tx.Exec(`DELETE FROM vec_memories WHERE rowid = ?`, existingRowID.Int64); err != nil {
			return fmt.Errorf("failed to clear stale vector row: %w", err)
		}
	}

	res, err := tx.Exec(`INSERT INTO vec_memories (embedding) VALUES (?)`, blob)
	if err != nil {
		return fmt.Errorf("failed to insert vector: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted vector rowid: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO vec_memory_meta (memory_id, rowid_ref, project, category, tags, file_path)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(memory_id) DO UPDATE SET rowid_ref = excluded.rowid_ref, project = excluded.project,
			category = excluded.category, tags = excluded.tags, file_path = excluded.file_path`,
		id, rowID, meta.Project, meta.Category, string(tagsJSON), meta.FilePath,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vector metadata: %w", err)
	}
	return tx.Commit()
}

// Remove drops a memory's embedding from the index.
func (idx *Index) Remove(id string) error {
	if idx.store.HasVectorExtension() {
		idx.store.Lock()
		defer idx.store.Unlock()
		var rowID int64
		err := idx.store.DB().QueryRow(`SELECT rowid_ref FROM vec_memory_meta WHERE memory_id = ?`, id).Scan(&rowID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up vector row: %w", err)
		}
		if _, err := idx.store.DB().Exec(`DELETE FROM vec_memories WHERE rowid = ?`, rowID); err != nil {
			return err
		}
		_, err = idx.store.DB().Exec(`DELETE FROM vec_memory_meta WHERE memory_id = ?`, id)
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.fallback, id)
	return nil
}

// Filter narrows a dense search to rows matching these optional fields.
type Filter struct {
	Project  string
	Category string
	Tags     []string
	FilePath string
}

// Search returns up to topK memory ids nearest to query (by cosine
// similarity, highest first) matching filter.
func (idx *Index) Search(query []float32, topK int, filter Filter) ([]Result, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Search")
	defer timer.Stop()

	if topK <= 0 {
		topK = 10
	}
	if idx.store.HasVectorExtension() {
		return idx.searchVec0(query, topK, filter)
	}
	return idx.searchFallback(query, topK, filter), nil
}

func (idx *Index) searchVec0(query []float32, topK int, filter Filter) ([]Result, error) {
	idx.store.RLock()
	defer idx.store.RUnlock()

	blob := encodeVector(query)

	where := []string{"m.project = ?"}
	args := []interface{}{filter.Project}
	if filter.Category != "" {
		where = append(where, "m.category = ?")
		args = append(args, filter.Category)
	}
	if filter.FilePath != "" {
		where = append(where, "m.file_path = ?")
		args = append(args, filter.FilePath)
	}
	for _, tag := range filter.Tags {
		where = append(where, "m.tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}

	sqlStr := fmt.Sprintf(
		`SELECT m.memory_id, vec_distance_cosine(v.embedding, ?) AS dist
		 FROM vec_memories v JOIN vec_memory_meta m ON m.rowid_ref = v.rowid
		 WHERE %s ORDER BY dist ASC LIMIT ?`, strings.Join(where, " AND "))
	args = append([]interface{}{blob}, args...)
	args = append(args, topK)

	rows, err := idx.store.DB().Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			continue
		}
		results = append(results, Result{MemoryID: id, Score: 1 - dist})
	}
	return results, rows.Err()
}

func (idx *Index) searchFallback(query []float32, topK int, filter Filter) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for id, c := range idx.fallback {
		if filter.Project != "" && c.project != filter.Project {
			continue
		}
		if filter.Category != "" && c.category != filter.Category {
			continue
		}
		if filter.FilePath != "" && c.filePath != filter.FilePath {
			continue
		}
		if len(filter.Tags) > 0 && !anyTagMatches(c.tags, filter.Tags) {
			continue
		}
		sim, err := embedding.CosineSimilarity(query, c.vec)
		if err != nil {
			continue
		}
		candidates = append(candidates, scored{id: id, score: sim})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{MemoryID: c.id, Score: c.score}
	}
	return out
}

func anyTagMatches(have, want []string) bool {
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

// AverageDistanceToNearest computes the surprise score (§4.8): average
// cosine distance from query to its k nearest existing embeddings.
// Returns 1.0 (maximally surprising) when the index is empty.
func (idx *Index) AverageDistanceToNearest(query []float32, project string, k int) (float64, error) {
	results, err := idx.Search(query, k, Filter{Project: project})
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 1.0, nil
	}
	var total float64
	for _, r := range results {
		total += 1 - r.Score
	}
	return total / float64(len(results)), nil
}
