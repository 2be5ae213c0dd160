// Package store implements the relational store (C1) and the full-text
// index (C4): a single-file SQLite database per project, opened with WAL
// and a single writer connection.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Store is the durable, transactional, project-scoped memory store.
// All mutation goes through its exported methods; concurrent access is
// guarded by a single RWMutex enforcing single-writer SQLite discipline.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	vectorExt  bool
	requireVec bool
}

// Open creates or opens the SQLite database at path, applies pragmas,
// creates the schema if absent, and runs any pending migrations.
func Open(path string, requireVec bool) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryStore).Debug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryStore).Debug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Get(logging.CategoryStore).Debug("failed to set synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.Get(logging.CategoryStore).Debug("failed to enable foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path, requireVec: requireVec}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.detectVecExtension()
	if requireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available; rebuild with vec0 support or disable storage.require_vector")
	}
	if s.vectorExt {
		logging.Get(logging.CategoryStore).Info("sqlite-vec extension detected, dense index enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension unavailable; dense retrieval degraded to keyword-only fallback")
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for packages that need to run their
// own queries against the schema this package owns (temporal, graph,
// vectorindex). Callers must not run schema-mutating statements.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Lock/Unlock/RLock/RUnlock let cooperating packages (vectorindex, graph)
// participate in the same single-writer discipline without re-wrapping
// every call through Store methods.
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// HasVectorExtension reports whether sqlite-vec loaded successfully.
func (s *Store) HasVectorExtension() bool { return s.vectorExt }

func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// Stats returns row counts for the core tables, used by health checks.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := []string{
		"memories", "memory_versions", "rules", "entities",
		"memory_entity_refs", "memory_edges", "communities",
		"session_state", "context_triggers", "background_tasks",
		"dream_sessions", "dream_results",
	}
	stats := make(map[string]int64, len(tables))
	for _, t := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err != nil {
			continue
		}
		stats[t] = count
	}
	return stats, nil
}
