package store

import "fmt"

// CurrentSchemaVersion is bumped whenever createSchema or the migrations
// table adds a new table/column. Open refuses to run against a database
// whose recorded version is newer than this binary knows (see migrations.go).
const CurrentSchemaVersion = 1

var coreTables = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		category TEXT NOT NULL,
		content TEXT NOT NULL,
		rationale TEXT,
		context TEXT,
		tags TEXT,
		file_path TEXT,
		outcome TEXT,
		worked TEXT NOT NULL DEFAULT 'unknown',
		pinned INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		importance_score REAL NOT NULL DEFAULT 0,
		surprise_score REAL NOT NULL DEFAULT 0,
		source_client TEXT,
		source_model TEXT,
		happened_at DATETIME,
		embedding BLOB,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(project, category)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_file_path ON memories(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_archived ON memories(archived)`,

	`CREATE TABLE IF NOT EXISTS memory_versions (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL REFERENCES memories(id),
		version_number INTEGER NOT NULL,
		content TEXT NOT NULL,
		rationale TEXT,
		context TEXT,
		tags TEXT,
		outcome TEXT,
		worked TEXT NOT NULL DEFAULT 'unknown',
		change_type TEXT NOT NULL,
		change_description TEXT,
		changed_at DATETIME NOT NULL,
		valid_from DATETIME,
		valid_to DATETIME,
		invalidated_by_version_id TEXT,
		UNIQUE(memory_id, version_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_memory ON memory_versions(memory_id)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_valid_to ON memory_versions(memory_id, valid_to)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_changed_at ON memory_versions(changed_at)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		trigger_phrase TEXT NOT NULL,
		must_do TEXT,
		must_not TEXT,
		ask_first TEXT,
		warnings TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_project ON rules(project, enabled)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		qualified_name TEXT,
		mention_count INTEGER NOT NULL DEFAULT 0,
		code_entity_id TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(project, type, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project)`,

	`CREATE TABLE IF NOT EXISTS memory_entity_refs (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL REFERENCES memories(id),
		entity_id TEXT NOT NULL REFERENCES entities(id),
		relationship TEXT NOT NULL,
		context_snippet TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(memory_id, entity_id, relationship)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_memory ON memory_entity_refs(memory_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_entity ON memory_entity_refs(entity_id)`,

	`CREATE TABLE IF NOT EXISTS memory_edges (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES memories(id),
		target_id TEXT NOT NULL REFERENCES memories(id),
		relationship TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		description TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_id, target_id, relationship)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_source ON memory_edges(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_target ON memory_edges(target_id)`,

	`CREATE TABLE IF NOT EXISTS communities (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		parent_community_id TEXT,
		member_ids TEXT NOT NULL,
		key_entities TEXT,
		summary TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_communities_project ON communities(project, level)`,

	`CREATE TABLE IF NOT EXISTS session_state (
		session_id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		briefed INTEGER NOT NULL DEFAULT 0,
		context_checks TEXT NOT NULL DEFAULT '[]',
		pending_decisions TEXT NOT NULL DEFAULT '[]',
		last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_project ON session_state(project)`,

	`CREATE TABLE IF NOT EXISTS context_triggers (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		pattern TEXT NOT NULL,
		recall_topic TEXT NOT NULL,
		category_filter TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		trigger_count INTEGER NOT NULL DEFAULT 0,
		last_triggered DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_project ON context_triggers(project, is_active)`,

	`CREATE TABLE IF NOT EXISTS active_context (
		session_id TEXT NOT NULL,
		memory_id TEXT NOT NULL REFERENCES memories(id),
		project TEXT NOT NULL,
		expires_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, memory_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_active_context_session ON active_context(session_id)`,

	`CREATE TABLE IF NOT EXISTS background_tasks (
		task_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		project TEXT,
		state TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		started_at DATETIME,
		completed_at DATETIME,
		error TEXT,
		result TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_state ON background_tasks(state)`,

	`CREATE TABLE IF NOT EXISTS dream_sessions (
		session_id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		strategies_run TEXT NOT NULL DEFAULT '[]',
		decisions_reviewed INTEGER NOT NULL DEFAULT 0,
		insights_generated INTEGER NOT NULL DEFAULT 0,
		interrupted INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dream_sessions_project ON dream_sessions(project)`,

	`CREATE TABLE IF NOT EXISTS dream_results (
		id TEXT PRIMARY KEY,
		dream_session_id TEXT NOT NULL REFERENCES dream_sessions(session_id),
		source_decision_id TEXT NOT NULL,
		original_content TEXT,
		original_outcome TEXT,
		insight TEXT,
		result_type TEXT NOT NULL,
		evidence_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dream_results_session ON dream_results(dream_session_id)`,

	`CREATE TABLE IF NOT EXISTS last_update (
		entity_class TEXT PRIMARY KEY,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS schema_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`,
}

func (s *Store) createSchema() error {
	for _, stmt := range coreTables {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed (%.60s...): %w", stmt, err)
		}
	}
	if err := s.createFTS(); err != nil {
		return fmt.Errorf("fts schema failed: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_meta WHERE id = 1").Scan(&version)
	if err != nil {
		// no row yet -- fresh database, stamp the current version
		_, err = s.db.Exec("INSERT OR IGNORE INTO schema_meta (id, version) VALUES (1, ?)", CurrentSchemaVersion)
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than this binary understands (%d)", version, CurrentSchemaVersion)
	}
	return nil
}

// TouchLastUpdate records that entityClass changed, for the change-feed
// that the (out-of-core) UI polling layer consults.
func (s *Store) TouchLastUpdate(entityClass string) error {
	_, err := s.db.Exec(
		`INSERT INTO last_update (entity_class, updated_at) VALUES (?, CURRENT_TIMESTAMP)
		 ON CONFLICT(entity_class) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		entityClass,
	)
	return err
}
