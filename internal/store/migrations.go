package store

import (
	"database/sql"
	"fmt"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Migration describes one idempotent ADD COLUMN migration: apply it only
// if Table exists and Column is absent.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations is the flat, append-only list of schema deltas applied
// to databases created by older binaries. Each entry is evaluated every
// startup and skipped if already applied -- running migrations twice
// applies zero new migrations on the second run.
var pendingMigrations = []Migration{
	// Example shape kept for future additions:
	// {"memories", "importance_score", "REAL NOT NULL DEFAULT 0"},
}

// RunMigrations applies any pending idempotent migrations. A single
// migration failing is logged and skipped rather than aborting startup.
func RunMigrations(db *sql.DB) error {
	applied := 0
	skipped := 0
	for _, m := range pendingMigrations {
		exists, err := tableExists(db, m.Table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", m.Table, err)
		}
		if !exists {
			skipped++
			continue
		}
		has, err := columnExists(db, m.Table, m.Column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.Table, m.Column, err)
		}
		if has {
			skipped++
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			logging.Get(logging.CategoryStore).Warn("migration failed for %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
	}
	logging.Get(logging.CategoryStore).Debug("migrations complete: applied=%d skipped=%d", applied, skipped)
	return nil
}

func tableExists(db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
