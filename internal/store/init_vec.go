//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Auto() registers a connect hook with mattn/go-sqlite3 that loads the
	// vec0 extension into every new connection, so detectVecExtension's
	// CREATE VIRTUAL TABLE ... USING vec0(...) probe succeeds.
	vec.Auto()
}
