package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BM25.K1 != 1.5 || cfg.BM25.B != 0.75 {
		t.Errorf("unexpected bm25 defaults: k1=%v b=%v", cfg.BM25.K1, cfg.BM25.B)
	}
	if cfg.RRF.K != 60 {
		t.Errorf("expected rrf k=60, got %d", cfg.RRF.K)
	}
	if cfg.Storage.Root == "" {
		t.Error("expected non-empty default storage root")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg.BM25.K1 != 1.5 {
		t.Errorf("expected defaults when file missing, got k1=%v", cfg.BM25.K1)
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Name = "test-instance"
	cfg.BM25.K1 = 2.0

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != "test-instance" {
		t.Errorf("expected name=test-instance, got %q", loaded.Name)
	}
	if loaded.BM25.K1 != 2.0 {
		t.Errorf("expected bm25.k1=2.0, got %v", loaded.BM25.K1)
	}
}

func TestEnvOverride_DebugMode(t *testing.T) {
	t.Setenv("DAEM0N_DEBUG", "true")
	t.Setenv("DEVILMCP_TOOL_EXECUTION_ENABLED", "1")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if !cfg.Logging.DebugMode {
		t.Error("expected DAEM0N_DEBUG=true to enable debug mode")
	}
}

func TestEnvOverride_SubprocessDisabledByDefault(t *testing.T) {
	os.Unsetenv("DEVILMCP_TOOL_EXECUTION_ENABLED")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Subprocess.Allowed != nil {
		t.Error("expected subprocess execution to be disabled without DEVILMCP_TOOL_EXECUTION_ENABLED")
	}
}

func TestDatabasePathAndLogsDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Root = "/tmp/proj/.daem0n"
	cfg.Storage.DatabaseFile = "memory.db"

	if got := cfg.DatabasePath(); got != "/tmp/proj/.daem0n/memory.db" {
		t.Errorf("unexpected database path: %s", got)
	}
	if got := cfg.LogsDir(); got != "/tmp/proj/.daem0n/logs" {
		t.Errorf("unexpected logs dir: %s", got)
	}
}
