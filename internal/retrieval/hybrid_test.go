package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/bm25"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/config"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertAndIndex(t *testing.T, s *store.Store, e *Engine, project, content string, tags []string) string {
	t.Helper()
	m := &store.Memory{
		ID:       uuid.NewString(),
		Project:  project,
		Category: "decision",
		Content:  content,
		Tags:     tags,
		Worked:   store.WorkedUnknown,
	}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("failed to insert memory: %v", err)
	}
	if err := e.IndexMemory(context.Background(), m); err != nil {
		t.Fatalf("failed to index memory: %v", err)
	}
	return m.ID
}

func TestSearch_EmptyQueryReturnsEmptyNotError(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, nil, nil, config.DefaultConfig().RRF, bm25.DefaultConfig())

	results, err := e.Search(context.Background(), "proj", "", 10, Filter{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestSearch_FindsLexicalAndFTSMatches(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, nil, nil, config.DefaultConfig().RRF, bm25.DefaultConfig())

	id1 := insertAndIndex(t, s, e, "proj", "retry the flaky network connection with exponential backoff", nil)
	insertAndIndex(t, s, e, "proj", "unrelated memory about database migrations", nil)

	results, err := e.Search(context.Background(), "proj", "exponential backoff retry", 10, Filter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].ID != id1 {
		t.Errorf("expected %s to rank first, got %s", id1, results[0].ID)
	}
}

func TestSearch_FiltersByCategory(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, nil, nil, config.DefaultConfig().RRF, bm25.DefaultConfig())

	m := &store.Memory{ID: uuid.NewString(), Project: "proj", Category: "warning", Content: "watch out for the race condition here", Worked: store.WorkedUnknown}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := e.IndexMemory(context.Background(), m); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	results, err := e.Search(context.Background(), "proj", "race condition", 10, Filter{Categories: []string{"decision"}})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		if r.ID == m.ID {
			t.Errorf("expected warning-category memory to be filtered out")
		}
	}
}

func TestSearch_PinnedBonusOutranksHigherBaseScore(t *testing.T) {
	s := openTestStore(t)
	rrf := config.DefaultConfig().RRF
	rrf.PinnedEnabled = true
	e := NewEngine(s, nil, nil, rrf, bm25.DefaultConfig())

	pinnedID := insertAndIndex(t, s, e, "proj", "deploy pipeline notes", nil)
	insertAndIndex(t, s, e, "proj", "deploy pipeline notes deploy pipeline notes", nil)

	if err := s.SetPinned(pinnedID, true); err != nil {
		t.Fatalf("failed to pin: %v", err)
	}

	results, err := e.Search(context.Background(), "proj", "deploy pipeline", 10, Filter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].ID != pinnedID {
		t.Errorf("expected pinned memory to rank first, got %s", results[0].ID)
	}
}

func TestReweight_PinnedAddsBonus(t *testing.T) {
	rrf := config.RRFConfig{PinnedEnabled: true, PinnedBonus: 500}
	e := &Engine{rrf: rrf}
	m := &store.Memory{Pinned: true}
	if got := e.reweight(1.0, m); got != 501.0 {
		t.Errorf("expected 501.0, got %f", got)
	}
}
