package vectorindex

import (
	"database/sql"
	"testing"
)

// fakeStore implements the Store interface without sqlite-vec, exercising
// the brute-force fallback path.
type fakeStore struct{}

func (fakeStore) DB() *sql.DB            { return nil }
func (fakeStore) Lock()                  {}
func (fakeStore) Unlock()                {}
func (fakeStore) RLock()                 {}
func (fakeStore) RUnlock()               {}
func (fakeStore) HasVectorExtension() bool { return false }

func TestUpsertAndSearch_Fallback(t *testing.T) {
	idx, err := New(fakeStore{}, 3)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := idx.Upsert("a", []float32{1, 0, 0}, Metadata{Project: "p", Category: "decision"}); err != nil {
		t.Fatalf("upsert a failed: %v", err)
	}
	if err := idx.Upsert("b", []float32{0, 1, 0}, Metadata{Project: "p", Category: "gotcha"}); err != nil {
		t.Fatalf("upsert b failed: %v", err)
	}

	results, err := idx.Search([]float32{1, 0, 0}, 5, Filter{Project: "p"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 || results[0].MemoryID != "a" {
		t.Fatalf("expected a to rank first, got %+v", results)
	}
}

func TestSearch_FiltersByCategory(t *testing.T) {
	idx, _ := New(fakeStore{}, 3)
	_ = idx.Upsert("a", []float32{1, 0, 0}, Metadata{Project: "p", Category: "decision"})
	_ = idx.Upsert("b", []float32{0.99, 0.01, 0}, Metadata{Project: "p", Category: "gotcha"})

	results, err := idx.Search([]float32{1, 0, 0}, 5, Filter{Project: "p", Category: "gotcha"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].MemoryID != "b" {
		t.Fatalf("expected only b to match category filter, got %+v", results)
	}
}

func TestRemove_Fallback(t *testing.T) {
	idx, _ := New(fakeStore{}, 3)
	_ = idx.Upsert("a", []float32{1, 0, 0}, Metadata{Project: "p"})
	if err := idx.Remove("a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	results, err := idx.Search([]float32{1, 0, 0}, 5, Filter{Project: "p"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results after remove, got %+v", results)
	}
}

func TestAverageDistanceToNearest_EmptyIndexIsMaximallySurprising(t *testing.T) {
	idx, _ := New(fakeStore{}, 3)
	dist, err := idx.AverageDistanceToNearest([]float32{1, 0, 0}, "p", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist != 1.0 {
		t.Errorf("expected surprise 1.0 for an empty index, got %v", dist)
	}
}
