package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	for _, table := range []string{"memories", "memory_versions", "rules", "entities", "memory_edges", "dream_sessions"} {
		if _, ok := stats[table]; !ok {
			t.Errorf("stats missing table %s", table)
		}
	}
}

func TestInsertAndGetMemory(t *testing.T) {
	s := openTestStore(t)
	m := &Memory{
		ID:       uuid.NewString(),
		Project:  "daem0nmcp",
		Category: "decision",
		Content:  "use WAL mode for the store",
		Tags:     []string{"sqlite", "storage"},
	}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected memory, got nil")
	}
	if got.Content != m.Content {
		t.Errorf("content = %q, want %q", got.Content, m.Content)
	}
	if got.Worked != WorkedUnknown {
		t.Errorf("worked = %q, want %q", got.Worked, WorkedUnknown)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v, want 2 entries", got.Tags)
	}
}

func TestGetMemory_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetMemory("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing memory, got %+v", got)
	}
}

func TestSearchFTS_FindsInsertedContent(t *testing.T) {
	s := openTestStore(t)
	m := &Memory{
		ID:       uuid.NewString(),
		Project:  "daem0nmcp",
		Category: "gotcha",
		Content:  "never call Stop twice on the same timer",
	}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	results, err := s.SearchFTS("timer", 10, "<b>", "</b>")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one FTS hit")
	}
	if results[0].MemoryID != m.ID {
		t.Errorf("hit id = %q, want %q", results[0].MemoryID, m.ID)
	}
}

func TestSearchFTS_StaysIndexedAfterUpdate(t *testing.T) {
	s := openTestStore(t)
	m := &Memory{ID: uuid.NewString(), Project: "p", Category: "c", Content: "unique_marker_token"}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.SetArchived(m.ID, true); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	results, err := s.SearchFTS("unique_marker_token", 10, "<b>", "</b>")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the row to remain indexed after an update, got %d hits", len(results))
	}
}

func TestInsertEdge_RejectsSelfLink(t *testing.T) {
	s := openTestStore(t)
	id := uuid.NewString()
	err := s.InsertEdge(&MemoryEdge{ID: uuid.NewString(), SourceID: id, TargetID: id, Relationship: "relates_to"})
	if err == nil {
		t.Fatal("expected self-link to be rejected")
	}
}

func TestQueryEdges_Directions(t *testing.T) {
	s := openTestStore(t)
	a, b := uuid.NewString(), uuid.NewString()
	if err := s.InsertEdge(&MemoryEdge{ID: uuid.NewString(), SourceID: a, TargetID: b, Relationship: "supersedes"}); err != nil {
		t.Fatalf("insert edge failed: %v", err)
	}

	out, err := s.QueryEdges(a, "outgoing")
	if err != nil || len(out) != 1 {
		t.Fatalf("outgoing edges = %v, err %v", out, err)
	}
	in, err := s.QueryEdges(b, "incoming")
	if err != nil || len(in) != 1 {
		t.Fatalf("incoming edges = %v, err %v", in, err)
	}
	none, err := s.QueryEdges(a, "incoming")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no incoming edges for a, got %v", none)
	}
}

func TestSetPinned_Idempotent(t *testing.T) {
	s := openTestStore(t)
	m := &Memory{ID: uuid.NewString(), Project: "p", Category: "c", Content: "pin me"}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.SetPinned(m.ID, true); err != nil {
		t.Fatalf("pin failed: %v", err)
	}
	if err := s.SetPinned(m.ID, true); err != nil {
		t.Fatalf("second pin failed: %v", err)
	}
	got, err := s.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Pinned {
		t.Error("expected memory to remain pinned")
	}
}

func TestFailedDecisions_Predicate(t *testing.T) {
	s := openTestStore(t)
	old := &Memory{ID: uuid.NewString(), Project: "p", Category: "decision", Content: "old failure", Worked: WorkedFalse}
	if err := s.InsertMemory(old); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	// backdate created_at so it clears the minAge cutoff
	if _, err := s.db.Exec(`UPDATE memories SET created_at = datetime('now', '-48 hours') WHERE id = ?`, old.ID); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	recent := &Memory{ID: uuid.NewString(), Project: "p", Category: "decision", Content: "recent failure", Worked: WorkedFalse}
	if err := s.InsertMemory(recent); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	succeeded := &Memory{ID: uuid.NewString(), Project: "p", Category: "decision", Content: "worked fine", Worked: WorkedTrue}
	if err := s.InsertMemory(succeeded); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE memories SET created_at = datetime('now', '-48 hours') WHERE id = ?`, succeeded.ID); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	got, err := s.FailedDecisions("p", 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Fatalf("expected exactly the backdated failure, got %+v", got)
	}
}

func TestUpsertEntity_DedupsAndCountsMentions(t *testing.T) {
	s := openTestStore(t)
	e := &Entity{ID: uuid.NewString(), Project: "p", Type: "file", Name: "retrieval.go"}
	id1, err := s.UpsertEntity(e)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	id2, err := s.UpsertEntity(&Entity{Project: "p", Type: "file", Name: "retrieval.go"})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same entity id on dedup, got %s and %s", id1, id2)
	}

	got, err := s.EntityByName("p", "file", "retrieval.go")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got == nil || got.MentionCount != 2 {
		t.Fatalf("expected mention_count 2, got %+v", got)
	}
}

func TestSessionState_PendingDecisionLifecycle(t *testing.T) {
	s := openTestStore(t)
	sessionID := uuid.NewString()
	if _, err := s.GetOrCreateSession(sessionID, "p"); err != nil {
		t.Fatalf("create session failed: %v", err)
	}

	memID := uuid.NewString()
	if err := s.AddPendingDecision(sessionID, memID); err != nil {
		t.Fatalf("add pending failed: %v", err)
	}
	row, err := s.GetSession(sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if len(row.PendingDecisions) != 1 || row.PendingDecisions[0] != memID {
		t.Fatalf("expected one pending decision, got %v", row.PendingDecisions)
	}

	if err := s.RemovePendingDecision(sessionID, memID); err != nil {
		t.Fatalf("remove pending failed: %v", err)
	}
	row, err = s.GetSession(sessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if len(row.PendingDecisions) != 0 {
		t.Fatalf("expected pending decisions to be cleared, got %v", row.PendingDecisions)
	}
}
