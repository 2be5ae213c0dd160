package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"

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

func insertTestMemory(t *testing.T, s *store.Store, project, content string) string {
	t.Helper()
	m := &store.Memory{
		ID:      uuid.NewString(),
		Project: project,
		Category: "decision",
		Content: content,
		Worked:  store.WorkedUnknown,
	}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("failed to insert memory: %v", err)
	}
	return m.ID
}

func TestIndexMemoryEntities_CreatesAndLinksEntities(t *testing.T) {
	s := openTestStore(t)
	memID := insertTestMemory(t, s, "proj", "Call authenticate_user() from src/auth/service.py")

	if err := IndexMemoryEntities(s, "proj", memID, "Call authenticate_user() from src/auth/service.py"); err != nil {
		t.Fatalf("IndexMemoryEntities failed: %v", err)
	}

	entities, err := s.EntitiesForMemory(memID)
	if err != nil {
		t.Fatalf("EntitiesForMemory failed: %v", err)
	}
	if len(entities) == 0 {
		t.Fatal("expected at least one linked entity")
	}

	found := false
	for _, e := range entities {
		if e.Name == "authenticate_user" && e.Type == string(EntityFunction) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected authenticate_user function entity among %+v", entities)
	}
}

func TestIndexMemoryEntities_DedupsAcrossMemories(t *testing.T) {
	s := openTestStore(t)
	content := "authenticate_user() is the entry point"
	mem1 := insertTestMemory(t, s, "proj", content)
	mem2 := insertTestMemory(t, s, "proj", content)

	if err := IndexMemoryEntities(s, "proj", mem1, content); err != nil {
		t.Fatalf("first index failed: %v", err)
	}
	if err := IndexMemoryEntities(s, "proj", mem2, content); err != nil {
		t.Fatalf("second index failed: %v", err)
	}

	e, err := s.EntityByName("proj", string(EntityFunction), "authenticate_user")
	if err != nil {
		t.Fatalf("EntityByName failed: %v", err)
	}
	if e == nil {
		t.Fatal("expected entity to exist")
	}
	if e.MentionCount != 2 {
		t.Errorf("expected mention count 2, got %d", e.MentionCount)
	}
}

func TestRebuildCommunities_PersistsCommunitiesForConnectedMemories(t *testing.T) {
	s := openTestStore(t)
	m1 := insertTestMemory(t, s, "proj", "first decision")
	m2 := insertTestMemory(t, s, "proj", "second decision")
	m3 := insertTestMemory(t, s, "proj", "third decision")

	if err := s.InsertEdge(&store.MemoryEdge{ID: uuid.NewString(), SourceID: m1, TargetID: m2, Relationship: "relates_to", Confidence: 1.0}); err != nil {
		t.Fatalf("failed to insert edge: %v", err)
	}
	if err := s.InsertEdge(&store.MemoryEdge{ID: uuid.NewString(), SourceID: m2, TargetID: m3, Relationship: "relates_to", Confidence: 1.0}); err != nil {
		t.Fatalf("failed to insert edge: %v", err)
	}

	if err := RebuildCommunities(context.Background(), s, "proj", 1.0, 7, nil); err != nil {
		t.Fatalf("RebuildCommunities failed: %v", err)
	}

	communities, err := s.CommunitiesByLevel("proj", 0)
	if err != nil {
		t.Fatalf("CommunitiesByLevel failed: %v", err)
	}
	if len(communities) == 0 {
		t.Fatal("expected at least one community")
	}

	total := 0
	for _, c := range communities {
		total += len(c.MemberIDs)
		if c.Summary == "" {
			t.Error("expected non-empty summary")
		}
	}
	if total != 3 {
		t.Errorf("expected all 3 connected memories assigned, got %d", total)
	}
}
