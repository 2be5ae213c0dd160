package temporal

import (
	"testing"
	"time"

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

func insertMemory(t *testing.T, s *store.Store, project, content string) string {
	t.Helper()
	m := &store.Memory{ID: uuid.NewString(), Project: project, Category: "decision", Content: content, Worked: store.WorkedUnknown}
	if err := s.InsertMemory(m); err != nil {
		t.Fatalf("failed to insert memory: %v", err)
	}
	return m.ID
}

func TestRecordVersion_AssignsSequentialNumbers(t *testing.T) {
	s := openTestStore(t)
	memID := insertMemory(t, s, "proj", "initial")

	v1, err := RecordVersion(s, NewVersion{MemoryID: memID, Content: "initial", ChangeType: "create"})
	if err != nil {
		t.Fatalf("RecordVersion failed: %v", err)
	}
	if v1.VersionNumber != 1 {
		t.Errorf("expected version 1, got %d", v1.VersionNumber)
	}

	v2, err := RecordVersion(s, NewVersion{MemoryID: memID, Content: "revised", ChangeType: "update"})
	if err != nil {
		t.Fatalf("RecordVersion failed: %v", err)
	}
	if v2.VersionNumber != 2 {
		t.Errorf("expected version 2, got %d", v2.VersionNumber)
	}
}

func TestInvalidatePrior_ClosesOlderOpenVersions(t *testing.T) {
	s := openTestStore(t)
	memID := insertMemory(t, s, "proj", "initial")

	v1, err := RecordVersion(s, NewVersion{MemoryID: memID, Content: "initial", ChangeType: "create"})
	if err != nil {
		t.Fatalf("RecordVersion v1 failed: %v", err)
	}
	v2, err := RecordVersion(s, NewVersion{MemoryID: memID, Content: "revised", ChangeType: "update"})
	if err != nil {
		t.Fatalf("RecordVersion v2 failed: %v", err)
	}

	if err := InvalidatePrior(s, memID, v2.ID, time.Now().UTC()); err != nil {
		t.Fatalf("InvalidatePrior failed: %v", err)
	}

	versions, err := s.VersionsForMemories([]string{memID}, true)
	if err != nil {
		t.Fatalf("VersionsForMemories failed: %v", err)
	}
	for _, v := range versions {
		if v.ID == v1.ID && v.ValidTo == nil {
			t.Error("expected v1 to be invalidated")
		}
		if v.ID == v2.ID && v.ValidTo != nil {
			t.Error("expected v2 to remain current")
		}
	}
}

func TestTraceEntityEvolution_NotFound(t *testing.T) {
	s := openTestStore(t)
	evo, err := TraceEntityEvolution(s, uuid.NewString(), true)
	if err != nil {
		t.Fatalf("TraceEntityEvolution failed: %v", err)
	}
	if evo.Found {
		t.Error("expected Found=false for unknown entity")
	}
}

func TestTraceEntityEvolution_BuildsTimelineAndInvalidationChain(t *testing.T) {
	s := openTestStore(t)
	memID := insertMemory(t, s, "proj", "uses the legacy auth flow")

	entityID, err := s.UpsertEntity(&store.Entity{ID: uuid.NewString(), Project: "proj", Type: "class", Name: "AuthFlow"})
	if err != nil {
		t.Fatalf("UpsertEntity failed: %v", err)
	}
	if err := s.InsertRef(&store.MemoryEntityRef{ID: uuid.NewString(), MemoryID: memID, EntityID: entityID, Relationship: "mentions"}); err != nil {
		t.Fatalf("InsertRef failed: %v", err)
	}

	v1, err := RecordVersion(s, NewVersion{MemoryID: memID, Content: "uses the legacy auth flow", ChangeType: "create"})
	if err != nil {
		t.Fatalf("RecordVersion v1 failed: %v", err)
	}
	v2, err := RecordVersion(s, NewVersion{MemoryID: memID, Content: "migrated to the new auth flow", ChangeType: "update"})
	if err != nil {
		t.Fatalf("RecordVersion v2 failed: %v", err)
	}
	if err := InvalidatePrior(s, memID, v2.ID, time.Now().UTC()); err != nil {
		t.Fatalf("InvalidatePrior failed: %v", err)
	}

	evo, err := TraceEntityEvolution(s, entityID, true)
	if err != nil {
		t.Fatalf("TraceEntityEvolution failed: %v", err)
	}
	if !evo.Found {
		t.Fatal("expected entity to be found")
	}
	if len(evo.Timeline) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(evo.Timeline))
	}
	if len(evo.CurrentBeliefs) != 1 || evo.CurrentBeliefs[0].VersionID != v2.ID {
		t.Errorf("expected only v2 among current beliefs, got %+v", evo.CurrentBeliefs)
	}
	if len(evo.InvalidationChain) != 1 || evo.InvalidationChain[0].InvalidatedVersionID != v1.ID {
		t.Errorf("expected v1 in the invalidation chain, got %+v", evo.InvalidationChain)
	}
}
