package memory

import (
	"context"
	"testing"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/bm25"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/config"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/retrieval"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.Open(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	engine := retrieval.NewEngine(s, nil, nil, config.DefaultConfig().RRF, bm25.DefaultConfig())
	return NewManager(s, engine)
}

func TestRemember_RequiresCategoryAndContent(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	if _, err := m.Remember(ctx, RememberRequest{Project: "proj", Content: "no category"}); err == nil {
		t.Error("expected error for missing category")
	}
	if _, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision"}); err == nil {
		t.Error("expected error for missing content")
	}
}

func TestRemember_PersistsAndIndexesAndVersionsAndExtractsEntities(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	mem, err := m.Remember(ctx, RememberRequest{
		Project:  "proj",
		Category: "decision",
		Content:  "the AuthService class now validates tokens before dispatch",
	})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if mem.ID == "" {
		t.Fatal("expected a generated id")
	}

	stored, err := m.store.GetMemory(mem.ID)
	if err != nil || stored == nil {
		t.Fatalf("expected memory to be persisted, err=%v", err)
	}

	versions, err := m.store.VersionsForMemories([]string{mem.ID}, true)
	if err != nil || len(versions) != 1 {
		t.Fatalf("expected exactly one version, got %d, err=%v", len(versions), err)
	}

	results, err := m.Recall(ctx, RecallRequest{Project: "proj", Topic: "AuthService tokens"})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	found := false
	for _, group := range results.ByCategory {
		for _, r := range group {
			if r.ID == mem.ID {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected remembered memory to be recallable by lexical search")
	}
}

func TestRememberBatch_AbortsOnFirstFailure(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	_, err := m.RememberBatch(ctx, []RememberRequest{
		{Project: "proj", Category: "decision", Content: "first memory"},
		{Project: "proj", Category: "", Content: "missing category"},
	})
	if err == nil {
		t.Error("expected RememberBatch to fail on the second item")
	}
}

func TestRecallForFile_FiltersByPath(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	mem, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "fixed a bug here", FilePath: "internal/foo.go"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if _, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "unrelated", FilePath: "internal/bar.go"}); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	results, err := m.RecallForFile("proj", "internal/foo.go", 10)
	if err != nil {
		t.Fatalf("RecallForFile failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != mem.ID {
		t.Errorf("expected exactly the foo.go memory, got %+v", results)
	}
}

func TestRecallByEntity_FindsLinkedMemories(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	mem, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "the PaymentProcessor class handles refunds"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	results, err := m.RecallByEntity("proj", "PaymentProcessor", "")
	if err != nil {
		t.Fatalf("RecallByEntity failed: %v", err)
	}
	found := false
	for _, r := range results {
		if r.ID == mem.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected memory mentioning PaymentProcessor to be found via entity recall")
	}
}

func TestLink_RejectsSelfLinks(t *testing.T) {
	m := openTestManager(t)
	if err := m.Link("a", "a", "relates_to", ""); err == nil {
		t.Error("expected self-link to be rejected")
	}
}

func TestLinkAndUnlink_RoundTrip(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	a, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "memory a"})
	if err != nil {
		t.Fatalf("Remember a failed: %v", err)
	}
	b, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "memory b"})
	if err != nil {
		t.Fatalf("Remember b failed: %v", err)
	}

	if err := m.Link(a.ID, b.ID, "relates_to", "they're connected"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	edges, err := m.store.QueryEdges(a.ID, "both")
	if err != nil || len(edges) != 1 {
		t.Fatalf("expected one edge, got %d, err=%v", len(edges), err)
	}

	if err := m.Unlink(a.ID, b.ID, "relates_to"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	edges, err = m.store.QueryEdges(a.ID, "both")
	if err != nil || len(edges) != 0 {
		t.Fatalf("expected no edges after unlink, got %d, err=%v", len(edges), err)
	}
}

func TestPin_TogglesFlag(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	mem, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "pin me"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if err := m.Pin(mem.ID, true); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	got, err := m.store.GetMemory(mem.ID)
	if err != nil || !got.Pinned {
		t.Fatalf("expected memory to be pinned, err=%v", err)
	}
}

func TestArchive_HidesFromRecall(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	mem, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "archive this unique phrase zzqqxx"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if err := m.Archive(mem.ID); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	results, err := m.Recall(ctx, RecallRequest{Project: "proj", Topic: "unique phrase zzqqxx"})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	for _, group := range results.ByCategory {
		for _, r := range group {
			if r.ID == mem.ID {
				t.Error("expected archived memory to be excluded from search")
			}
		}
	}
}

func TestRecordOutcome_WritesVersionAndUpdatesWorked(t *testing.T) {
	m := openTestManager(t)
	ctx := context.Background()

	mem, err := m.Remember(ctx, RememberRequest{Project: "proj", Category: "decision", Content: "tried retry with backoff"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	if err := m.RecordOutcome("", mem.ID, "it worked great", store.WorkedTrue); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	got, err := m.store.GetMemory(mem.ID)
	if err != nil || got.Worked != store.WorkedTrue {
		t.Fatalf("expected Worked=true, got %+v, err=%v", got, err)
	}

	versions, err := m.store.VersionsForMemories([]string{mem.ID}, true)
	if err != nil || len(versions) != 2 {
		t.Fatalf("expected 2 versions after outcome recorded, got %d, err=%v", len(versions), err)
	}
}
