package dispatch

import (
	"context"
	"testing"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

func TestInscribe_RememberRequiresCategory(t *testing.T) {
	d := openTestDeps(t)
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	_, err := Dispatch(context.Background(), d, "sess1", "proj", "inscribe", "remember", map[string]interface{}{"content": "no category"})
	if _, ok := err.(*MissingParamError); !ok {
		t.Fatalf("expected MissingParamError, got %T: %v", err, err)
	}
}

func TestInscribe_RememberExtractsClientMeta(t *testing.T) {
	d := openTestDeps(t)
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	out, err := Dispatch(context.Background(), d, "sess1", "proj", "inscribe", "remember", map[string]interface{}{
		"content":  "ship behind a feature flag",
		"category": "decision",
		"_client_meta": map[string]interface{}{
			"client":     "cli",
			"providerID": "anthropic",
			"modelID":    "sonnet",
		},
	})
	if err != nil {
		t.Fatalf("remember failed: %v", err)
	}
	mem, ok := out.(*store.Memory)
	if !ok {
		t.Fatalf("expected *store.Memory, got %T", out)
	}
	if mem.SourceClient != "cli" || mem.SourceModel != "anthropic/sonnet" {
		t.Errorf("expected provenance to be extracted, got client=%q model=%q", mem.SourceClient, mem.SourceModel)
	}
}

func TestInscribe_LinkAndUnlink(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	a, _ := d.Memory.Remember(ctx, memory.RememberRequest{Project: "proj", Category: "pattern", Content: "a"})
	b, _ := d.Memory.Remember(ctx, memory.RememberRequest{Project: "proj", Category: "pattern", Content: "b"})

	_, err := Dispatch(ctx, d, "sess1", "proj", "inscribe", "link", map[string]interface{}{
		"source_id": a.ID, "target_id": b.ID, "relationship": "depends_on",
	})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}

	_, err = Dispatch(ctx, d, "sess1", "proj", "inscribe", "unlink", map[string]interface{}{
		"source_id": a.ID, "target_id": b.ID, "relationship": "depends_on",
	})
	if err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
}

func TestInscribe_ActivateDeactivateClear(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	mem, _ := d.Memory.Remember(ctx, memory.RememberRequest{Project: "proj", Category: "pattern", Content: "pin me"})

	if _, err := Dispatch(ctx, d, "sess1", "proj", "inscribe", "activate", map[string]interface{}{"memory_id": mem.ID}); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	active, err := d.Memory.ActiveContext("sess1")
	if err != nil || len(active) != 1 {
		t.Fatalf("expected one pinned memory, got %d, err=%v", len(active), err)
	}

	if _, err := Dispatch(ctx, d, "sess1", "proj", "inscribe", "clear_active", nil); err != nil {
		t.Fatalf("clear_active failed: %v", err)
	}
	active, _ = d.Memory.ActiveContext("sess1")
	if len(active) != 0 {
		t.Errorf("expected empty active context after clear, got %+v", active)
	}
}

func TestReflect_OutcomeAndVerify(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	mem, _ := d.Memory.Remember(ctx, memory.RememberRequest{Project: "proj", Category: "decision", Content: "cache responses for five minutes"})

	_, err := Dispatch(ctx, d, "sess1", "proj", "reflect", "outcome", map[string]interface{}{
		"memory_id": mem.ID, "outcome_text": "worked great", "worked": true,
	})
	if err != nil {
		t.Fatalf("outcome failed: %v", err)
	}

	out, err := Dispatch(ctx, d, "sess1", "proj", "reflect", "verify", map[string]interface{}{"text": "We cache responses for five minutes."})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if out == nil {
		t.Fatal("expected claim verifications")
	}
}

func TestReflect_OutcomeRequiresWorked(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	mem, _ := d.Memory.Remember(ctx, memory.RememberRequest{Project: "proj", Category: "decision", Content: "cache responses for five minutes"})

	_, err := Dispatch(ctx, d, "sess1", "proj", "reflect", "outcome", map[string]interface{}{
		"memory_id": mem.ID, "outcome_text": "worked great",
	})
	if _, ok := err.(*MissingParamError); !ok {
		t.Fatalf("expected MissingParamError for a missing worked param, got %T: %v", err, err)
	}
}

func TestReflect_OutcomeRequiresOutcomeText(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	mem, _ := d.Memory.Remember(ctx, memory.RememberRequest{Project: "proj", Category: "decision", Content: "cache responses for five minutes"})

	_, err := Dispatch(ctx, d, "sess1", "proj", "reflect", "outcome", map[string]interface{}{
		"memory_id": mem.ID, "worked": true,
	})
	if _, ok := err.(*MissingParamError); !ok {
		t.Fatalf("expected MissingParamError for a missing outcome_text param, got %T: %v", err, err)
	}
}

func TestReflect_ExecuteDisabledByDefault(t *testing.T) {
	d := openTestDeps(t)
	briefAndCheck(t, d, "proj", "orientation")
	forceActionPhase(d, "proj")

	_, err := Dispatch(context.Background(), d, "sess1", "proj", "reflect", "execute", map[string]interface{}{"code": "print(1)"})
	if err == nil {
		t.Fatal("expected execute to be disabled without ToolExecutionEnabled")
	}
	if _, ok := err.(*WorkflowError); !ok {
		t.Fatalf("expected a WorkflowError, got %T: %v", err, err)
	}
}
