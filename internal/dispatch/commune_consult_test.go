package dispatch

import (
	"context"
	"testing"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
)

func TestCommune_BriefThenContextCheckAdvancesPhase(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()

	if _, err := Dispatch(ctx, d, "sess1", "proj", "commune", "brief", nil); err != nil {
		t.Fatalf("brief failed: %v", err)
	}
	if got := d.Phase.GetPhase("proj"); got != "briefing" {
		t.Errorf("expected briefing phase after brief, got %s", got)
	}

	if _, err := Dispatch(ctx, d, "sess1", "proj", "commune", "context_check", map[string]interface{}{"topic": "refactor auth"}); err != nil {
		t.Fatalf("context_check failed: %v", err)
	}
	if got := d.Phase.GetPhase("proj"); got != "exploration" {
		t.Errorf("expected exploration phase after context_check, got %s", got)
	}
}

func TestCommune_InvalidAction(t *testing.T) {
	d := openTestDeps(t)
	_, err := Dispatch(context.Background(), d, "sess1", "proj", "commune", "nonsense", nil)
	if _, ok := err.(*InvalidActionError); !ok {
		t.Fatalf("expected InvalidActionError, got %v", err)
	}
}

func TestCommune_Health(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()
	briefAndCheck(t, d, "proj", "getting oriented")

	out, err := Dispatch(ctx, d, "sess1", "proj", "commune", "health", nil)
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	report, ok := out.(*HealthReport)
	if !ok {
		t.Fatalf("expected *HealthReport, got %T", out)
	}
	if report.Phase != "exploration" {
		t.Errorf("expected exploration phase reported, got %s", report.Phase)
	}
}

func TestConsult_BlockedWithoutBriefing(t *testing.T) {
	d := openTestDeps(t)
	// search_memories is not in Briefing's visible-tool set, unlike recall,
	// so it is the one exempt-from-covenant consult action that still gets
	// blocked before any briefing.
	_, err := Dispatch(context.Background(), d, "sess1", "proj", "consult", "search", map[string]interface{}{"query": "x"})
	if err == nil {
		t.Fatal("expected search to be blocked by phase before briefing")
	}
	if _, ok := err.(*GateViolation); !ok {
		t.Fatalf("expected a GateViolation, got %T: %v", err, err)
	}
}

func TestConsult_RecallAfterBriefing(t *testing.T) {
	d := openTestDeps(t)
	ctx := context.Background()
	briefAndCheck(t, d, "proj", "initial orientation")
	if _, err := d.Memory.Remember(ctx, memory.RememberRequest{Project: "proj", Category: "pattern", Content: "always check the cache before the db"}); err != nil {
		t.Fatalf("seed remember failed: %v", err)
	}

	out, err := Dispatch(ctx, d, "sess1", "proj", "consult", "recall", map[string]interface{}{"topic": "cache"})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if out == nil {
		t.Fatal("expected a non-nil recall result")
	}
}

func TestConsult_CheckRulesMissingAction(t *testing.T) {
	d := openTestDeps(t)
	briefAndCheck(t, d, "proj", "orientation")
	_, err := Dispatch(context.Background(), d, "sess1", "proj", "consult", "check_rules", nil)
	if _, ok := err.(*MissingParamError); !ok {
		t.Fatalf("expected MissingParamError, got %T: %v", err, err)
	}
}

func TestConsult_InvalidAction(t *testing.T) {
	d := openTestDeps(t)
	_, err := Dispatch(context.Background(), d, "sess1", "proj", "consult", "bogus", nil)
	if _, ok := err.(*InvalidActionError); !ok {
		t.Fatalf("expected InvalidActionError, got %T", err)
	}
}
