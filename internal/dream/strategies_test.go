package dream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/bm25"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/config"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/retrieval"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

func openTestDeps(t *testing.T) *Deps {
	t.Helper()
	s, err := store.Open(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	engine := retrieval.NewEngine(s, nil, nil, config.DefaultConfig().RRF, bm25.DefaultConfig())
	mgr := memory.NewManager(s, engine)
	return NewDeps(s, mgr, StrategyConfig{
		MaxDecisions:            10,
		MinAgeHours:             0,
		ReviewCooldownHours:     0,
		MaxConnections:          20,
		CommunityStalenessHours: 0,
		EvidenceThreshold:       2,
	})
}

func idleScheduler(project string) *Scheduler {
	return New(project, time.Hour, false, nil)
}

func remember(t *testing.T, deps *Deps, category, content string, tags []string) *store.Memory {
	t.Helper()
	mem, err := deps.Memory.Remember(context.Background(), memory.RememberRequest{
		Project:  "proj",
		Category: category,
		Content:  content,
		Tags:     tags,
	})
	if err != nil {
		t.Fatalf("failed to remember: %v", err)
	}
	return mem
}

func TestFailedDecisionReview_NeedsMoreDataWhenNoEvidence(t *testing.T) {
	deps := openTestDeps(t)
	decision := remember(t, deps, "decision", "use library X for parsing", nil)

	// min_age is 0 in these deps, so only mark the decision failed.
	if err := deps.Store.UpdateOutcome(decision.ID, "did not work", store.WorkedFalse); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}

	sched := idleScheduler("proj")
	session := &Session{ID: "s1", Project: "proj"}

	strat := FailedDecisionReview{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if session.DecisionsReviewed != 1 {
		t.Errorf("expected 1 decision reviewed, got %d", session.DecisionsReviewed)
	}
	if session.InsightsGenerated != 0 {
		t.Errorf("expected no insight for needs_more_data result, got %d", session.InsightsGenerated)
	}
}

func TestFailedDecisionReview_RevisedWhenWorkedEvidenceExists(t *testing.T) {
	deps := openTestDeps(t)
	decision := remember(t, deps, "decision", "avoid using package foo for http retries", nil)
	if err := deps.Store.UpdateOutcome(decision.ID, "caused outage", store.WorkedFalse); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}

	e1 := remember(t, deps, "pattern", "package foo http retries worked well after upgrade", nil)
	if err := deps.Store.UpdateOutcome(e1.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}
	remember(t, deps, "learning", "package foo retries are now stable across releases", nil)

	sched := idleScheduler("proj")
	session := &Session{ID: "s2", Project: "proj"}

	strat := FailedDecisionReview{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if session.InsightsGenerated == 0 {
		t.Error("expected an insight to be generated when worked evidence exists")
	}
}

func TestConnectionDiscovery_LinksMemoriesSharingTags(t *testing.T) {
	deps := openTestDeps(t)
	a := remember(t, deps, "pattern", "retry policy for http client", []string{"http", "retry", "shared"})
	b := remember(t, deps, "pattern", "backoff strategy for http client", []string{"http", "retry", "shared"})

	sched := idleScheduler("proj")
	session := &Session{ID: "s3", Project: "proj"}

	strat := ConnectionDiscovery{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	edges, err := deps.Store.AllEdges("proj")
	if err != nil {
		t.Fatalf("failed to list edges: %v", err)
	}
	found := false
	for _, e := range edges {
		if (e.SourceID == a.ID && e.TargetID == b.ID) || (e.SourceID == b.ID && e.TargetID == a.ID) {
			found = true
		}
	}
	if !found {
		t.Error("expected a related_to edge between memories sharing 3 tags")
	}
}

func TestConnectionDiscovery_SkipsAlreadyLinkedPairs(t *testing.T) {
	deps := openTestDeps(t)
	a := remember(t, deps, "pattern", "one", []string{"shared", "tags"})
	b := remember(t, deps, "pattern", "two", []string{"shared", "tags"})

	if err := deps.Memory.Link(a.ID, b.ID, "related_to", "pre-existing"); err != nil {
		t.Fatalf("failed to pre-link: %v", err)
	}

	sched := idleScheduler("proj")
	session := &Session{ID: "s4", Project: "proj"}
	strat := ConnectionDiscovery{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	edges, err := deps.Store.AllEdges("proj")
	if err != nil {
		t.Fatalf("failed to list edges: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("expected the existing edge to remain the only one, got %d", len(edges))
	}
}

func TestCommunityRefresh_RebuildsWhenNoCommunitiesExist(t *testing.T) {
	deps := openTestDeps(t)
	sched := idleScheduler("proj")
	session := &Session{ID: "s5", Project: "proj"}

	strat := CommunityRefresh{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
}

func TestPendingOutcomeResolver_ResolvesWithClearConsensus(t *testing.T) {
	deps := openTestDeps(t)
	decision := remember(t, deps, "decision", "adopt caching layer for queries", nil)

	e1 := remember(t, deps, "pattern", "caching layer for queries improved latency significantly", nil)
	if err := deps.Store.UpdateOutcome(e1.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}
	e2 := remember(t, deps, "learning", "caching layer for queries reduced database load", nil)
	if err := deps.Store.UpdateOutcome(e2.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}
	e3 := remember(t, deps, "pattern", "caching layer for queries passed load tests", nil)
	if err := deps.Store.UpdateOutcome(e3.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}

	sched := idleScheduler("proj")
	session := &Session{ID: "s6", Project: "proj"}

	strat := PendingOutcomeResolver{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if session.DecisionsReviewed == 0 {
		t.Fatal("expected the pending decision to be reviewed")
	}

	updated, err := deps.Store.GetMemory(decision.ID)
	if err != nil {
		t.Fatalf("failed to fetch decision: %v", err)
	}
	if updated.Worked != store.WorkedTrue {
		t.Errorf("expected consensus to resolve decision to worked=true, got %s", updated.Worked)
	}
}

func TestPendingOutcomeResolver_DryRunDowngradesToFlaggedForReview(t *testing.T) {
	deps := openTestDeps(t)
	deps.SetConfig(func() StrategyConfig { c := deps.GetConfig(); c.DryRun = true; return c }())
	decision := remember(t, deps, "decision", "adopt message queue for async jobs", nil)

	e1 := remember(t, deps, "pattern", "message queue for async jobs scaled well under load", nil)
	if err := deps.Store.UpdateOutcome(e1.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}
	e2 := remember(t, deps, "learning", "message queue for async jobs avoided backpressure issues", nil)
	if err := deps.Store.UpdateOutcome(e2.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}
	e3 := remember(t, deps, "pattern", "message queue for async jobs simplified retries", nil)
	if err := deps.Store.UpdateOutcome(e3.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}

	sched := idleScheduler("proj")
	session := &Session{ID: "s7", Project: "proj"}

	strat := PendingOutcomeResolver{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	updated, err := deps.Store.GetMemory(decision.ID)
	if err != nil {
		t.Fatalf("failed to fetch decision: %v", err)
	}
	if updated.Worked != store.WorkedUnknown {
		t.Errorf("expected dry run to leave outcome unmodified, got %s", updated.Worked)
	}

	resultType, insight := latestDreamResult(t, deps, decision.ID)
	if resultType != "flagged_for_review" {
		t.Errorf("expected dry run to downgrade to flagged_for_review, got %s", resultType)
	}
	if !strings.HasPrefix(insight, "[DRY RUN] ") {
		t.Errorf("expected insight to carry the [DRY RUN] prefix, got %q", insight)
	}
}

func TestPendingOutcomeResolver_UnanimousFailureAutoResolves(t *testing.T) {
	deps := openTestDeps(t)
	decision := remember(t, deps, "decision", "switch to polling instead of websockets", nil)

	for i, content := range []string{
		"polling instead of websockets caused excessive load",
		"polling instead of websockets missed real-time updates",
		"polling instead of websockets was reverted after incident",
	} {
		e := remember(t, deps, "pattern", content, nil)
		if err := deps.Store.UpdateOutcome(e.ID, "failed", store.WorkedFalse); err != nil {
			t.Fatalf("failed to mark outcome %d: %v", i, err)
		}
	}

	sched := idleScheduler("proj")
	session := &Session{ID: "s8", Project: "proj"}

	strat := PendingOutcomeResolver{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	updated, err := deps.Store.GetMemory(decision.ID)
	if err != nil {
		t.Fatalf("failed to fetch decision: %v", err)
	}
	if updated.Worked != store.WorkedFalse {
		t.Errorf("expected unanimous failure to resolve decision to worked=false, got %s", updated.Worked)
	}

	resultType, insight := latestDreamResult(t, deps, decision.ID)
	if resultType != "auto_resolved_failure" {
		t.Errorf("expected auto_resolved_failure, got %s", resultType)
	}
	if !strings.HasPrefix(updated.Outcome, "[DREAM AUTO-RESOLVED] ") {
		t.Errorf("expected recorded outcome to carry the [DREAM AUTO-RESOLVED] prefix, got %q", updated.Outcome)
	}
	_ = insight

	assertOutcomeRecordedVersion(t, deps, decision.ID)
}

func TestPendingOutcomeResolver_MixedEvidenceFlagsForReview(t *testing.T) {
	deps := openTestDeps(t)
	decision := remember(t, deps, "decision", "move background jobs to a queue", nil)

	worked := remember(t, deps, "pattern", "background jobs queue reduced latency under load", nil)
	if err := deps.Store.UpdateOutcome(worked.ID, "worked", store.WorkedTrue); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}
	failed := remember(t, deps, "pattern", "background jobs queue lost messages during failover", nil)
	if err := deps.Store.UpdateOutcome(failed.ID, "failed", store.WorkedFalse); err != nil {
		t.Fatalf("failed to mark outcome: %v", err)
	}

	sched := idleScheduler("proj")
	session := &Session{ID: "s9", Project: "proj"}

	strat := PendingOutcomeResolver{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	updated, err := deps.Store.GetMemory(decision.ID)
	if err != nil {
		t.Fatalf("failed to fetch decision: %v", err)
	}
	if updated.Worked != store.WorkedUnknown {
		t.Errorf("expected mixed evidence to leave the decision pending, got %s", updated.Worked)
	}

	resultType, _ := latestDreamResult(t, deps, decision.ID)
	if resultType != "flagged_for_review" {
		t.Errorf("expected flagged_for_review for mixed evidence, got %s", resultType)
	}
}

func TestPendingOutcomeResolver_SparseEvidenceRecordsInsufficientEvidence(t *testing.T) {
	deps := openTestDeps(t)
	decision := remember(t, deps, "decision", "rewrite the retry backoff policy", nil)
	remember(t, deps, "pattern", "retry backoff policy rewrite has limited prior art", nil)

	sched := idleScheduler("proj")
	session := &Session{ID: "s10", Project: "proj"}

	strat := PendingOutcomeResolver{}
	if err := strat.Execute(context.Background(), sched, session, deps); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	updated, err := deps.Store.GetMemory(decision.ID)
	if err != nil {
		t.Fatalf("failed to fetch decision: %v", err)
	}
	if updated.Worked != store.WorkedUnknown {
		t.Errorf("expected sparse evidence to leave the decision pending, got %s", updated.Worked)
	}

	resultType, _ := latestDreamResult(t, deps, decision.ID)
	if resultType != "insufficient_evidence" {
		t.Errorf("expected insufficient_evidence for sparse evidence, got %s", resultType)
	}
}

// latestDreamResult fetches the most recently inserted dream_results row for
// a source decision, since internal/store exposes no query for it beyond
// LastReEvaluation's bare timestamp.
func latestDreamResult(t *testing.T, deps *Deps, sourceDecisionID string) (resultType, insight string) {
	t.Helper()
	row := deps.Store.DB().QueryRow(
		`SELECT result_type, insight FROM dream_results WHERE source_decision_id = ? ORDER BY created_at DESC LIMIT 1`,
		sourceDecisionID,
	)
	if err := row.Scan(&resultType, &insight); err != nil {
		t.Fatalf("failed to fetch dream result for %s: %v", sourceDecisionID, err)
	}
	return resultType, insight
}

// assertOutcomeRecordedVersion confirms Testable Property #4: recording an
// outcome, even from a dream strategy with no client session, must produce
// a change_type=outcome_recorded version row rather than silently updating
// the memory row via a direct store call.
func assertOutcomeRecordedVersion(t *testing.T, deps *Deps, memoryID string) {
	t.Helper()
	var changeType string
	row := deps.Store.DB().QueryRow(
		`SELECT change_type FROM memory_versions WHERE memory_id = ? ORDER BY version_number DESC LIMIT 1`,
		memoryID,
	)
	if err := row.Scan(&changeType); err != nil {
		t.Fatalf("failed to fetch latest version for %s: %v", memoryID, err)
	}
	if changeType != "outcome_recorded" {
		t.Errorf("expected latest version's change_type to be outcome_recorded, got %s", changeType)
	}
}
