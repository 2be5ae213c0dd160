package dream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/graph"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/memory"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// Session accumulates one dreaming episode's bookkeeping, mirroring the
// original's DreamSession record. It is persisted via store.DreamSessionRow
// once the episode finishes.
type Session struct {
	ID                string
	Project           string
	StartedAt         time.Time
	StrategiesRun     []string
	DecisionsReviewed int
	InsightsGenerated int
	Interrupted       bool
}

// Strategy is one pluggable unit of dream work. Implementations must check
// UserActive at their own yield points and return promptly once it closes.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, sched *Scheduler, session *Session, deps *Deps) error
}

// Deps bundles the store-layer and orchestration handles strategies need.
// It is assembled once per project and reused across dream episodes.
type Deps struct {
	Store  *store.Store
	Memory *memory.Manager

	mu     sync.RWMutex
	config StrategyConfig
}

// NewDeps assembles a Deps bundle with its initial tunables.
func NewDeps(store *store.Store, mgr *memory.Manager, cfg StrategyConfig) *Deps {
	d := &Deps{Store: store, Memory: mgr}
	d.config = cfg
	return d
}

// GetConfig returns the current tunables, safe to call concurrently with
// SetConfig from a config file reload.
func (d *Deps) GetConfig() StrategyConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// SetConfig replaces the tunables in place, letting a config watcher push
// fresh dream settings without rebuilding the scheduler.
func (d *Deps) SetConfig(cfg StrategyConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
}

// StrategyConfig carries the per-strategy tunables exposed to operators.
type StrategyConfig struct {
	MaxDecisions            int
	MinAgeHours             int
	ReviewCooldownHours     int
	MaxConnections          int
	CommunityStalenessHours int
	EvidenceThreshold       int
	DryRun                  bool
}

// RunSession runs every strategy in order against one project, yielding
// immediately after any strategy if the user has returned, then persists
// the episode's summary row.
func RunSession(ctx context.Context, sched *Scheduler, deps *Deps, strategies []Strategy) {
	session := &Session{
		ID:        uuid.NewString(),
		Project:   sched.project,
		StartedAt: time.Now().UTC(),
	}

	if err := deps.Store.InsertDreamSession(&store.DreamSessionRow{
		SessionID: session.ID,
		Project:   session.Project,
		StartedAt: session.StartedAt,
	}); err != nil {
		logging.Get(logging.CategoryDream).Warn("failed to open dream session for %s: %v", session.Project, err)
	}

	for _, strat := range strategies {
		select {
		case <-sched.UserActive():
			session.Interrupted = true
		case <-ctx.Done():
			session.Interrupted = true
		default:
		}
		if session.Interrupted {
			break
		}

		if err := strat.Execute(ctx, sched, session, deps); err != nil {
			logging.Get(logging.CategoryDream).Warn("dream strategy %s failed for %s: %v", strat.Name(), session.Project, err)
		}
		session.StrategiesRun = append(session.StrategiesRun, strat.Name())
	}

	if err := deps.Store.FinishDreamSession(session.ID, session.DecisionsReviewed, session.InsightsGenerated, session.Interrupted); err != nil {
		logging.Get(logging.CategoryDream).Warn("failed to close dream session %s: %v", session.ID, err)
	}
}

// FailedDecisionReview re-evaluates worked=false decisions against current
// evidence recalled from memory, grounded on strategies.py's
// FailedDecisionReview: query failed decisions older than min_age, skip any
// re-reviewed within the review cooldown (72h unless configured), recall
// related memories, classify revised/needs_more_data/confirmed_failure,
// and persist all but needs_more_data as learning memories.
type FailedDecisionReview struct{}

func (FailedDecisionReview) Name() string { return "FailedDecisionReview" }

func (s FailedDecisionReview) Execute(ctx context.Context, sched *Scheduler, session *Session, deps *Deps) error {
	cfg := deps.GetConfig()
	minAge := time.Duration(cfg.MinAgeHours) * time.Hour
	decisions, err := deps.Store.FailedDecisions(session.Project, minAge, cfg.MaxDecisions)
	if err != nil {
		return fmt.Errorf("failed to query failed decisions: %w", err)
	}

	cooldown := time.Duration(cfg.ReviewCooldownHours) * time.Hour
	if cooldown <= 0 {
		cooldown = 72 * time.Hour
	}

	for _, decision := range decisions {
		select {
		case <-sched.UserActive():
			session.Interrupted = true
			return nil
		default:
		}

		last, err := deps.Store.LastReEvaluation(decision.ID)
		if err == nil && last != nil && time.Since(*last) < cooldown {
			continue
		}

		session.DecisionsReviewed++
		result := s.reEvaluate(ctx, decision, deps, session.Project)

		if result.ResultType != "needs_more_data" {
			if !deps.GetConfig().DryRun {
				s.persist(deps, session, decision, result)
			}
			session.InsightsGenerated++
		}

		if err := deps.Store.InsertDreamResult(&store.DreamResultRow{
			ID:               uuid.NewString(),
			DreamSessionID:   session.ID,
			SourceDecisionID: decision.ID,
			OriginalContent:  truncate(decision.Content, 200),
			OriginalOutcome:  decision.Outcome,
			Insight:          result.insight,
			ResultType:       result.ResultType,
			EvidenceIDs:      result.EvidenceIDs,
		}); err != nil {
			logging.Get(logging.CategoryDream).Warn("failed to persist dream result for decision %s: %v", decision.ID, err)
		}
	}

	return nil
}

type reEvalResult struct {
	ResultType  string
	EvidenceIDs []string
	insight     string
}

func (FailedDecisionReview) reEvaluate(ctx context.Context, decision *store.Memory, deps *Deps, project string) reEvalResult {
	query := truncate(decision.Content, 200)

	recalled, err := deps.Memory.Recall(ctx, memory.RecallRequest{
		Project: project,
		Topic:   query,
		Limit:   5,
	})
	if err != nil {
		return reEvalResult{
			ResultType: "needs_more_data",
			insight:    fmt.Sprintf("error during re-evaluation of decision %s: %v", decision.ID, err),
		}
	}

	var evidenceIDs []string
	hasWorkedEvidence := false
	for _, category := range []string{"decision", "pattern", "learning", "warning"} {
		for _, mem := range recalled.ByCategory[category] {
			if mem.ID == decision.ID {
				continue
			}
			evidenceIDs = append(evidenceIDs, mem.ID)
			if mem.Worked == store.WorkedTrue {
				hasWorkedEvidence = true
			}
			if len(evidenceIDs) >= 5 {
				break
			}
		}
		if len(evidenceIDs) >= 5 {
			break
		}
	}

	var resultType, summary string
	switch {
	case hasWorkedEvidence:
		resultType = "revised"
		summary = fmt.Sprintf("found %d related memories, including successful approaches that suggest the original failure may be addressable with current knowledge.", len(evidenceIDs))
	case len(evidenceIDs) < 2:
		resultType = "needs_more_data"
		summary = fmt.Sprintf("only %d related memories found (excluding the decision itself). insufficient evidence for re-evaluation.", len(evidenceIDs))
	default:
		resultType = "confirmed_failure"
		summary = fmt.Sprintf("found %d related memories. available evidence still supports the original failure assessment.", len(evidenceIDs))
	}

	insight := fmt.Sprintf("re-evaluated decision %s: '%s...' -- %s. %s", decision.ID, truncate(decision.Content, 80), resultType, summary)

	return reEvalResult{ResultType: resultType, EvidenceIDs: evidenceIDs, insight: insight}
}

func (FailedDecisionReview) persist(deps *Deps, session *Session, decision *store.Memory, result reEvalResult) {
	tags := []string{"dream", "re-evaluation", "source-decision:" + decision.ID}
	_, err := deps.Memory.Remember(context.Background(), memory.RememberRequest{
		Project:  session.Project,
		Category: "learning",
		Content:  result.insight,
		Tags:     tags,
	})
	if err != nil {
		logging.Get(logging.CategoryDream).Warn("failed to persist re-evaluation insight for decision %s: %v", decision.ID, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ConnectionDiscovery links memory pairs that share significant tag or
// entity overlap but have no edge between them yet. No original_source
// implementation of this strategy was found; its tag/entity-overlap rule
// is designed directly against this project's graph package.
type ConnectionDiscovery struct{}

func (ConnectionDiscovery) Name() string { return "ConnectionDiscovery" }

func (c ConnectionDiscovery) Execute(ctx context.Context, sched *Scheduler, session *Session, deps *Deps) error {
	memories, err := deps.Store.ListByFilter(store.MemoryFilter{Project: session.Project}, 0, 500)
	if err != nil {
		return fmt.Errorf("failed to list memories for connection discovery: %w", err)
	}

	existing, err := deps.Store.AllEdges(session.Project)
	if err != nil {
		return fmt.Errorf("failed to list existing edges: %w", err)
	}
	linked := make(map[string]bool, len(existing)*2)
	for _, e := range existing {
		linked[e.SourceID+"|"+e.TargetID] = true
		linked[e.TargetID+"|"+e.SourceID] = true
	}

	entitiesByMemory := make(map[string]map[string]bool, len(memories))
	for _, m := range memories {
		ents, err := deps.Store.EntitiesForMemory(m.ID)
		if err != nil {
			continue
		}
		set := make(map[string]bool, len(ents))
		for _, e := range ents {
			set[e.Name] = true
		}
		entitiesByMemory[m.ID] = set
	}

	max := deps.GetConfig().MaxConnections
	if max <= 0 {
		max = 20
	}
	created := 0

	for i := 0; i < len(memories) && created < max; i++ {
		select {
		case <-sched.UserActive():
			session.Interrupted = true
			return nil
		default:
		}

		for j := i + 1; j < len(memories) && created < max; j++ {
			a, b := memories[i], memories[j]
			if linked[a.ID+"|"+b.ID] {
				continue
			}

			shared := sharedCount(a.Tags, b.Tags) + sharedEntityCount(entitiesByMemory[a.ID], entitiesByMemory[b.ID])
			if shared < 2 {
				continue
			}

			if deps.GetConfig().DryRun {
				created++
				continue
			}
			if err := deps.Store.InsertEdge(&store.MemoryEdge{
				ID:           uuid.NewString(),
				SourceID:     a.ID,
				TargetID:     b.ID,
				Relationship: "related_to",
				Confidence:   0.5,
				Description:  fmt.Sprintf("discovered during dreaming: %d shared tags/entities", shared),
			}); err != nil {
				logging.Get(logging.CategoryDream).Warn("failed to insert discovered edge %s<->%s: %v", a.ID, b.ID, err)
				continue
			}
			linked[a.ID+"|"+b.ID] = true
			linked[b.ID+"|"+a.ID] = true
			created++
			session.InsightsGenerated++
		}
	}

	return nil
}

func sharedCount(a, b []string) int {
	seen := make(map[string]bool, len(a))
	for _, t := range a {
		seen[strings.ToLower(t)] = true
	}
	count := 0
	for _, t := range b {
		if seen[strings.ToLower(t)] {
			count++
		}
	}
	return count
}

func sharedEntityCount(a, b map[string]bool) int {
	count := 0
	for name := range a {
		if b[name] {
			count++
		}
	}
	return count
}

// CommunityRefresh rebuilds entity communities when none exist yet for the
// project or the last recorded rebuild is older than the staleness window
// (24h unless configured). No original_source implementation of this
// strategy was found; its staleness check is designed directly against
// graph.RebuildCommunities.
type CommunityRefresh struct{}

func (CommunityRefresh) Name() string { return "CommunityRefresh" }

func (CommunityRefresh) Execute(ctx context.Context, sched *Scheduler, session *Session, deps *Deps) error {
	select {
	case <-sched.UserActive():
		session.Interrupted = true
		return nil
	default:
	}

	existing, err := deps.Store.CommunitiesByLevel(session.Project, 0)
	if err != nil {
		return fmt.Errorf("failed to read existing communities: %w", err)
	}

	staleness := time.Duration(deps.GetConfig().CommunityStalenessHours) * time.Hour
	if staleness <= 0 {
		staleness = 24 * time.Hour
	}

	if len(existing) > 0 {
		last, err := deps.Store.LastReEvaluation("communities:" + session.Project)
		if err == nil && last != nil && time.Since(*last) < staleness {
			return nil
		}
	}

	if deps.GetConfig().DryRun {
		return nil
	}

	if err := graph.RebuildCommunities(ctx, deps.Store, session.Project, 1.0, 42, nil); err != nil {
		return fmt.Errorf("failed to rebuild communities: %w", err)
	}
	if err := deps.Store.InsertDreamResult(&store.DreamResultRow{
		ID:               uuid.NewString(),
		DreamSessionID:   session.ID,
		SourceDecisionID: "communities:" + session.Project,
		Insight:          "rebuilt entity communities",
		ResultType:       "community_refresh",
	}); err != nil {
		logging.Get(logging.CategoryDream).Warn("failed to record community refresh for %s: %v", session.Project, err)
	}
	session.InsightsGenerated++
	return nil
}

// PendingOutcomeResolver classifies unresolved (worked=unknown) decisions
// by the consensus of their recalled evidence into a closed result-type
// set: insufficient_evidence (too little evidence yet), flagged_for_review
// (evidence points both ways), or auto_resolved_success/auto_resolved_failure
// (unanimous evidence). Every classification is persisted as a dream
// result regardless of DryRun; only the two auto-resolved cases actually
// apply an outcome, and DryRun downgrades those to flagged_for_review so a
// dry run never mutates memory state.
type PendingOutcomeResolver struct{}

func (PendingOutcomeResolver) Name() string { return "PendingOutcomeResolver" }

func (p PendingOutcomeResolver) Execute(ctx context.Context, sched *Scheduler, session *Session, deps *Deps) error {
	cfg := deps.GetConfig()
	minAge := time.Duration(cfg.MinAgeHours) * time.Hour
	pending, err := deps.Store.PendingOutcomeDecisions(session.Project, minAge, cfg.MaxDecisions)
	if err != nil {
		return fmt.Errorf("failed to query pending outcome decisions: %w", err)
	}

	threshold := cfg.EvidenceThreshold
	if threshold <= 0 {
		threshold = 3
	}

	for _, decision := range pending {
		select {
		case <-sched.UserActive():
			session.Interrupted = true
			return nil
		default:
		}

		session.DecisionsReviewed++

		recalled, err := deps.Memory.Recall(ctx, memory.RecallRequest{
			Project: session.Project,
			Topic:   truncate(decision.Content, 200),
			Limit:   threshold * 2,
		})
		if err != nil {
			continue
		}

		var worked, failed int
		var evidenceIDs []string
		for _, category := range []string{"decision", "pattern", "learning", "warning"} {
			for _, mem := range recalled.ByCategory[category] {
				if mem.ID == decision.ID {
					continue
				}
				evidenceIDs = append(evidenceIDs, mem.ID)
				switch mem.Worked {
				case store.WorkedTrue:
					worked++
				case store.WorkedFalse:
					failed++
				}
			}
		}

		total := worked + failed
		var resultType string
		var verdict store.WorkedState
		autoResolved := false
		switch {
		case total < threshold:
			resultType = "insufficient_evidence"
		case worked > 0 && failed == 0:
			resultType = "auto_resolved_success"
			verdict = store.WorkedTrue
			autoResolved = true
		case failed > 0 && worked == 0:
			resultType = "auto_resolved_failure"
			verdict = store.WorkedFalse
			autoResolved = true
		default:
			resultType = "flagged_for_review"
		}

		insight := fmt.Sprintf("pending outcome for decision %s classified %s by evidence consensus (%d worked, %d failed)", decision.ID, resultType, worked, failed)

		// Dry-run downgrades any auto-resolution to a flagged review item and
		// never touches the memory itself -- it only ever proposes.
		if cfg.DryRun && autoResolved {
			resultType = "flagged_for_review"
			autoResolved = false
			insight = "[DRY RUN] " + insight
		}

		if err := deps.Store.InsertDreamResult(&store.DreamResultRow{
			ID:               uuid.NewString(),
			DreamSessionID:   session.ID,
			SourceDecisionID: decision.ID,
			OriginalContent:  truncate(decision.Content, 200),
			OriginalOutcome:  decision.Outcome,
			Insight:          insight,
			ResultType:       resultType,
			EvidenceIDs:      evidenceIDs,
		}); err != nil {
			logging.Get(logging.CategoryDream).Warn("failed to persist resolved outcome for decision %s: %v", decision.ID, err)
			continue
		}

		if autoResolved {
			outcomeText := "[DREAM AUTO-RESOLVED] " + insight
			if err := deps.Memory.RecordOutcome("", decision.ID, outcomeText, verdict); err != nil {
				logging.Get(logging.CategoryDream).Warn("failed to apply resolved outcome for decision %s: %v", decision.ID, err)
				continue
			}
		}
		session.InsightsGenerated++
	}

	return nil
}
