package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// DreamSessionRow records full provenance for one autonomous dream run (C11).
type DreamSessionRow struct {
	SessionID         string
	Project           string
	StartedAt         time.Time
	EndedAt           *time.Time
	StrategiesRun     []string
	DecisionsReviewed int
	InsightsGenerated int
	Interrupted       bool
}

// DreamResultRow is one strategy's verdict on a single source decision.
type DreamResultRow struct {
	ID               string
	DreamSessionID   string
	SourceDecisionID string
	OriginalContent  string
	OriginalOutcome  string
	Insight          string
	ResultType       string
	EvidenceIDs      []string
}

// InsertDreamSession persists the start of a dream session.
func (s *Store) InsertDreamSession(d *DreamSessionRow) error {
	strategies, _ := json.Marshal(d.StrategiesRun)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO dream_sessions (session_id, project, started_at, strategies_run, decisions_reviewed, insights_generated, interrupted)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.Project, d.StartedAt, string(strategies), d.DecisionsReviewed, d.InsightsGenerated, d.Interrupted,
	)
	return err
}

// FinishDreamSession records the end of a dream session (possibly interrupted).
func (s *Store) FinishDreamSession(sessionID string, decisionsReviewed, insightsGenerated int, interrupted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE dream_sessions SET ended_at = CURRENT_TIMESTAMP, decisions_reviewed = ?, insights_generated = ?, interrupted = ?
		 WHERE session_id = ?`,
		decisionsReviewed, insightsGenerated, interrupted, sessionID,
	)
	return err
}

// InsertDreamResult persists one strategy verdict.
func (s *Store) InsertDreamResult(r *DreamResultRow) error {
	evidence, _ := json.Marshal(r.EvidenceIDs)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO dream_results (id, dream_session_id, source_decision_id, original_content, original_outcome, insight, result_type, evidence_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DreamSessionID, r.SourceDecisionID, r.OriginalContent, r.OriginalOutcome, r.Insight, r.ResultType, string(evidence),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dream result: %w", err)
	}
	return nil
}

// LastReEvaluation returns the most recent dream_results.created_at for a
// source decision, used by FailedDecisionReview's cooldown guard.
func (s *Store) LastReEvaluation(sourceDecisionID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t time.Time
	err := s.db.QueryRow(
		`SELECT created_at FROM dream_results WHERE source_decision_id = ? ORDER BY created_at DESC LIMIT 1`,
		sourceDecisionID,
	).Scan(&t)
	if err != nil {
		return nil, nil
	}
	return &t, nil
}
