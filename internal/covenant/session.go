package covenant

import (
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// SessionIDFor derives the rotating session id a project's covenant state
// is keyed under. bucket is CovenantConfig.SessionIDBucket ("hour" or
// "day"); any other value falls back to "hour". Rotating the id means a
// session's briefing/counsel naturally expires at the bucket boundary
// instead of needing an explicit reset call.
func SessionIDFor(project, bucket string) string {
	now := time.Now().UTC()
	switch bucket {
	case "day":
		return project + ":" + now.Format("2006-01-02")
	default:
		return project + ":" + now.Format("2006-01-02T15")
	}
}

// StoreBackend adapts a *store.Store's session_state table into a
// StateGetter plus the two mutating calls (MarkBriefed, AddContextCheck)
// that advance it, so the middleware can be driven by the real store in
// production and by a plain map in tests.
type StoreBackend struct {
	store       *store.Store
	sessionIDOf func(project string) string
}

// NewStoreBackend wires a covenant state backend against an open store.
func NewStoreBackend(s *store.Store, bucket string) *StoreBackend {
	return &StoreBackend{
		store: s,
		sessionIDOf: func(project string) string {
			return SessionIDFor(project, bucket)
		},
	}
}

// GetState implements StateGetter.
func (b *StoreBackend) GetState(project string) *State {
	sessionID := b.sessionIDOf(project)
	row, err := b.store.GetOrCreateSession(sessionID, project)
	if err != nil || row == nil {
		return nil
	}
	checks := make([]ContextCheck, 0, len(row.ContextChecks))
	for _, c := range row.ContextChecks {
		checks = append(checks, ContextCheck{Topic: c.Topic, Timestamp: c.Timestamp})
	}
	return &State{Briefed: row.Briefed, ContextChecks: checks}
}

// Brief marks the current session for a project as having received a
// briefing (satisfies COMMUNION_REQUIRED going forward).
func (b *StoreBackend) Brief(project string) error {
	sessionID := b.sessionIDOf(project)
	if _, err := b.store.GetOrCreateSession(sessionID, project); err != nil {
		return err
	}
	return b.store.MarkBriefed(sessionID)
}

// ContextCheckIn records a counsel token for a project, resetting the
// COUNSEL_REQUIRED TTL.
func (b *StoreBackend) ContextCheckIn(project, topic string) error {
	sessionID := b.sessionIDOf(project)
	if _, err := b.store.GetOrCreateSession(sessionID, project); err != nil {
		return err
	}
	return b.store.AddContextCheck(sessionID, topic)
}
