// Package temporal implements the bi-temporal version engine (C7): it
// creates an immutable version row on every memory mutation, answers
// point-in-time queries over valid time and transaction time, and traces
// how belief in an entity evolved -- including its invalidation chain.
package temporal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// NewVersion captures the fields a caller supplies when recording a new
// version of a memory; bookkeeping fields (id, version number,
// changed_at) are filled in by RecordVersion.
type NewVersion struct {
	MemoryID          string
	Content           string
	Rationale         string
	Context           map[string]interface{}
	Tags              []string
	Outcome           string
	Worked            store.WorkedState
	ChangeType        string
	ChangeDescription string
	ValidFrom         *time.Time // nil means "true as of now"
}

// RecordVersion creates a new bi-temporal version for a memory, assigning
// the next sequential version number. It does not invalidate the prior
// version -- callers that mean to supersede a belief call InvalidatePrior
// explicitly, since not every new version represents a correction.
func RecordVersion(s *store.Store, nv NewVersion) (*store.MemoryVersion, error) {
	timer := logging.StartTimer(logging.CategoryTemporal, "RecordVersion")
	defer timer.Stop()

	versionNumber, err := s.NextVersionNumber(nv.MemoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to determine next version number: %w", err)
	}

	v := &store.MemoryVersion{
		ID:                uuid.NewString(),
		MemoryID:          nv.MemoryID,
		VersionNumber:     versionNumber,
		Content:           nv.Content,
		Rationale:         nv.Rationale,
		Context:           nv.Context,
		Tags:              nv.Tags,
		Outcome:           nv.Outcome,
		Worked:            nv.Worked,
		ChangeType:        nv.ChangeType,
		ChangeDescription: nv.ChangeDescription,
		ChangedAt:         time.Now().UTC(),
		ValidFrom:         nv.ValidFrom,
	}
	if err := s.InsertVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

// InvalidatePrior marks every other version of a memory whose valid_to
// is still NULL as superseded by newVersionID, whatever its version
// number. History is never deleted, only closed
// off with a valid_to timestamp.
func InvalidatePrior(s *store.Store, memoryID, newVersionID string, at time.Time) error {
	timer := logging.StartTimer(logging.CategoryTemporal, "InvalidatePrior")
	defer timer.Stop()

	versions, err := s.VersionsForMemories([]string{memoryID}, true)
	if err != nil {
		return fmt.Errorf("failed to load versions for invalidation: %w", err)
	}
	for _, v := range versions {
		if v.ID == newVersionID || v.ValidTo != nil {
			continue
		}
		if _, err := s.InvalidateVersion(v.ID, newVersionID, at); err != nil {
			return fmt.Errorf("failed to invalidate version %s: %w", v.ID, err)
		}
	}
	return nil
}

// AsOf answers the core bi-temporal query: which versions of a memory
// were valid at asOfValidTime, as known at asOfTransactionTime (nil means
// now).
func AsOf(s *store.Store, memoryID string, asOfValidTime time.Time, asOfTransactionTime *time.Time) ([]*store.MemoryVersion, error) {
	timer := logging.StartTimer(logging.CategoryTemporal, "AsOf")
	defer timer.Stop()
	return s.VersionsAtTime(memoryID, asOfValidTime, asOfTransactionTime)
}

// TimelineEntry is one version's place in an entity's knowledge-evolution
// timeline.
type TimelineEntry struct {
	MemoryID               string
	VersionID              string
	VersionNumber          int
	ContentPreview         string
	ValidFrom              *time.Time
	ValidTo                *time.Time
	TransactionTime        time.Time
	IsCurrent              bool
	InvalidatedByVersionID string
	ChangeType             string
	Outcome                string
	Worked                 store.WorkedState
}

// InvalidationLink records which version invalidated which, and when.
type InvalidationLink struct {
	InvalidatedVersionID   string
	InvalidatedByVersionID string
	InvalidationTime       *time.Time
}

// Evolution is the full answer to "how did our understanding of this
// entity change over time".
type Evolution struct {
	Found             bool
	Entity            *store.Entity
	Timeline          []TimelineEntry
	CurrentBeliefs    []TimelineEntry
	InvalidationChain []InvalidationLink
}

const contentPreviewLen = 200

// TraceEntityEvolution builds the timeline of every memory version that
// mentions an entity, in the order beliefs became true (valid_from) and
// then the order we learned them (changed_at), together with the chain
// of which versions invalidated which.
func TraceEntityEvolution(s *store.Store, entityID string, includeInvalidated bool) (*Evolution, error) {
	timer := logging.StartTimer(logging.CategoryTemporal, "TraceEntityEvolution")
	defer timer.Stop()

	entity, err := s.EntityByID(entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity: %w", err)
	}
	if entity == nil {
		return &Evolution{Found: false}, nil
	}

	memoryIDs, err := s.MemoryIDsForEntityID(entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up memories for entity: %w", err)
	}
	if len(memoryIDs) == 0 {
		return &Evolution{Found: true, Entity: entity}, nil
	}

	versions, err := s.VersionsForMemories(memoryIDs, includeInvalidated)
	if err != nil {
		return nil, fmt.Errorf("failed to load versions: %w", err)
	}

	evo := &Evolution{Found: true, Entity: entity}
	for _, v := range versions {
		preview := v.Content
		if len(preview) > contentPreviewLen {
			preview = preview[:contentPreviewLen] + "..."
		}
		entry := TimelineEntry{
			MemoryID:               v.MemoryID,
			VersionID:              v.ID,
			VersionNumber:          v.VersionNumber,
			ContentPreview:         preview,
			ValidFrom:              v.ValidFrom,
			ValidTo:                v.ValidTo,
			TransactionTime:        v.ChangedAt,
			IsCurrent:              v.ValidTo == nil,
			InvalidatedByVersionID: v.InvalidatedByVersionID,
			ChangeType:             v.ChangeType,
			Outcome:                v.Outcome,
			Worked:                 v.Worked,
		}
		evo.Timeline = append(evo.Timeline, entry)
		if entry.IsCurrent {
			evo.CurrentBeliefs = append(evo.CurrentBeliefs, entry)
		}
		if v.InvalidatedByVersionID != "" {
			evo.InvalidationChain = append(evo.InvalidationChain, InvalidationLink{
				InvalidatedVersionID:   v.ID,
				InvalidatedByVersionID: v.InvalidatedByVersionID,
				InvalidationTime:       v.ValidTo,
			})
		}
	}
	return evo, nil
}
