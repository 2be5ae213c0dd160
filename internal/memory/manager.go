// Package memory implements the memory manager (C8): the orchestrator
// that wires the relational store (C1), lexical/dense/full-text indices
// (C2-C4), the hybrid retrieval engine (C5), the entity & graph layer
// (C6), and the bi-temporal version engine (C7) into remember/recall/
// link/pin/outcome/verify operations.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/graph"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/retrieval"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/temporal"
)

const surpriseK = 5

// Manager is the C8 orchestrator. One Manager serves one store plus its
// hybrid search engine.
type Manager struct {
	store  *store.Store
	search *retrieval.Engine
}

// NewManager wires a memory manager against an already-open store and
// hybrid search engine.
func NewManager(s *store.Store, search *retrieval.Engine) *Manager {
	return &Manager{store: s, search: search}
}

// RememberRequest carries everything a caller may supply to create a
// new memory.
type RememberRequest struct {
	Project      string
	Category     string
	Content      string
	Rationale    string
	Context      map[string]interface{}
	Tags         []string
	FilePath     string
	HappenedAt   *time.Time
	SourceClient string
	SourceModel  string
}

// Remember stores a single memory: computes its embedding and surprise
// score, inserts the row, writes version 1, indexes it into the
// lexical/dense/full-text engines, and extracts entity references.
func (m *Manager) Remember(ctx context.Context, req RememberRequest) (*store.Memory, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Remember")
	defer timer.Stop()

	if req.Category == "" {
		return nil, fmt.Errorf("remember: category is required")
	}
	if req.Content == "" {
		return nil, fmt.Errorf("remember: content is required")
	}

	mem := &store.Memory{
		ID:           uuid.NewString(),
		Project:      req.Project,
		Category:     req.Category,
		Content:      req.Content,
		Rationale:    req.Rationale,
		Context:      req.Context,
		Tags:         req.Tags,
		FilePath:     req.FilePath,
		Worked:       store.WorkedUnknown,
		HappenedAt:   req.HappenedAt,
		SourceClient: req.SourceClient,
		SourceModel:  req.SourceModel,
	}

	var vec []float32
	if embedder := m.search.Embedder(); embedder != nil {
		v, err := embedder.Embed(ctx, retrieval.DocPrefix+" "+req.Content)
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("embedding failed for new memory, continuing without one: %v", err)
		} else {
			vec = v
			if vectors := m.search.VectorIndex(); vectors != nil {
				surprise, err := vectors.AverageDistanceToNearest(vec, req.Project, surpriseK)
				if err != nil {
					logging.Get(logging.CategoryMemory).Warn("surprise score computation failed: %v", err)
				} else {
					mem.SurpriseScore = surprise
				}
			}
		}
	}

	if err := m.store.InsertMemory(mem); err != nil {
		return nil, fmt.Errorf("remember: failed to insert memory: %w", err)
	}

	if _, err := temporal.RecordVersion(m.store, temporal.NewVersion{
		MemoryID:   mem.ID,
		Content:    mem.Content,
		Rationale:  mem.Rationale,
		Context:    mem.Context,
		Tags:       mem.Tags,
		ChangeType: "created",
	}); err != nil {
		logging.Get(logging.CategoryMemory).Warn("failed to write version 1 for %s: %v", mem.ID, err)
	}

	if err := m.search.IndexMemoryWithVector(mem, vec); err != nil {
		logging.Get(logging.CategoryMemory).Warn("failed to index memory %s: %v", mem.ID, err)
	}

	if err := graph.IndexMemoryEntities(m.store, req.Project, mem.ID, req.Content); err != nil {
		logging.Get(logging.CategoryMemory).Warn("failed to extract entities for %s: %v", mem.ID, err)
	}

	return mem, nil
}

// RememberBatch stores memories in order and stops at the first item that
// fails, returning an error for the whole batch. Each Remember is its own
// store transaction, so no row is half-written, but memories stored before
// the failing item stay stored: the batch is not rolled back.
func (m *Manager) RememberBatch(ctx context.Context, reqs []RememberRequest) ([]*store.Memory, error) {
	out := make([]*store.Memory, 0, len(reqs))
	for i, req := range reqs {
		mem, err := m.Remember(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("remember_batch: item %d failed: %w", i, err)
		}
		out = append(out, mem)
	}
	return out, nil
}

// RecallRequest carries hybrid-search parameters for Recall.
type RecallRequest struct {
	Project       string
	Topic         string
	Categories    []string
	Tags          []string
	FilePath      string
	Offset        int
	Limit         int
	Since         *time.Time
	Until         *time.Time
	IncludeLinked bool

	// SessionID, if set, front-loads the session's pinned working-context
	// memories ahead of the ranked hybrid-search results.
	SessionID string
}

// RecallResult buckets hydrated memories by category, optionally with
// one hop of linked memories per result.
type RecallResult struct {
	ByCategory map[string][]*store.Memory
	Linked     map[string][]*store.MemoryEdge // keyed by memory id
}

// Recall runs hybrid search, hydrates, optionally follows edges one hop,
// and buckets the results by category.
func (m *Manager) Recall(ctx context.Context, req RecallRequest) (*RecallResult, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Recall")
	defer timer.Stop()

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	results, err := m.search.Search(ctx, req.Project, req.Topic, limit+req.Offset, retrieval.Filter{
		Categories: req.Categories,
		Tags:       req.Tags,
		FilePath:   req.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("recall: search failed: %w", err)
	}

	results = applyTimeWindow(results, req.Since, req.Until)
	if req.Offset > 0 && req.Offset < len(results) {
		results = results[req.Offset:]
	} else if req.Offset >= len(results) {
		results = nil
	}
	if len(results) > limit {
		results = results[:limit]
	}

	if req.SessionID != "" {
		results = m.prependActiveContext(req.SessionID, results)
	}

	out := &RecallResult{ByCategory: make(map[string][]*store.Memory)}
	for _, mm := range results {
		out.ByCategory[mm.Category] = append(out.ByCategory[mm.Category], mm)
	}

	if req.IncludeLinked {
		out.Linked = make(map[string][]*store.MemoryEdge)
		for _, mm := range results {
			edges, err := m.store.QueryEdges(mm.ID, "both")
			if err != nil {
				continue
			}
			out.Linked[mm.ID] = edges
		}
	}

	return out, nil
}

func applyTimeWindow(results []*store.Memory, since, until *time.Time) []*store.Memory {
	if since == nil && until == nil {
		return results
	}
	out := results[:0]
	for _, m := range results {
		if since != nil && m.CreatedAt.Before(*since) {
			continue
		}
		if until != nil && m.CreatedAt.After(*until) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// RecallForFile returns memories associated with a file path, newest
// first, up to limit.
func (m *Manager) RecallForFile(project, filePath string, limit int) ([]*store.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	return m.store.ListByFilter(store.MemoryFilter{Project: project, FilePath: filePath}, 0, limit)
}

// RecallByEntity returns every memory referencing a named entity,
// optionally narrowed to one entity type.
func (m *Manager) RecallByEntity(project, entityName, entityType string) ([]*store.Memory, error) {
	ids, err := m.store.MemoriesForEntity(project, entityName, entityType)
	if err != nil {
		return nil, fmt.Errorf("recall_by_entity: %w", err)
	}
	return m.store.GetMemories(ids)
}

// HierarchicalResult is a GraphRAG-style layered recall: the matching
// communities (summaries), and optionally their member memories.
type HierarchicalResult struct {
	Communities []*store.Community
	Members     map[string][]*store.Memory // keyed by community id, only set if requested
}

// RecallHierarchical finds communities whose summary or key entities
// mention the topic, optionally hydrating their members.
func (m *Manager) RecallHierarchical(project, topic string, includeMembers bool, limit int) (*HierarchicalResult, error) {
	if limit <= 0 {
		limit = 10
	}
	communities, err := m.store.CommunitiesByLevel(project, 0)
	if err != nil {
		return nil, fmt.Errorf("recall_hierarchical: %w", err)
	}

	topicLower := strings.ToLower(topic)
	var matched []*store.Community
	for _, c := range communities {
		if strings.Contains(strings.ToLower(c.Summary), topicLower) || matchesAnyEntity(c.KeyEntities, topicLower) {
			matched = append(matched, c)
		}
		if len(matched) >= limit {
			break
		}
	}

	result := &HierarchicalResult{Communities: matched}
	if includeMembers {
		result.Members = make(map[string][]*store.Memory)
		for _, c := range matched {
			members, err := m.store.GetMemories(c.MemberIDs)
			if err != nil {
				continue
			}
			result.Members[c.ID] = members
		}
	}
	return result, nil
}

func matchesAnyEntity(entities []string, topicLower string) bool {
	for _, e := range entities {
		if strings.Contains(strings.ToLower(e), topicLower) {
			return true
		}
	}
	return false
}

// Link creates a relationship edge between two memories.
func (m *Manager) Link(sourceID, targetID, relationship, description string) error {
	if sourceID == targetID {
		return fmt.Errorf("link: self-links are forbidden")
	}
	return m.store.InsertEdge(&store.MemoryEdge{
		ID:           uuid.NewString(),
		SourceID:     sourceID,
		TargetID:     targetID,
		Relationship: relationship,
		Confidence:   1.0,
		Description:  description,
	})
}

// Unlink removes a relationship edge.
func (m *Manager) Unlink(sourceID, targetID, relationship string) error {
	return m.store.DeleteEdge(sourceID, targetID, relationship)
}

// Pin sets or clears a memory's pinned flag.
func (m *Manager) Pin(memoryID string, pinned bool) error {
	return m.store.SetPinned(memoryID, pinned)
}

// Archive logically destroys a memory: it is never removed from the
// relational store, only hidden from default recall and de-indexed.
func (m *Manager) Archive(memoryID string) error {
	mem, err := m.store.GetMemory(memoryID)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if mem == nil {
		return fmt.Errorf("archive: memory %s not found", memoryID)
	}
	if err := m.store.SetArchived(memoryID, true); err != nil {
		return err
	}
	m.search.RemoveMemory(mem.Project, memoryID)
	return nil
}

// RecordOutcome records whether a decision worked, writes an
// outcome_recorded version, and clears the memory from a session's
// pending-decisions log (sessionID may be empty if the caller tracks no
// session-scoped pending list).
func (m *Manager) RecordOutcome(sessionID, memoryID, outcomeText string, worked store.WorkedState) error {
	timer := logging.StartTimer(logging.CategoryMemory, "RecordOutcome")
	defer timer.Stop()

	mem, err := m.store.GetMemory(memoryID)
	if err != nil {
		return fmt.Errorf("record_outcome: %w", err)
	}
	if mem == nil {
		return fmt.Errorf("record_outcome: memory %s not found", memoryID)
	}

	if err := m.store.UpdateOutcome(memoryID, outcomeText, worked); err != nil {
		return fmt.Errorf("record_outcome: %w", err)
	}

	if _, err := temporal.RecordVersion(m.store, temporal.NewVersion{
		MemoryID:          memoryID,
		Content:           mem.Content,
		Rationale:         mem.Rationale,
		Context:           mem.Context,
		Tags:              mem.Tags,
		Outcome:           outcomeText,
		Worked:            worked,
		ChangeType:        "outcome_recorded",
		ChangeDescription: outcomeText,
	}); err != nil {
		logging.Get(logging.CategoryMemory).Warn("failed to write outcome version for %s: %v", memoryID, err)
	}

	if sessionID != "" {
		if err := m.store.RemovePendingDecision(sessionID, memoryID); err != nil {
			logging.Get(logging.CategoryMemory).Warn("failed to clear pending decision %s: %v", memoryID, err)
		}
	}
	return nil
}
