package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

// IndexMemoryEntities extracts entities from a freshly-stored memory's
// content and links them, upserting entities that already exist in the
// project rather than duplicating them.
func IndexMemoryEntities(s *store.Store, project, memoryID, content string) error {
	timer := logging.StartTimer(logging.CategoryGraph, "IndexMemoryEntities")
	defer timer.Stop()

	for _, ex := range ExtractEntities(content) {
		entityID, err := s.UpsertEntity(&store.Entity{
			ID:      uuid.NewString(),
			Project: project,
			Type:    string(ex.Type),
			Name:    ex.Name,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert entity %s: %w", ex.Name, err)
		}
		ref := &store.MemoryEntityRef{
			ID:             uuid.NewString(),
			MemoryID:       memoryID,
			EntityID:       entityID,
			Relationship:   "mentions",
			ContextSnippet: ex.ContextSnippet,
		}
		if err := s.InsertRef(ref); err != nil {
			return fmt.Errorf("failed to link memory %s to entity %s: %w", memoryID, ex.Name, err)
		}
	}
	return nil
}

// RebuildCommunities recomputes level-0 communities for a project from its
// current memory_edges graph and persists them, summarizing each one
// extractively (llm, if non-nil, is tried first per community).
func RebuildCommunities(ctx context.Context, s *store.Store, project string, resolution float64, seed int64, llm LLMFunc) error {
	timer := logging.StartTimer(logging.CategoryGraph, "RebuildCommunities")
	defer timer.Stop()

	storedEdges, err := s.AllEdges(project)
	if err != nil {
		return fmt.Errorf("failed to load edges for %s: %w", project, err)
	}

	edges := make([]Edge, 0, len(storedEdges))
	for _, e := range storedEdges {
		edges = append(edges, Edge{SourceID: e.SourceID, TargetID: e.TargetID, Weight: 1.0})
	}

	detected := DetectCommunities(edges, resolution, seed)
	communities := make([]*store.Community, 0, len(detected))

	for i, d := range detected {
		members, err := s.GetMemories(d.MemberIDs)
		if err != nil {
			return fmt.Errorf("failed to load members for community %d: %w", i, err)
		}

		memberInput := make([]MemberMemory, 0, len(members))
		var keyEntities []string
		for _, m := range members {
			memberInput = append(memberInput, MemberMemory{ID: m.ID, Category: m.Category, Content: m.Content})
			for _, ex := range ExtractEntities(m.Content) {
				keyEntities = append(keyEntities, ex.Name)
			}
		}

		name := fmt.Sprintf("%s-community-%d", project, i)
		summary := Summarize(ctx, DefaultSummaryConfig(), name, memberInput, dedupStrings(keyEntities), llm)

		communities = append(communities, &store.Community{
			ID:          uuid.NewString(),
			Project:     project,
			Level:       0,
			MemberIDs:   d.MemberIDs,
			KeyEntities: dedupStrings(keyEntities),
			Summary:     summary,
		})
	}

	return s.ReplaceCommunities(project, 0, communities)
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
