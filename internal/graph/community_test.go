package graph

import "testing"

func TestDetectCommunities_Empty(t *testing.T) {
	if got := DetectCommunities(nil, 1.0, 1); got != nil {
		t.Errorf("expected nil for no edges, got %v", got)
	}
}

func TestDetectCommunities_SeparatesDisconnectedCliques(t *testing.T) {
	edges := []Edge{
		{SourceID: "a1", TargetID: "a2", Weight: 1},
		{SourceID: "a2", TargetID: "a3", Weight: 1},
		{SourceID: "a1", TargetID: "a3", Weight: 1},
		{SourceID: "b1", TargetID: "b2", Weight: 1},
		{SourceID: "b2", TargetID: "b3", Weight: 1},
		{SourceID: "b1", TargetID: "b3", Weight: 1},
	}

	communities := DetectCommunities(edges, 1.0, 42)
	if len(communities) != 2 {
		t.Fatalf("expected 2 communities for two disconnected triangles, got %d: %+v", len(communities), communities)
	}

	total := 0
	for _, c := range communities {
		total += len(c.MemberIDs)
	}
	if total != 6 {
		t.Errorf("expected all 6 nodes assigned to a community, got %d", total)
	}
}
