package graph

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Edge is the subset of store.MemoryEdge community detection needs.
type Edge struct {
	SourceID string
	TargetID string
	Weight   float64
}

// DetectedCommunity is one community's membership, ready for
// store.ReplaceCommunities.
type DetectedCommunity struct {
	MemberIDs []string
}

// DetectCommunities runs modularity-based community detection (gonum's
// Louvain implementation substitutes for Leiden -- no Go Leiden/igraph
// binding exists in this ecosystem) over a project's memory graph.
// resolution > 1 yields smaller, tighter communities; < 1 yields larger
// ones, mirroring the resolution parameter the Leiden original exposes.
func DetectCommunities(edges []Edge, resolution float64, seed int64) []DetectedCommunity {
	timer := logging.StartTimer(logging.CategoryGraph, "DetectCommunities")
	defer timer.Stop()

	if len(edges) == 0 {
		return nil
	}
	if resolution <= 0 {
		resolution = 1.0
	}

	ids, idOf := collectNodeIDs(edges)
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for _, id := range ids {
		g.AddNode(simple.Node(idOf[id]))
	}
	for _, e := range edges {
		w := e.Weight
		if w <= 0 {
			w = 1.0
		}
		from := simple.Node(idOf[e.SourceID])
		to := simple.Node(idOf[e.TargetID])
		if from.ID() == to.ID() {
			continue
		}
		g.SetWeightedEdge(simple.WeightedEdge{F: from, T: to, W: w})
	}

	src := rand.NewSource(seed)
	reduced := community.Modularize(g, resolution, src)

	groups := reduced.Communities()
	out := make([]DetectedCommunity, 0, len(groups))
	for _, group := range groups {
		members := make([]string, 0, len(group))
		for _, n := range group {
			members = append(members, ids[n.ID()])
		}
		sort.Strings(members)
		out = append(out, DetectedCommunity{MemberIDs: members})
	}
	return out
}

// collectNodeIDs assigns a dense int64 id to every memory id touched by
// edges, returning the reverse (index -> memory id) slice and the
// forward (memory id -> index) map.
func collectNodeIDs(edges []Edge) ([]string, map[string]int64) {
	idOf := make(map[string]int64)
	var ids []string
	add := func(id string) {
		if _, ok := idOf[id]; !ok {
			idOf[id] = int64(len(ids))
			ids = append(ids, id)
		}
	}
	for _, e := range edges {
		add(e.SourceID)
		add(e.TargetID)
	}
	return ids, idOf
}
