// Package retrieval implements the hybrid search engine (C5): it fans
// BM25, dense-vector, and FTS5 lookups out in parallel, fuses them with
// Reciprocal Rank Fusion, and applies optional recency/importance/pinned
// re-weighting before hydrating rows from the relational store.
package retrieval

import "sort"

// RankedList is one retriever's ordered result set -- rank is implied by
// position, mirroring the Python original's enumerate(results, start=1).
type RankedList []string

// ReciprocalRankFusion combines ranked id lists into one fused ranking:
// score(d) = Σ 1 / (k + rank_in_list(d)), summed across every list the id
// appears in. Lists that don't contain an id simply don't contribute.
func ReciprocalRankFusion(lists []RankedList, k int) []FusedResult {
	if k <= 0 {
		k = 60
	}
	scores := make(map[string]float64)
	order := make([]string, 0)

	for _, list := range lists {
		for i, id := range list {
			rank := i + 1
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+rank)
		}
	}

	out := make([]FusedResult, 0, len(order))
	for _, id := range order {
		out = append(out, FusedResult{MemoryID: id, Score: scores[id]})
	}
	sortFusedByScoreDesc(out)
	return out
}

// FusedResult is one candidate's post-fusion score, before re-weighting.
type FusedResult struct {
	MemoryID string
	Score    float64
}

func sortFusedByScoreDesc(results []FusedResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
