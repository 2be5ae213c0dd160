package retrieval

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/bm25"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/config"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/embedding"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/vectorindex"
)

// DocPrefix and QueryPrefix must match the configured encoder's training
// convention -- spec'd separately for documents and queries (§4.3).
// Exported so callers computing a memory's embedding ahead of indexing
// (e.g. for a surprise-score calculation before the memory is upserted
// into the dense index) can apply the same convention.
const (
	DocPrefix   = "<doc>"
	QueryPrefix = "<query>"
)

// Filter narrows a hybrid search to a subset of a project's memories.
type Filter struct {
	Categories []string
	Tags       []string
	FilePath   string
}

// Engine runs the fan-out/fuse/re-weight hybrid search pipeline. One
// Engine serves one store; it keeps one BM25 index per project (C2 is
// specified as "in-memory per-project"), and one shared dense-vector
// index (C3 is project-filtered at query time instead).
type Engine struct {
	store    *store.Store
	vectors  *vectorindex.Index
	embedder embedding.Engine
	rrf      config.RRFConfig
	bm25Cfg  bm25.Config

	mu    sync.Mutex
	lexes map[string]*bm25.Index
}

// NewEngine wires a hybrid search engine against an already-open store,
// dense-vector index, and embedding engine.
func NewEngine(s *store.Store, vectors *vectorindex.Index, embedder embedding.Engine, rrf config.RRFConfig, bm25Cfg bm25.Config) *Engine {
	return &Engine{
		store:    s,
		vectors:  vectors,
		embedder: embedder,
		rrf:      rrf,
		bm25Cfg:  bm25Cfg,
		lexes:    make(map[string]*bm25.Index),
	}
}

func (e *Engine) lexiconFor(project string) *bm25.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.lexes[project]
	if !ok {
		idx = bm25.New(e.bm25Cfg)
		e.lexes[project] = idx
	}
	return idx
}

// IndexMemory adds a memory to the lexical and dense indices. It is
// idempotent: callers may re-index on update by calling it again, since
// both underlying indices replace by id.
func (e *Engine) IndexMemory(ctx context.Context, m *store.Memory) error {
	if e.embedder == nil || e.vectors == nil {
		e.lexiconFor(m.Project).AddDocument(m.ID, m.Content, m.Tags)
		return nil
	}
	vec, err := e.embedder.Embed(ctx, DocPrefix+" "+m.Content)
	if err != nil {
		return err
	}
	return e.IndexMemoryWithVector(m, vec)
}

// IndexMemoryWithVector is IndexMemory for a caller that has already
// computed the memory's document embedding -- e.g. a surprise-score
// calculation that needs the vector before the memory is upserted into
// the dense index, and would otherwise force a second, redundant Embed
// call here.
func (e *Engine) IndexMemoryWithVector(m *store.Memory, vec []float32) error {
	e.lexiconFor(m.Project).AddDocument(m.ID, m.Content, m.Tags)
	if e.vectors == nil || vec == nil {
		return nil
	}
	return e.vectors.Upsert(m.ID, vec, vectorindex.Metadata{
		Project:  m.Project,
		Category: m.Category,
		Tags:     m.Tags,
		FilePath: m.FilePath,
	})
}

// Embedder exposes the engine's embedder so callers needing a raw
// embedding outside the index/search paths (surprise scoring) don't need
// their own reference threaded through.
func (e *Engine) Embedder() embedding.Engine { return e.embedder }

// VectorIndex exposes the dense index directly for operations the
// fan-out search doesn't cover, such as nearest-neighbor distance for
// surprise scoring.
func (e *Engine) VectorIndex() *vectorindex.Index { return e.vectors }

// RemoveMemory drops a memory from both indices (used on archive, which
// never removes the underlying row, only makes it unsearchable).
func (e *Engine) RemoveMemory(project, id string) {
	e.lexiconFor(project).RemoveDocument(id)
	if e.vectors != nil {
		_ = e.vectors.Remove(id)
	}
}

// Search runs the full C5 pipeline and returns hydrated memories ordered
// by final (post-reweight) score. An empty query returns an empty list,
// never an error; an unavailable retriever is skipped, not fatal.
func (e *Engine) Search(ctx context.Context, project, query string, k int, filter Filter) ([]*store.Memory, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Search")
	defer timer.Stop()

	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	var (
		lexResults    []bm25.Result
		denseResults  []vectorindex.Result
		ftsResults    []store.FTSResult
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lexResults = e.lexiconFor(project).Search(query, e.rrf.BM25Candidates, e.rrf.BM25Threshold)
		return nil
	})

	if e.embedder != nil && e.vectors != nil {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, QueryPrefix+" "+query)
			if err != nil {
				logging.Get(logging.CategoryRetrieval).Warn("query embedding failed, dropping dense results: %v", err)
				return nil
			}
			vecFilter := vectorindex.Filter{Project: project, Category: firstOrEmpty(filter.Categories), Tags: filter.Tags, FilePath: filter.FilePath}
			results, err := e.vectors.Search(vec, e.rrf.VectorCandidates, vecFilter)
			if err != nil {
				logging.Get(logging.CategoryRetrieval).Warn("dense search failed, dropping dense results: %v", err)
				return nil
			}
			denseResults = filterByThreshold(results, e.rrf.VectorThreshold)
			return nil
		})
	}

	g.Go(func() error {
		results, err := e.store.SearchFTS(query, e.rrf.BM25Candidates, "<<", ">>")
		if err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("fts search failed, dropping fts results: %v", err)
			return nil
		}
		ftsResults = results
		return nil
	})

	// Every goroutine above swallows its own retriever-specific error so
	// one slow/broken list never fails the whole query (§4.5 edge case);
	// since every goroutine returns nil, g.Wait returns nil here.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var lists []RankedList
	if len(lexResults) > 0 {
		ids := make(RankedList, len(lexResults))
		for i, r := range lexResults {
			ids[i] = r.ID
		}
		lists = append(lists, ids)
	}
	if len(denseResults) > 0 {
		ids := make(RankedList, len(denseResults))
		for i, r := range denseResults {
			ids[i] = r.MemoryID
		}
		lists = append(lists, ids)
	}
	if len(ftsResults) > 0 {
		ids := make(RankedList, len(ftsResults))
		for i, r := range ftsResults {
			ids[i] = r.MemoryID
		}
		lists = append(lists, ids)
	}

	if len(lists) == 0 {
		return nil, nil
	}

	fused := ReciprocalRankFusion(lists, e.rrf.K)

	candidateIDs := make([]string, len(fused))
	for i, f := range fused {
		candidateIDs[i] = f.MemoryID
	}
	memories, err := e.store.GetMemories(candidateIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	reweighted := make([]FusedResult, 0, len(fused))
	for _, f := range fused {
		m, ok := byID[f.MemoryID]
		if !ok || m.Archived {
			continue
		}
		if !matchesFilter(m, filter) {
			continue
		}
		reweighted = append(reweighted, FusedResult{MemoryID: f.MemoryID, Score: e.reweight(f.Score, m)})
	}
	sortFusedByScoreDesc(reweighted)

	if len(reweighted) > k {
		reweighted = reweighted[:k]
	}

	out := make([]*store.Memory, 0, len(reweighted))
	for _, f := range reweighted {
		out = append(out, byID[f.MemoryID])
	}
	return out, nil
}

// reweight applies the optional recency/importance/pinned adjustments
// from §4.5, each independently gated by config.
func (e *Engine) reweight(score float64, m *store.Memory) float64 {
	if e.rrf.RecencyEnabled {
		ageDays := time.Since(m.CreatedAt).Hours() / 24.0
		tau := e.rrf.RecencyTauDays
		if tau <= 0 {
			tau = 30.0
		}
		score *= math.Exp(-ageDays / tau)
	}
	if e.rrf.ImportanceEnabled {
		score *= 1.0 + m.ImportanceScore
	}
	if e.rrf.PinnedEnabled && m.Pinned {
		bonus := e.rrf.PinnedBonus
		if bonus <= 0 {
			bonus = 1000.0
		}
		score += bonus
	}
	return score
}

func matchesFilter(m *store.Memory, f Filter) bool {
	if len(f.Categories) > 0 && !containsString(f.Categories, m.Category) {
		return false
	}
	if f.FilePath != "" && m.FilePath != f.FilePath {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			if containsString(m.Tags, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func filterByThreshold(results []vectorindex.Result, threshold float64) []vectorindex.Result {
	if threshold <= 0 {
		return results
	}
	out := make([]vectorindex.Result, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}
