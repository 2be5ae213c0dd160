// Package bm25 implements Okapi BM25 lexical scoring over the memory
// corpus (C2). It mirrors the store's single-writer discipline with its
// own mutex because the index is an in-memory structure rebuilt lazily
// from document adds/removals rather than a SQL table.
package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize lowercases, splits on runs of characters other than letters,
// digits and underscores (so foo_bar stays one token), and drops tokens
// of length <= 2 -- short enough to be noise in memory-sized content.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) > 2 {
			out = append(out, m)
		}
	}
	return out
}

// Index is a BM25 index over a set of documents keyed by an opaque string
// id (the memory id). k1 controls term-frequency saturation, b controls
// document-length normalization; both default to the Okapi BM25 values.
type Index struct {
	mu sync.RWMutex

	k1            float64
	b             float64
	tagMultiplier int

	docs    map[string][]string // doc id -> tokens (tags repeated tagMultiplier times)
	docLens map[string]int
	avgLen  float64
	df      map[string]int // document frequency per term
	dirty   bool

	order []string // stable doc id ordering for the current built index
}

// Config tunes the scoring parameters; zero values fall back to defaults.
type Config struct {
	K1            float64
	B             float64
	TagMultiplier int
}

// DefaultConfig mirrors the standard Okapi BM25 parameters.
func DefaultConfig() Config {
	return Config{K1: 1.5, B: 0.75, TagMultiplier: 3}
}

// New creates an empty index.
func New(cfg Config) *Index {
	if cfg.K1 == 0 {
		cfg.K1 = 1.5
	}
	if cfg.B == 0 {
		cfg.B = 0.75
	}
	if cfg.TagMultiplier == 0 {
		cfg.TagMultiplier = 3
	}
	return &Index{
		k1:            cfg.K1,
		b:             cfg.B,
		tagMultiplier: cfg.TagMultiplier,
		docs:          make(map[string][]string),
		docLens:       make(map[string]int),
		df:            make(map[string]int),
		dirty:         true,
	}
}

// AddDocument indexes (or re-indexes) a document's content plus tags,
// where each tag token is repeated tagMultiplier times to boost its weight
// relative to free-text content.
func (idx *Index) AddDocument(id, content string, tags []string) {
	tokens := Tokenize(content)
	for _, tag := range tags {
		tagTokens := Tokenize(tag)
		for i := 0; i < idx.tagMultiplier; i++ {
			tokens = append(tokens, tagTokens...)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs[id] = tokens
	idx.dirty = true
}

// RemoveDocument drops a document from the index.
func (idx *Index) RemoveDocument(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.docs[id]; ok {
		delete(idx.docs, id)
		idx.dirty = true
	}
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// rebuildLocked recomputes document frequencies and average length.
// Caller must hold idx.mu for writing.
func (idx *Index) rebuildLocked() {
	timer := logging.StartTimer(logging.CategoryBM25, "rebuild")
	defer timer.Stop()

	idx.order = idx.order[:0]
	idx.df = make(map[string]int)
	idx.docLens = make(map[string]int)

	var totalLen int
	for id, tokens := range idx.docs {
		idx.order = append(idx.order, id)
		idx.docLens[id] = len(tokens)
		totalLen += len(tokens)

		seen := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			if !seen[t] {
				idx.df[t]++
				seen[t] = true
			}
		}
	}
	sort.Strings(idx.order) // deterministic iteration, doesn't affect ranking

	if len(idx.docs) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(idx.docs))
	} else {
		idx.avgLen = 0
	}
	idx.dirty = false
}

// idf computes the BM25 inverse document frequency for a term, using the
// standard +1 smoothing to keep the score non-negative for common terms.
func (idx *Index) idf(term string, n int) float64 {
	df := idx.df[term]
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// Scores returns the BM25 score for every indexed document against query,
// keyed by document id. Documents that share no terms with the query are
// omitted.
func (idx *Index) Scores(query string) map[string]float64 {
	idx.mu.Lock()
	if idx.dirty {
		idx.rebuildLocked()
	}
	idx.mu.Unlock()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || len(idx.docs) == 0 {
		return nil
	}

	n := len(idx.docs)
	scores := make(map[string]float64)

	for _, id := range idx.order {
		tokens := idx.docs[id]
		termFreq := make(map[string]int, len(tokens))
		for _, t := range tokens {
			termFreq[t]++
		}

		docLen := idx.docLens[id]
		var score float64
		for _, qt := range queryTokens {
			tf := termFreq[qt]
			if tf == 0 {
				continue
			}
			idfVal := idx.idf(qt, n)
			numerator := float64(tf) * (idx.k1 + 1)
			denominator := float64(tf) + idx.k1*(1-idx.b+idx.b*float64(docLen)/idx.avgLen)
			score += idfVal * numerator / denominator
		}
		if score > 0 {
			scores[id] = score
		}
	}
	return scores
}

// Result is one ranked hit.
type Result struct {
	ID    string
	Score float64
}

// Search returns up to topK documents scoring above threshold, ranked
// highest first.
func (idx *Index) Search(query string, topK int, threshold float64) []Result {
	scores := idx.Scores(query)
	if len(scores) == 0 {
		return nil
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		if score > threshold {
			results = append(results, Result{ID: id, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
