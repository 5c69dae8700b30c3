package corpus

import (
	"math"
	"sort"

	"github.com/finqa-labs/finqa/internal/domain"
)

// normEps guards L2 normalization and min-max scaling against zero division.
const normEps = 1e-9

// Index is a derived, disposable view over one corpus snapshot: a BM25
// lexical structure plus the record list it scores against. It must be
// rebuilt, never patched, when the corpus mutates; Store swaps a fully built
// Index in under its write lock so readers never observe a half-built one.
type Index struct {
	records []domain.Record
	lexical *bm25Index // nil: lexical scoring disabled for this build
}

// BuildIndex constructs an index over the given records. Records contributing
// no word tokens are excluded from the lexical corpus but remain reachable
// through dense scoring. A degenerate lexical corpus disables lexical scoring
// instead of failing the build.
func BuildIndex(records []domain.Record) *Index {
	var docs [][]string
	for _, rec := range records {
		if toks := tokenize(rec.Text); len(toks) > 0 {
			docs = append(docs, toks)
		}
	}
	return &Index{records: records, lexical: newBM25(docs)}
}

// LexicalScores ranks the lexical corpus against the query and min-max
// normalizes to [0,1]. The vector length equals the lexical corpus size,
// which is smaller than the record count when untokenizable records exist;
// Search detects that mismatch and falls back to dense-only. A zero score
// range is left at zero, not amplified.
func (ix *Index) LexicalScores(query string) []float64 {
	if len(ix.records) == 0 || ix.lexical == nil {
		return nil
	}
	scores := ix.lexical.scores(tokenize(query))
	minMaxScale(scores)
	return scores
}

// DenseScores computes cosine similarity against every record, min-max
// normalized to [0,1] when the score range is non-zero.
func (ix *Index) DenseScores(query []float32) []float64 {
	if len(ix.records) == 0 {
		return nil
	}
	q := normalize(query)
	scores := make([]float64, len(ix.records))
	for i, rec := range ix.records {
		scores[i] = dot(normalize(rec.Vector), q)
	}
	minMaxScale(scores)
	return scores
}

// Search fuses dense and lexical scores as alpha*dense + (1-alpha)*lexical
// and returns the topK records by descending fused score, stable on original
// order. When lexical scores are unavailable or their shape does not match
// the dense vector, the dense score alone is used. This is the documented
// degradation path, not an error.
func (ix *Index) Search(query string, vec []float32, alpha float64, topK int) []domain.Hit {
	if len(ix.records) == 0 || topK <= 0 {
		return nil
	}
	ds := ix.DenseScores(vec)
	ls := ix.LexicalScores(query)

	fused := ds
	if len(ls) == len(ds) && len(ls) > 0 {
		fused = make([]float64, len(ds))
		for i := range ds {
			fused[i] = alpha*ds[i] + (1-alpha)*ls[i]
		}
	}
	return selectTop(ix.records, fused, topK)
}

// HybridSearch searches the store through its hybrid index, rebuilding the
// index first when a mutation has invalidated it.
func (s *Store) HybridSearch(query string, vec []float32, alpha float64, topK int) []domain.Hit {
	return s.index().Search(query, vec, alpha, topK)
}

// index returns the current hybrid index, building it from a snapshot of the
// records under the write lock when stale.
func (s *Store) index() *Index {
	s.mu.RLock()
	ix := s.hybrid
	s.mu.RUnlock()
	if ix != nil {
		return ix
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hybrid == nil {
		snapshot := make([]domain.Record, len(s.records))
		copy(snapshot, s.records)
		s.hybrid = BuildIndex(snapshot)
	}
	return s.hybrid
}

// selectTop picks topK positions by descending score, stable on input order.
func selectTop(records []domain.Record, scores []float64, topK int) []domain.Hit {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if topK > len(order) {
		topK = len(order)
	}
	hits := make([]domain.Hit, 0, topK)
	for _, pos := range order[:topK] {
		hits = append(hits, domain.Hit{Record: records[pos], Score: scores[pos]})
	}
	return hits
}

// minMaxScale rescales scores to [0,1] in place. A zero range leaves the
// vector untouched.
func minMaxScale(scores []float64) {
	if len(scores) == 0 {
		return
	}
	lo, hi := scores[0], scores[0]
	for _, v := range scores[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo <= 0 {
		return
	}
	for i := range scores {
		scores[i] = (scores[i] - lo) / (hi - lo + normEps)
	}
}

// normalize returns v scaled to unit L2 norm, epsilon-guarded.
func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = float64(x)
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEps
	for i := range out {
		out[i] /= norm
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
