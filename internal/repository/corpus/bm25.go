package corpus

import (
	"math"
	"regexp"
	"strings"
)

// Okapi BM25 parameters (standard values).
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var wordPattern = regexp.MustCompile(`\w+`)

// tokenize lowercases and extracts word tokens.
func tokenize(text string) []string {
	words := wordPattern.FindAllString(text, -1)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// bm25Index is an Okapi BM25 ranking structure over a fixed document list.
type bm25Index struct {
	termFreqs []map[string]int
	docLens   []float64
	avgLen    float64
	idf       map[string]float64
}

// newBM25 builds the index over tokenized documents. Returns nil for a
// degenerate corpus (no documents or zero average length) so callers can
// disable lexical scoring instead of dividing by zero.
func newBM25(docs [][]string) *bm25Index {
	if len(docs) == 0 {
		return nil
	}

	ix := &bm25Index{
		termFreqs: make([]map[string]int, len(docs)),
		docLens:   make([]float64, len(docs)),
		idf:       make(map[string]float64),
	}

	docFreq := make(map[string]int)
	total := 0.0
	for i, toks := range docs {
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		ix.termFreqs[i] = tf
		ix.docLens[i] = float64(len(toks))
		total += float64(len(toks))
		for t := range tf {
			docFreq[t]++
		}
	}

	ix.avgLen = total / float64(len(docs))
	if ix.avgLen == 0 {
		return nil
	}

	n := float64(len(docs))
	for t, df := range docFreq {
		// Lucene-style smoothed idf, always positive
		ix.idf[t] = math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	}
	return ix
}

// scores ranks every document against the query tokens.
func (ix *bm25Index) scores(query []string) []float64 {
	out := make([]float64, len(ix.termFreqs))
	for _, q := range query {
		idf, ok := ix.idf[q]
		if !ok {
			continue
		}
		for i, tf := range ix.termFreqs {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			norm := bm25K1 * (1 - bm25B + bm25B*ix.docLens[i]/ix.avgLen)
			out[i] += idf * f * (bm25K1 + 1) / (f + norm)
		}
	}
	return out
}
