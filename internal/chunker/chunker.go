// Package chunker splits raw document text into ordered, offset-tracked chunks.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/finqa-labs/finqa/internal/domain"
)

// Strategy selects how text is split.
type Strategy string

const (
	// StrategyFixed is a sliding window of chunkSize with overlap.
	StrategyFixed Strategy = "fixed"
	// StrategySentence groups whole sentences up to chunkSize.
	StrategySentence Strategy = "sentence"
	// StrategyRecursive groups sentences, then re-splits oversized groups
	// with the fixed window.
	StrategyRecursive Strategy = "recursive"
)

// DefaultSentencePattern matches a sentence boundary: terminal punctuation
// followed by whitespace. The terminal character stays with its sentence.
const DefaultSentencePattern = `[.!?]\s+`

// Chunker is a configurable text splitter. Safe for concurrent use.
type Chunker struct {
	strategy     Strategy
	chunkSize    int
	overlap      int
	maxChunkSize int
	boundary     *regexp.Regexp
}

// New creates a chunker. overlap must be smaller than chunkSize or the fixed
// window cannot advance.
func New(strategy Strategy, chunkSize, overlap, maxChunkSize int, sentencePattern string) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	if maxChunkSize <= 0 {
		maxChunkSize = chunkSize
	}
	if sentencePattern == "" {
		sentencePattern = DefaultSentencePattern
	}
	boundary, err := regexp.Compile(sentencePattern)
	if err != nil {
		return nil, fmt.Errorf("compile sentence pattern: %w", err)
	}
	return &Chunker{
		strategy:     strategy,
		chunkSize:    chunkSize,
		overlap:      overlap,
		maxChunkSize: maxChunkSize,
		boundary:     boundary,
	}, nil
}

// Chunk splits text under the configured strategy. Empty text yields nil.
// Unknown strategies fall back to fixed.
func (c *Chunker) Chunk(text string) []domain.TextChunk {
	if text == "" {
		return nil
	}
	switch c.strategy {
	case StrategySentence:
		return c.sentenceGroup(text)
	case StrategyRecursive:
		return c.recursive(text)
	default:
		return c.fixed(text)
	}
}

// fixed yields windows of chunkSize stepping chunkSize-overlap. The last
// window may be short and ends exactly at text end.
func (c *Chunker) fixed(text string) []domain.TextChunk {
	n := len(text)
	out := make([]domain.TextChunk, 0, n/c.chunkSize+1)
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		out = append(out, domain.TextChunk{Text: text[start:end], Start: start, End: end})
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return out
}

// splitSentences returns trimmed sentences. The boundary pattern consumes the
// whitespace between sentences, so offsets cannot be computed additively from
// sentence lengths; sentenceGroup re-locates each chunk in the source text.
func (c *Chunker) splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range c.boundary.FindAllStringIndex(text, -1) {
		// keep the terminal punctuation with the sentence
		end := loc[0] + 1
		if end < last {
			continue
		}
		if s := strings.TrimSpace(text[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if last < len(text) {
		if s := strings.TrimSpace(text[last:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sentenceGroup greedily accumulates sentences while the joined length stays
// within chunkSize. A single sentence longer than chunkSize becomes one
// oversized chunk here; only the recursive strategy corrects that.
func (c *Chunker) sentenceGroup(text string) []domain.TextChunk {
	sentences := c.splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var out []domain.TextChunk
	var buf []string
	bufLen := 0
	cursor := 0
	chunkStart := 0

	locate := func(s string) int {
		if idx := strings.Index(text[cursor:], s); idx >= 0 {
			return cursor + idx
		}
		return cursor
	}

	for _, s := range sentences {
		if len(buf) == 0 {
			chunkStart = locate(s)
		}
		sep := 0
		if len(buf) > 0 {
			sep = 1
		}
		if bufLen+sep+len(s) > c.chunkSize && len(buf) > 0 {
			chunkText := strings.Join(buf, " ")
			end := chunkStart + len(chunkText)
			out = append(out, domain.TextChunk{Text: chunkText, Start: chunkStart, End: end})
			buf = buf[:0]
			buf = append(buf, s)
			bufLen = len(s)
			cursor = end
			chunkStart = locate(s)
		} else {
			buf = append(buf, s)
			if bufLen > 0 {
				bufLen += 1 + len(s)
			} else {
				bufLen = len(s)
			}
		}
	}
	if len(buf) > 0 {
		chunkText := strings.Join(buf, " ")
		out = append(out, domain.TextChunk{Text: chunkText, Start: chunkStart, End: chunkStart + len(chunkText)})
	}
	return out
}

// recursive applies sentence grouping and re-splits any chunk exceeding
// maxChunkSize with the fixed window, translating sub-chunk offsets back into
// original-document coordinates.
func (c *Chunker) recursive(text string) []domain.TextChunk {
	var out []domain.TextChunk
	for _, g := range c.sentenceGroup(text) {
		if len(g.Text) <= c.maxChunkSize {
			out = append(out, g)
			continue
		}
		for _, sub := range c.fixed(g.Text) {
			out = append(out, domain.TextChunk{
				Text:  sub.Text,
				Start: g.Start + sub.Start,
				End:   g.Start + sub.End,
			})
		}
	}
	return out
}
