package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/finqa-labs/finqa/internal/chunker"
	"github.com/finqa-labs/finqa/internal/domain"
)

const maxTableRepChars = 2000

var (
	tableLinePattern = regexp.MustCompile(`\S+\s{2,}\S+\s{2,}\S+`)
	columnSplit      = regexp.MustCompile(`\s{2,}`)
	blockSplit       = regexp.MustCompile(`\n\s*\n`)
)

// TextExtractor parses plain-text documents. Paragraph blocks whose lines
// share column-aligned whitespace are lifted out as tables; the full text
// is chunked with the configured strategy.
type TextExtractor struct {
	chunker      *chunker.Chunker
	detectTables bool
}

// NewTextExtractor creates a plain-text extractor backed by ch.
func NewTextExtractor(ch *chunker.Chunker, detectTables bool) *TextExtractor {
	return &TextExtractor{chunker: ch, detectTables: detectTables}
}

// Accepts reports whether filename looks like a plain-text document.
func (e *TextExtractor) Accepts(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".text":
		return true
	}
	return false
}

// Extract reads and parses the file at path.
func (e *TextExtractor) Extract(path string) (domain.ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ParsedDocument{}, fmt.Errorf("read document: %w", err)
	}

	filename := filepath.Base(path)
	fullText := string(data)

	var doc domain.ParsedDocument
	doc.FullText = fullText

	if e.detectTables {
		for i, block := range blockSplit.Split(fullText, -1) {
			if !looksLikeTable(block) {
				continue
			}
			rows := tableRows(block)
			if len(rows) == 0 {
				continue
			}
			doc.Tables = append(doc.Tables, domain.ParsedTable{
				ID:   fmt.Sprintf("table-%d", len(doc.Tables)),
				Text: tableRepresentation(rows),
				Raw:  rows,
				Metadata: map[string]any{
					domain.MetaSourceFile: filename,
					domain.MetaType:       string(domain.CorpusTable),
					domain.MetaPage:       i,
				},
			})
		}
	}

	for i, ch := range e.chunker.Chunk(fullText) {
		doc.Chunks = append(doc.Chunks, domain.ParsedChunk{
			ID:   fmt.Sprintf("chunk-%d", i),
			Text: ch.Text,
			Metadata: map[string]any{
				domain.MetaSourceFile: filename,
				domain.MetaType:       string(domain.CorpusChunk),
				domain.MetaCharStart:  ch.Start,
				domain.MetaCharEnd:    ch.End,
			},
		})
	}

	return doc, nil
}

// looksLikeTable requires at least two non-empty lines with three
// column-aligned fields each.
func looksLikeTable(text string) bool {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	if len(lines) < 2 {
		return false
	}
	hits := 0
	for _, ln := range lines {
		if tableLinePattern.MatchString(ln) {
			hits++
		}
	}
	return hits >= 2
}

func tableRows(text string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rows = append(rows, columnSplit.Split(line, -1))
	}
	return rows
}

// tableRepresentation renders a table as header columns plus the first
// column of the leading rows, compact enough to embed.
func tableRepresentation(rows [][]string) string {
	header := rows[0]
	var firstCol []string
	for _, r := range rows[1:] {
		if len(r) > 0 {
			firstCol = append(firstCol, r[0])
		}
		if len(firstCol) == 15 {
			break
		}
	}
	rep := strings.Join(header, " | ") + " || " + strings.Join(firstCol, " ; ")
	if len(rep) > maxTableRepChars {
		rep = rep[:maxTableRepChars]
	}
	return rep
}
