package qa

import (
	"strings"
	"unicode"

	"churn-dashboard/internal/models"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Corpus serializes result tables into one text line per row:
//
//	<Title> | col: value, col: value
func Corpus(tables []models.Table) []string {
	var lines []string
	for _, t := range tables {
		title := t.Title
		if title == "" {
			title = t.Name
		}
		for _, row := range t.Rows {
			var b strings.Builder
			b.WriteString(title)
			b.WriteString(" | ")
			for i, col := range t.Columns {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(col)
				b.WriteString(": ")
				if i < len(row) {
					b.WriteString(row[i])
				}
			}
			lines = append(lines, b.String())
		}
	}
	return lines
}

// Chunk splits every line into pieces of at most size runes. Consecutive
// pieces of one line share overlap runes. Long lines are cut at whitespace
// where one falls inside the window.
func Chunk(lines []string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) <= size {
			chunks = append(chunks, line)
			continue
		}

		for start := 0; start < len(runes); {
			end := min(start+size, len(runes))
			if end < len(runes) {
				end = breakAt(runes, start, end, overlap)
			}
			chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))
			if end == len(runes) {
				break
			}
			start = max(end-overlap, start+1)
		}
	}
	return chunks
}

// breakAt moves end back to the last whitespace in runes[start:end], as long
// as the cut still advances past the overlap.
func breakAt(runes []rune, start, end, overlap int) int {
	for i := end; i > start+overlap+1; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
