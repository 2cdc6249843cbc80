package qa

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

type Match struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Index is an in-memory vector index over the chunks of one report.
type Index struct {
	chunks  []string
	vectors [][]float32
}

func BuildIndex(ctx context.Context, embedder Embedder, chunks []string) (*Index, error) {
	vectors, err := embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return &Index{chunks: chunks, vectors: vectors}, nil
}

func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Search returns the k chunks most similar to query, best first. Equal
// scores keep corpus order.
func (ix *Index) Search(ctx context.Context, embedder Embedder, query string, k int) ([]Match, error) {
	if k <= 0 || len(ix.chunks) == 0 {
		return nil, nil
	}
	qv, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		pos   int
		score float64
	}
	results := make([]scored, len(ix.vectors))
	for i, v := range ix.vectors {
		results[i] = scored{pos: i, score: cosine(qv[0], v)}
	}
	slices.SortStableFunc(results, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	k = min(k, len(results))
	matches := make([]Match, k)
	for i := range k {
		matches[i] = Match{Text: ix.chunks[results[i].pos], Score: results[i].score}
	}
	return matches, nil
}

// AssembleContext concatenates matches in rank order and stops at the first
// one that would take the total over budget tokens.
func AssembleContext(matches []Match, tok Tokenizer, budget int) (string, int) {
	var b strings.Builder
	total := 0
	for _, m := range matches {
		n := tok.Count(m.Text)
		if total+n > budget {
			break
		}
		b.WriteString(m.Text)
		b.WriteByte('\n')
		total += n
	}
	return b.String(), total
}

func BuildPrompt(contextText, question string) string {
	return "Context:\n" + contextText + "\n\nQuestion: " + question + "\nAnswer:"
}
