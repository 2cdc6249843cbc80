package qa

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultDimensions = 512

// Embedder maps texts to vectors. Vectors returned for one index must have
// the same length.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HashEmbedder is a deterministic bag-of-words embedder. Each lower-cased
// term and each adjacent term pair is hashed into a fixed number of buckets
// and the result is L2-normalized.
type HashEmbedder struct {
	Dimensions int
}

func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbedder{Dimensions: dimensions}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.Dimensions)
	terms := Terms(text)
	for i, term := range terms {
		vec[e.bucket(term)]++
		if i > 0 {
			vec[e.bucket(terms[i-1]+" "+term)] += 0.5
		}
	}
	normalize(vec)
	return vec
}

func (e *HashEmbedder) bucket(term string) int {
	h := fnv.New32a()
	h.Write([]byte(term))
	return int(h.Sum32() % uint32(e.Dimensions))
}

// Terms splits text into lower-cased runs of letters and digits. Decimal
// points and thousands separators inside numbers are kept.
func Terms(text string) []string {
	var terms []string
	var b strings.Builder
	runes := []rune(strings.ToLower(text))
	for i, r := range runes {
		numberSep := (r == '.' || r == ',') && b.Len() > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i+1]) && i > 0 && unicode.IsDigit(runes[i-1])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || numberSep {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			terms = append(terms, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		terms = append(terms, b.String())
	}
	return terms
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
