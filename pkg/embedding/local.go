package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Local is a deterministic in-process embedder: hashed unigram and bigram
// features projected into a fixed-size vector, L2-normalized. It needs no
// model file and no network, and produces stable rankings for a fixed
// input set across restarts.
type Local struct {
	dim int
}

func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = 256
	}
	return &Local{dim: dim}
}

func (l *Local) Dimension() int {
	return l.dim
}

func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, l.dim)
	tokens := tokenize(text)

	for i, tok := range tokens {
		addFeature(vec, tok, 1.0)
		if i+1 < len(tokens) {
			addFeature(vec, tok+" "+tokens[i+1], 0.5)
		}
	}

	normalize(vec)
	return vec, nil
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(len(vec)))
	// Next bit of the hash picks the sign, so colliding features tend to
	// cancel instead of compounding.
	sign := float32(1)
	if (sum>>63)&1 == 1 {
		sign = -1
	}
	vec[idx] += sign * weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
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
