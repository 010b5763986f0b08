package embedding

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

// Local is a deterministic feature-hashing embedder. Latin words and CJK
// character bigrams (minus hiragana-only ones) are hashed into a fixed number of buckets with a signed
// hash, then the vector is L2-normalized. It needs no network and is used
// when no LLM is configured and as the lexical fallback of retrieval.
type Local struct {
	dimension int
}

var _ interfaces.Embedder = &Local{}

// NewLocal creates a Local embedder. dim <= 0 selects model.EmbeddingDimension.
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = model.EmbeddingDimension
	}
	return &Local{dimension: dim}
}

// Dimension returns the vector length
func (x *Local) Dimension() int {
	return x.dimension
}

func (x *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}
	return x.vector(text), nil
}

func (x *Local) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = x.vector(t)
	}
	return out, nil
}

func (x *Local) vector(text string) []float32 {
	tokens := textutil.ContentTokens(text)
	if len(tokens) == 0 {
		// symbols only
		tokens = []string{textutil.Normalize(text)}
	}

	v := x.hash(tokens, true)
	if magnitude(v) == 0 {
		// signed buckets cancelled out
		v = x.hash(tokens, false)
	}
	return Normalize(v)
}

func (x *Local) hash(tokens []string, signed bool) []float32 {
	v := make([]float32, x.dimension)
	for _, tok := range tokens {
		sum := xxhash.Sum64String(tok)

		idx := int(sum % uint64(x.dimension))
		if signed && sum&(1<<63) != 0 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	return v
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
