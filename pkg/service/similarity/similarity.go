package similarity

import (
	"context"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDimensionMismatch = goerr.New("vector dimensions do not match", goerr.T(model.TagInput))
	ErrUnknownMetric     = goerr.New("unknown distance metric", goerr.T(model.TagInput))
	ErrEmptyVectors      = goerr.New("no vectors given", goerr.T(model.TagInput))
)

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Empty, zero,
// mismatched or non-finite vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if !isFinite(dot) || !isFinite(normA) || !isFinite(normB) || normA == 0 || normB == 0 {
		return 0
	}

	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if !isFinite(s) {
		return 0
	}
	return clamp(s, -1, 1)
}

// Distance returns the distance between a and b under metric. Cosine
// distance is 1 - cosine similarity.
func Distance(a, b []float32, metric types.DistanceMetric) (float64, error) {
	if len(a) != len(b) {
		return 0, goerr.Wrap(ErrDimensionMismatch, "cannot compute distance", goerr.V("a", len(a)), goerr.V("b", len(b)))
	}

	switch metric {
	case types.MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum), nil

	case types.MetricManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return sum, nil

	case types.MetricCosine:
		return 1 - Cosine(a, b), nil

	default:
		return 0, goerr.Wrap(ErrUnknownMetric, "cannot compute distance", goerr.V("metric", metric))
	}
}

// WeightedSimilarity is cosine similarity with per-dimension weights.
// Negative weights count as zero.
func WeightedSimilarity(a, b, weights []float32) float64 {
	if len(a) == 0 || len(a) != len(b) || len(a) != len(weights) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		w := math.Max(0, float64(weights[i]))
		x, y := float64(a[i]), float64(b[i])
		dot += w * x * y
		normA += w * x * x
		normB += w * y * y
	}
	if normA == 0 || normB == 0 || !isFinite(dot) || !isFinite(normA) || !isFinite(normB) {
		return 0
	}
	return clamp(dot/(math.Sqrt(normA)*math.Sqrt(normB)), -1, 1)
}

// Interpolate returns (1-alpha)*a + alpha*b, L2-normalized unless the result
// is zero. alpha is clamped to [0, 1].
func Interpolate(a, b []float32, alpha float64) ([]float32, error) {
	if len(a) != len(b) {
		return nil, goerr.Wrap(ErrDimensionMismatch, "cannot interpolate", goerr.V("a", len(a)), goerr.V("b", len(b)))
	}
	alpha = clamp(alpha, 0, 1)
	if !isFinite(alpha) {
		alpha = 0
	}

	out := make([]float32, len(a))
	var sum float64
	for i := range a {
		v := (1-alpha)*float64(a[i]) + alpha*float64(b[i])
		out[i] = float32(v)
		sum += v * v
	}
	if sum > 0 && isFinite(sum) {
		norm := math.Sqrt(sum)
		for i := range out {
			out[i] = float32(float64(out[i]) / norm)
		}
	}
	return out, nil
}

// BatchOption configures BatchSimilarity
type BatchOption func(*batchConfig)

type batchConfig struct {
	chunkSize   int
	concurrency int
}

// WithChunkSize sets how many rows are computed per unit of work
func WithChunkSize(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithConcurrency bounds concurrent row chunks
func WithConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// BatchSimilarity returns the len(as) x len(bs) cosine matrix. Rows are
// computed in chunks concurrently.
func BatchSimilarity(ctx context.Context, as, bs [][]float32, opts ...BatchOption) ([][]float64, error) {
	cfg := batchConfig{chunkSize: 64, concurrency: 4}
	for _, opt := range opts {
		opt(&cfg)
	}

	matrix := make([][]float64, len(as))
	if len(as) == 0 {
		return matrix, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)

	for start := 0; start < len(as); start += cfg.chunkSize {
		end := min(start+cfg.chunkSize, len(as))
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return goerr.Wrap(err, "batch similarity canceled", goerr.V("start", start))
			}
			for i := start; i < end; i++ {
				row := make([]float64, len(bs))
				for j, b := range bs {
					row[j] = Cosine(as[i], b)
				}
				matrix[i] = row
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matrix, nil
}
