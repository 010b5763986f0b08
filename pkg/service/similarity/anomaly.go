package similarity

import (
	"slices"

	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultAnomalyThreshold = 0.8
	DefaultAnomalyNeighbors = 5
)

// Anomaly is the result of scoring a vector against a population
type Anomaly struct {
	// Score is the share of the population that sits in a denser neighborhood
	Score     float64
	Density   float64
	IsAnomaly bool
}

// AnomalyDetector scores how isolated a vector is relative to a population
type AnomalyDetector struct {
	threshold float64
	neighbors int
}

type AnomalyOption func(*AnomalyDetector)

func WithThreshold(v float64) AnomalyOption {
	return func(d *AnomalyDetector) {
		if v > 0 && v <= 1 {
			d.threshold = v
		}
	}
}

func WithNeighbors(k int) AnomalyOption {
	return func(d *AnomalyDetector) {
		if k > 0 {
			d.neighbors = k
		}
	}
}

func NewAnomalyDetector(opts ...AnomalyOption) *AnomalyDetector {
	d := &AnomalyDetector{
		threshold: DefaultAnomalyThreshold,
		neighbors: DefaultAnomalyNeighbors,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AnomalyScore scores vec with the default threshold and neighbor count
func AnomalyScore(vec []float32, population [][]float32) (Anomaly, error) {
	return NewAnomalyDetector().Score(vec, population)
}

// Score computes the neighborhood density of vec (mean cosine to its k
// nearest members of population) and compares it with the density of every
// population member. vec must not itself be part of population. A population
// smaller than two yields a zero score.
func (d *AnomalyDetector) Score(vec []float32, population [][]float32) (Anomaly, error) {
	for i, p := range population {
		if len(p) != len(vec) {
			return Anomaly{}, goerr.Wrap(ErrDimensionMismatch, "cannot score anomaly",
				goerr.V("index", i), goerr.V("expected", len(vec)), goerr.V("actual", len(p)))
		}
	}
	if len(population) < 2 {
		return Anomaly{}, nil
	}

	density := d.density(vec, population, -1)

	denser := 0
	for i, p := range population {
		if d.density(p, population, i) > density {
			denser++
		}
	}

	score := float64(denser) / float64(len(population))
	return Anomaly{
		Score:     score,
		Density:   density,
		IsAnomaly: score >= d.threshold,
	}, nil
}

func (d *AnomalyDetector) density(vec []float32, population [][]float32, skip int) float64 {
	sims := make([]float64, 0, len(population))
	for i, p := range population {
		if i == skip {
			continue
		}
		sims = append(sims, Cosine(vec, p))
	}
	if len(sims) == 0 {
		return 0
	}

	slices.SortFunc(sims, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})

	k := min(d.neighbors, len(sims))
	var sum float64
	for _, s := range sims[:k] {
		sum += s
	}
	return sum / float64(k)
}
