package types

import "github.com/m-mizutani/goerr/v2"

// DistanceMetric represents a distance metric
type DistanceMetric string

const (
	MetricEuclidean DistanceMetric = "euclidean"
	MetricManhattan DistanceMetric = "manhattan"
	MetricCosine    DistanceMetric = "cosine"
)

// AllDistanceMetrics returns all valid values of DistanceMetric
func AllDistanceMetrics() []DistanceMetric {
	return []DistanceMetric{
		MetricEuclidean,
		MetricManhattan,
		MetricCosine,
	}
}

// IsValid checks if the distance metric is valid
func (x DistanceMetric) IsValid() bool {
	switch x {
	case MetricEuclidean,
		MetricManhattan,
		MetricCosine:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x DistanceMetric) String() string {
	return string(x)
}

// ParseDistanceMetric parses a string into a DistanceMetric
func ParseDistanceMetric(s string) (DistanceMetric, error) {
	v := DistanceMetric(s)
	if !v.IsValid() {
		return "", goerr.New("invalid distance metric", goerr.V("value", s))
	}
	return v, nil
}
