package rag

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

// Complexity is a coarse estimate of how much context a query needs
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

var clauseMarkers = []string{
	"、", ",", ";", "また", "さらに", "けど", "けれど", "ので", "ただ", "それと",
	" and ", " but ", " also ", " because ", " however ",
}

// EstimateComplexity rates a query from its length and clause density
func EstimateComplexity(query string) Complexity {
	runes := utf8.RuneCountInString(strings.TrimSpace(query))
	clauses, _ := textutil.CountKeywords(query, clauseMarkers)
	sentences := len(textutil.Sentences(query))
	questions := strings.Count(query, "?") + strings.Count(query, "？")

	score := float64(runes)/100 + 0.5*float64(clauses) + 0.5*float64(max(0, sentences-1)) + 0.5*float64(max(0, questions-1))
	switch {
	case score < 1.5:
		return ComplexitySimple
	case score < 3:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

// PlanRetrieval scales depth and item cap with query complexity
func PlanRetrieval(query string) Options {
	switch EstimateComplexity(query) {
	case ComplexitySimple:
		return Options{Depth: 3, MaxItems: 5}
	case ComplexityModerate:
		return Options{Depth: 5, MaxItems: 10}
	default:
		return Options{Depth: 10, MaxItems: 20, Adaptive: true}
	}
}

// OptimizeContextInjection retrieves with options planned from the query
func (a *Aggregator) OptimizeContextInjection(ctx context.Context, query string) (*Context, error) {
	return a.Retrieve(ctx, query, PlanRetrieval(query))
}
