package similarity

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

const maxIterations = 100

// Item is a clustering input. Text is only used to derive labels.
type Item struct {
	ID     string
	Vector []float32
	Text   string
}

// Group is one cluster produced by Cluster
type Group struct {
	Label    string
	Members  []string
	Centroid []float32
	Cohesion float64
}

// Cluster partitions items into at most k groups with deterministic k-means.
// Seeding starts from the first item and repeatedly picks the item farthest
// from the chosen centroids. Groups are ordered by size, largest first.
func Cluster(items []Item, k int) ([]Group, error) {
	if len(items) == 0 {
		return nil, goerr.Wrap(ErrEmptyVectors, "cannot cluster")
	}
	if k <= 0 {
		return nil, goerr.New("k must be positive", goerr.T(model.TagInput), goerr.V("k", k))
	}
	dim := len(items[0].Vector)
	if dim == 0 {
		return nil, goerr.Wrap(ErrEmptyVectors, "cannot cluster zero-length vectors")
	}
	for i, item := range items {
		if len(item.Vector) != dim {
			return nil, goerr.Wrap(ErrDimensionMismatch, "cannot cluster",
				goerr.V(model.IndexKey, i), goerr.V("expected", dim), goerr.V("actual", len(item.Vector)))
		}
	}
	k = min(k, len(items))

	vectors := make([][]float32, len(items))
	for i, item := range items {
		vectors[i] = normalized(item.Vector)
	}

	centroids := seed(vectors, k)
	assign := make([]int, len(vectors))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range centroids {
			if mean := meanOf(vectors, assign, c, dim); mean != nil {
				centroids[c] = mean
			}
		}
	}

	groups := make([]Group, 0, k)
	firstIndex := make([]int, 0, k)
	for c := range centroids {
		var members []int
		for i, a := range assign {
			if a == c {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}

		g := Group{Centroid: centroids[c]}
		var texts []string
		var cohesion float64
		for _, i := range members {
			g.Members = append(g.Members, items[i].ID)
			texts = append(texts, items[i].Text)
			cohesion += Cosine(vectors[i], centroids[c])
		}
		g.Cohesion = cohesion / float64(len(members))
		g.Label = label(texts)
		groups = append(groups, g)
		firstIndex = append(firstIndex, members[0])
	}

	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if d := len(groups[b].Members) - len(groups[a].Members); d != 0 {
			return d
		}
		return firstIndex[a] - firstIndex[b]
	})

	sorted := make([]Group, len(groups))
	for i, o := range order {
		sorted[i] = groups[o]
		if sorted[i].Label == "" {
			sorted[i].Label = fmt.Sprintf("cluster-%d", i+1)
		}
	}
	return sorted, nil
}

func seed(vectors [][]float32, k int) [][]float32 {
	centroids := [][]float32{slices.Clone(vectors[0])}
	chosen := map[int]bool{0: true}

	for len(centroids) < k {
		bestIdx, bestDist := -1, -1.0
		for i, v := range vectors {
			if chosen[i] {
				continue
			}
			d := math.Inf(1)
			for _, c := range centroids {
				d = math.Min(d, 1-Cosine(v, c))
			}
			if d > bestDist {
				bestIdx, bestDist = i, d
			}
		}
		chosen[bestIdx] = true
		centroids = append(centroids, slices.Clone(vectors[bestIdx]))
	}
	return centroids
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestSim := 0, math.Inf(-1)
	for c, centroid := range centroids {
		if s := Cosine(v, centroid); s > bestSim {
			best, bestSim = c, s
		}
	}
	return best
}

func meanOf(vectors [][]float32, assign []int, cluster, dim int) []float32 {
	sum := make([]float64, dim)
	n := 0
	for i, a := range assign {
		if a != cluster {
			continue
		}
		for d, x := range vectors[i] {
			sum[d] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil
	}

	mean := make([]float32, dim)
	for d := range sum {
		mean[d] = float32(sum[d] / float64(n))
	}
	return normalized(mean)
}

func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := slices.Clone(v)
	if sum == 0 || !isFinite(sum) {
		return out
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

// label joins the two most frequent tokens across texts. Ties are broken
// lexically; single-rune Latin tokens are ignored.
func label(texts []string) string {
	counts := map[string]int{}
	for _, text := range texts {
		for _, tok := range textutil.Tokens(text) {
			if len([]rune(tok)) < 2 && tok[0] < 0x80 {
				continue
			}
			counts[tok]++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	slices.SortFunc(tokens, func(a, b string) int {
		if d := counts[b] - counts[a]; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return strings.Join(tokens[:min(2, len(tokens))], " ")
}
