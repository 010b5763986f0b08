package resolution

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

var ErrInvalidSteps = goerr.New("invalid step sequence", goerr.T(model.TagInput))

// Step is a node of a hypothetical resolution procedure
type Step struct {
	ID        string
	Action    string
	Duration  time.Duration
	DependsOn []string
	// Optional steps may be dropped when nothing depends on them
	Optional bool
}

// Optimization is the result of OptimizePath
type Optimization struct {
	Removed []string
	// Groups lists step IDs per dependency level. Steps of one group can run
	// in parallel.
	Groups            [][]string
	OriginalDuration  time.Duration
	OptimizedDuration time.Duration
	Reduction         time.Duration
	ReductionRatio    float64
	Rationale         []string
}

// OptimizePath removes duplicate and optional leaf steps and groups the
// remaining steps by dependency level. The original duration assumes
// sequential execution; the optimized duration sums the longest step of
// each group.
func OptimizePath(steps []Step) (*Optimization, error) {
	if len(steps) == 0 {
		return nil, goerr.Wrap(ErrInvalidSteps, "no steps")
	}

	index := map[string]int{}
	for i, s := range steps {
		if s.ID == "" {
			return nil, goerr.Wrap(ErrInvalidSteps, "step ID is required", goerr.V(model.IndexKey, i))
		}
		if _, dup := index[s.ID]; dup {
			return nil, goerr.Wrap(ErrInvalidSteps, "duplicate step ID", goerr.V("id", s.ID))
		}
		if s.Duration < 0 {
			return nil, goerr.Wrap(ErrInvalidSteps, "negative duration", goerr.V("id", s.ID))
		}
		index[s.ID] = i
	}

	result := &Optimization{}
	for _, s := range steps {
		result.OriginalDuration += s.Duration
	}

	// step ID -> ID of the step it duplicates
	alias := map[string]string{}
	for i, s := range steps {
		for _, prev := range steps[:i] {
			if _, removed := alias[prev.ID]; removed {
				continue
			}
			if textutil.Normalize(prev.Action) == textutil.Normalize(s.Action) && textutil.Normalize(s.Action) != "" {
				alias[s.ID] = prev.ID
				result.Removed = append(result.Removed, s.ID)
				result.Rationale = append(result.Rationale,
					fmt.Sprintf("step %s repeats step %s (%s)", s.ID, prev.ID, s.Action))
				break
			}
		}
	}
	resolve := func(id string) string {
		if a, ok := alias[id]; ok {
			return a
		}
		return id
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, s := range steps {
		if _, removed := alias[s.ID]; removed {
			continue
		}
		if err := g.AddVertex(s.ID); err != nil {
			return nil, goerr.Wrap(err, "failed to add step", goerr.V("id", s.ID))
		}
	}
	for _, s := range steps {
		to := resolve(s.ID)
		for _, dep := range s.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, goerr.Wrap(ErrInvalidSteps, "unknown dependency", goerr.V("id", s.ID), goerr.V("depends_on", dep))
			}
			from := resolve(dep)
			if from == to {
				continue
			}
			if err := g.AddEdge(from, to); err != nil {
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, goerr.Wrap(ErrInvalidSteps, "dependency cycle", goerr.V("from", from), goerr.V("to", to))
				}
				return nil, goerr.Wrap(err, "failed to add dependency", goerr.V("from", from), goerr.V("to", to))
			}
		}
	}

	adjacency, err := g.AdjacencyMap()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read step graph")
	}
	for _, s := range steps {
		if _, removed := alias[s.ID]; removed || !s.Optional {
			continue
		}
		if len(adjacency[s.ID]) > 0 {
			continue
		}
		if err := removeVertex(g, s.ID); err != nil {
			return nil, err
		}
		result.Removed = append(result.Removed, s.ID)
		result.Rationale = append(result.Rationale,
			fmt.Sprintf("optional step %s has no dependents and can be skipped", s.ID))
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return index[a] < index[b]
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to sort steps")
	}
	predecessors, err := g.PredecessorMap()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read step graph")
	}

	level := map[string]int{}
	maxLevel := -1
	for _, id := range order {
		l := 0
		for pred := range predecessors[id] {
			l = max(l, level[pred]+1)
		}
		level[id] = l
		maxLevel = max(maxLevel, l)
	}

	result.Groups = make([][]string, maxLevel+1)
	for _, id := range order {
		result.Groups[level[id]] = append(result.Groups[level[id]], id)
	}
	for _, group := range result.Groups {
		slices.SortFunc(group, func(a, b string) int { return cmp.Compare(index[a], index[b]) })

		var longest time.Duration
		for _, id := range group {
			longest = max(longest, steps[index[id]].Duration)
		}
		result.OptimizedDuration += longest

		if len(group) > 1 {
			result.Rationale = append(result.Rationale,
				fmt.Sprintf("steps %s do not depend on each other and can run in parallel", strings.Join(group, ", ")))
		}
	}

	result.Reduction = result.OriginalDuration - result.OptimizedDuration
	if result.OriginalDuration > 0 {
		result.ReductionRatio = float64(result.Reduction) / float64(result.OriginalDuration)
	}
	return result, nil
}

func removeVertex(g graph.Graph[string, string], id string) error {
	predecessors, err := g.PredecessorMap()
	if err != nil {
		return goerr.Wrap(err, "failed to read step graph")
	}
	for pred := range predecessors[id] {
		if err := g.RemoveEdge(pred, id); err != nil {
			return goerr.Wrap(err, "failed to remove dependency", goerr.V("from", pred), goerr.V("to", id))
		}
	}
	if err := g.RemoveVertex(id); err != nil {
		return goerr.Wrap(err, "failed to remove step", goerr.V("id", id))
	}
	return nil
}
