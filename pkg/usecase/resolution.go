package usecase

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/service/resolution"
)

type ResolutionUseCase struct {
	tracker *resolution.Tracker
}

// PathReport summarizes the recorded resolutions of one problem type.
// Shortest and Optimal are nil when no successful path was recorded.
type PathReport struct {
	Stats    *resolution.Stats
	Shortest *model.ResolutionPath
	Optimal  *resolution.ScoredPath
}

// Report aggregates statistics and picks the shortest and the optimal path
// of problemType under the given weights
func (uc *ResolutionUseCase) Report(ctx context.Context, problemType string, w resolution.Weights) (*PathReport, error) {
	if problemType == "" {
		return nil, goerr.New("problem type is required", goerr.T(model.TagInput))
	}

	stats, err := uc.tracker.Stats(ctx, problemType)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compute path statistics")
	}
	report := &PathReport{Stats: stats}

	shortest, err := uc.tracker.FindShortestPath(ctx, problemType)
	switch {
	case errors.Is(err, resolution.ErrNoPath):
		return report, nil
	case err != nil:
		return nil, goerr.Wrap(err, "failed to find shortest path")
	}
	report.Shortest = shortest

	optimal, err := uc.tracker.FindOptimalPath(ctx, problemType, w)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find optimal path")
	}
	report.Optimal = optimal

	return report, nil
}

// Optimize restructures a resolution procedure into parallel groups
func (uc *ResolutionUseCase) Optimize(steps []resolution.Step) (*resolution.Optimization, error) {
	return resolution.OptimizePath(steps)
}
