package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
)

type resolutionPathRepository struct {
	mu    sync.RWMutex
	paths map[model.ResolutionPathID]*model.ResolutionPath
}

func newResolutionPathRepository() *resolutionPathRepository {
	return &resolutionPathRepository{
		paths: make(map[model.ResolutionPathID]*model.ResolutionPath),
	}
}

func (r *resolutionPathRepository) Create(ctx context.Context, path *model.ResolutionPath) (*model.ResolutionPath, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := path.Copy()
	if created.ID == "" {
		created.ID = model.NewResolutionPathID()
	}
	if _, exists := r.paths[created.ID]; exists {
		return nil, goerr.Wrap(ErrAlreadyExists, "resolution path already exists", goerr.V("path_id", created.ID))
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	r.paths[created.ID] = created
	return created.Copy(), nil
}

func (r *resolutionPathRepository) Get(ctx context.Context, id model.ResolutionPathID) (*model.ResolutionPath, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.paths[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "resolution path not found", goerr.V("path_id", id))
	}
	return p.Copy(), nil
}

func (r *resolutionPathRepository) ListByProblemType(ctx context.Context, problemType string) ([]*model.ResolutionPath, error) {
	return r.list(func(p *model.ResolutionPath) bool { return p.ProblemType == problemType }), nil
}

func (r *resolutionPathRepository) List(ctx context.Context) ([]*model.ResolutionPath, error) {
	return r.list(func(*model.ResolutionPath) bool { return true }), nil
}

func (r *resolutionPathRepository) list(match func(*model.ResolutionPath) bool) []*model.ResolutionPath {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.ResolutionPath{}
	for _, p := range r.paths {
		if match(p) {
			result = append(result, p.Copy())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
