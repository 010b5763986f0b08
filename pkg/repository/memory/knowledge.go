package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

type knowledgeRepository struct {
	mu      sync.RWMutex
	entries map[model.KnowledgeID]*model.KnowledgeEntry
}

func newKnowledgeRepository() *knowledgeRepository {
	return &knowledgeRepository{
		entries: make(map[model.KnowledgeID]*model.KnowledgeEntry),
	}
}

func (r *knowledgeRepository) Create(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	created := entry.Copy()
	if created.ID == "" {
		created.ID = model.NewKnowledgeID()
	}
	if err := created.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid knowledge entry")
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[created.ID]; exists {
		return nil, goerr.Wrap(ErrAlreadyExists, "knowledge entry already exists", goerr.V(model.KnowledgeIDKey, created.ID))
	}
	r.entries[created.ID] = created
	return created.Copy(), nil
}

func (r *knowledgeRepository) Get(ctx context.Context, id model.KnowledgeID) (*model.KnowledgeEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "knowledge entry not found", goerr.V(model.KnowledgeIDKey, id))
	}
	return entry.Copy(), nil
}

func (r *knowledgeRepository) List(ctx context.Context, kind types.KnowledgeKind) ([]*model.KnowledgeEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.KnowledgeEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if kind == "" || e.Kind == kind {
			result = append(result, e.Copy())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
