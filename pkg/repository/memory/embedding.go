package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/similarity"
)

type embeddingRepository struct {
	mu      sync.RWMutex
	records map[model.EmbeddingRecordID]*model.EmbeddingRecord
}

func newEmbeddingRepository() *embeddingRepository {
	return &embeddingRepository{
		records: make(map[model.EmbeddingRecordID]*model.EmbeddingRecord),
	}
}

func (r *embeddingRepository) Put(ctx context.Context, rec *model.EmbeddingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := rec.Copy()
	if stored.ID == "" {
		stored.ID = model.NewEmbeddingRecordID(stored.Kind, stored.EntityID)
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	r.records[stored.ID] = stored
	return nil
}

func (r *embeddingRepository) Get(ctx context.Context, id model.EmbeddingRecordID) (*model.EmbeddingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "embedding not found", goerr.V("record_id", id))
	}
	return rec.Copy(), nil
}

func (r *embeddingRepository) Delete(ctx context.Context, id model.EmbeddingRecordID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; !exists {
		return goerr.Wrap(ErrNotFound, "embedding not found", goerr.V("record_id", id))
	}
	delete(r.records, id)
	return nil
}

func (r *embeddingRepository) FindNearest(ctx context.Context, kind types.EntityKind, subKinds []string, vector []float32, limit int) ([]*model.EmbeddingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		record *model.EmbeddingRecord
		score  float64
	}

	var candidates []scored
	for _, rec := range r.records {
		if rec.Kind != kind || len(rec.Vector) == 0 {
			continue
		}
		if len(subKinds) > 0 && !slices.Contains(subKinds, rec.SubKind) {
			continue
		}
		candidates = append(candidates, scored{record: rec, score: similarity.Cosine(vector, rec.Vector)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].record.ID < candidates[j].record.ID
		}
		return candidates[i].score > candidates[j].score
	})

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	result := make([]*model.EmbeddingRecord, limit)
	for i := 0; i < limit; i++ {
		result[i] = candidates[i].record.Copy()
	}
	return result, nil
}
