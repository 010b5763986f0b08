// Package vectorstore indexes embeddings of messages, knowledge entries and
// resolution paths and answers nearest-neighbour queries over them.
package vectorstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/similarity"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

const (
	DefaultTopK = 10
	MaxTopK     = 100
)

var ErrInvalidRecord = goerr.New("invalid embedding record", goerr.T(model.TagInput))

// Record is the input of Upsert
type Record struct {
	Kind     types.EntityKind
	EntityID string
	SubKind  string
	// Version identifies the content the vector was computed from. Upsert
	// with an unchanged non-empty version is a no-op.
	Version string
	Vector  []float32
	Tags    []string
}

// Query narrows a search
type Query struct {
	Kind     types.EntityKind
	SubKinds []string
	TopK     int
	MinScore float64
}

// Hit is a search result
type Hit struct {
	Record *model.EmbeddingRecord
	Score  float64
}

// Store wraps an EmbeddingRepository
type Store struct {
	repo interfaces.EmbeddingRepository
	now  func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(repo interfaces.EmbeddingRepository, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert stores rec and reports whether anything was written
func (s *Store) Upsert(ctx context.Context, rec Record) (bool, error) {
	if !rec.Kind.IsValid() {
		return false, goerr.Wrap(ErrInvalidRecord, "unknown kind", goerr.V("kind", rec.Kind))
	}
	if rec.EntityID == "" {
		return false, goerr.Wrap(ErrInvalidRecord, "entity ID is required")
	}
	if len(rec.Vector) == 0 {
		return false, goerr.Wrap(ErrInvalidRecord, "vector is required", goerr.V("entity_id", rec.EntityID))
	}

	id := model.NewEmbeddingRecordID(rec.Kind, rec.EntityID)

	if rec.Version != "" {
		existing, err := s.repo.Get(ctx, id)
		switch {
		case err == nil:
			if existing.Version == rec.Version {
				logging.From(ctx).Debug("embedding unchanged, skip", "record_id", id, "version", rec.Version)
				return false, nil
			}
		case model.IsNotFoundError(err):
		default:
			return false, goerr.Wrap(err, "failed to look up embedding", goerr.V("record_id", id), goerr.T(model.TagExternal))
		}
	}

	stored := &model.EmbeddingRecord{
		ID:        id,
		Kind:      rec.Kind,
		EntityID:  rec.EntityID,
		SubKind:   rec.SubKind,
		Version:   rec.Version,
		Vector:    slices.Clone(rec.Vector),
		Tags:      slices.Clone(rec.Tags),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.repo.Put(ctx, stored); err != nil {
		return false, goerr.Wrap(err, "failed to store embedding", goerr.V("record_id", id), goerr.T(model.TagExternal))
	}
	return true, nil
}

// Search returns the records of q.Kind closest to vec. Scores are cosine
// similarities, sorted descending. Hits below q.MinScore are dropped.
func (s *Store) Search(ctx context.Context, vec []float32, q Query) ([]Hit, error) {
	if !q.Kind.IsValid() {
		return nil, goerr.Wrap(ErrInvalidRecord, "unknown kind", goerr.V("kind", q.Kind))
	}
	if len(vec) == 0 {
		return nil, goerr.Wrap(ErrInvalidRecord, "query vector is required")
	}

	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	topK = min(topK, MaxTopK)

	records, err := s.repo.FindNearest(ctx, q.Kind, q.SubKinds, vec, topK)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search embeddings", goerr.V("kind", q.Kind), goerr.T(model.TagExternal))
	}

	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		score := similarity.Cosine(vec, rec.Vector)
		if score < q.MinScore {
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: score})
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) Get(ctx context.Context, kind types.EntityKind, entityID string) (*model.EmbeddingRecord, error) {
	rec, err := s.repo.Get(ctx, model.NewEmbeddingRecordID(kind, entityID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get embedding", goerr.V("kind", kind), goerr.V("entity_id", entityID))
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, kind types.EntityKind, entityID string) error {
	if err := s.repo.Delete(ctx, model.NewEmbeddingRecordID(kind, entityID)); err != nil {
		return goerr.Wrap(err, "failed to delete embedding", goerr.V("kind", kind), goerr.V("entity_id", entityID))
	}
	return nil
}
