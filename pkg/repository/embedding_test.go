package repository_test

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

func runEmbeddingRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Put and Get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := &model.EmbeddingRecord{
			Kind:     types.EntityKindMessage,
			EntityID: uuid.NewString(),
			Version:  "v1",
			Vector:   unitVector(3),
		}
		gt.NoError(t, repo.Embedding().Put(ctx, rec)).Required()

		got, err := repo.Embedding().Get(ctx, model.NewEmbeddingRecordID(rec.Kind, rec.EntityID))
		gt.NoError(t, err).Required()
		gt.Value(t, got.Version).Equal("v1")
		gt.Array(t, got.Vector).Length(model.EmbeddingDimension)
		gt.Value(t, got.Vector[3]).Equal(float32(1))
	})

	t.Run("Put overwrites", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		entityID := uuid.NewString()
		gt.NoError(t, repo.Embedding().Put(ctx, &model.EmbeddingRecord{
			Kind: types.EntityKindMessage, EntityID: entityID, Version: "v1", Vector: unitVector(1),
		})).Required()
		gt.NoError(t, repo.Embedding().Put(ctx, &model.EmbeddingRecord{
			Kind: types.EntityKindMessage, EntityID: entityID, Version: "v2", Vector: unitVector(2),
		})).Required()

		got, err := repo.Embedding().Get(ctx, model.NewEmbeddingRecordID(types.EntityKindMessage, entityID))
		gt.NoError(t, err).Required()
		gt.Value(t, got.Version).Equal("v2")
	})

	t.Run("FindNearest orders by cosine and filters sub kind", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		subKind := "test-" + uuid.NewString()
		near := uuid.NewString()
		mid := uuid.NewString()
		far := uuid.NewString()
		other := uuid.NewString()

		puts := []*model.EmbeddingRecord{
			{Kind: types.EntityKindKnowledge, EntityID: near, SubKind: subKind, Vector: mixVector(10, 11, 0.99, 0.14)},
			{Kind: types.EntityKindKnowledge, EntityID: mid, SubKind: subKind, Vector: mixVector(10, 11, 0.6, 0.8)},
			{Kind: types.EntityKindKnowledge, EntityID: far, SubKind: subKind, Vector: unitVector(12)},
			{Kind: types.EntityKindKnowledge, EntityID: other, SubKind: "other-" + uuid.NewString(), Vector: unitVector(10)},
		}
		for _, p := range puts {
			gt.NoError(t, repo.Embedding().Put(ctx, p)).Required()
		}

		got, err := repo.Embedding().FindNearest(ctx, types.EntityKindKnowledge, []string{subKind}, unitVector(10), 2)
		gt.NoError(t, err).Required()
		gt.Array(t, got).Length(2).Required()
		gt.Value(t, got[0].EntityID).Equal(near)
		gt.Value(t, got[1].EntityID).Equal(mid)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := &model.EmbeddingRecord{Kind: types.EntityKindResolutionPath, EntityID: uuid.NewString(), Vector: unitVector(5)}
		gt.NoError(t, repo.Embedding().Put(ctx, rec)).Required()

		id := model.NewEmbeddingRecordID(rec.Kind, rec.EntityID)
		gt.NoError(t, repo.Embedding().Delete(ctx, id)).Required()

		_, err := repo.Embedding().Get(ctx, id)
		gt.Bool(t, model.IsNotFoundError(err)).True()

		err = repo.Embedding().Delete(ctx, id)
		gt.Bool(t, model.IsNotFoundError(err)).True()
	})
}

func TestMemoryEmbeddingRepository(t *testing.T) {
	runEmbeddingRepositoryTest(t, newMemoryRepository)

	t.Run("non-finite vectors score zero", func(t *testing.T) {
		repo := newMemoryRepository(t)
		ctx := context.Background()

		broken := unitVector(10)
		broken[11] = float32(math.NaN())
		puts := []*model.EmbeddingRecord{
			{Kind: types.EntityKindKnowledge, EntityID: "near", Vector: unitVector(10)},
			{Kind: types.EntityKindKnowledge, EntityID: "broken", Vector: broken},
			{Kind: types.EntityKindKnowledge, EntityID: "opposite", Vector: mixVector(10, 11, -1, 0)},
		}
		for _, p := range puts {
			gt.NoError(t, repo.Embedding().Put(ctx, p)).Required()
		}

		got, err := repo.Embedding().FindNearest(ctx, types.EntityKindKnowledge, nil, unitVector(10), 3)
		gt.NoError(t, err).Required()
		gt.Array(t, got).Length(3).Required()
		gt.Value(t, got[0].EntityID).Equal("near")
		gt.Value(t, got[1].EntityID).Equal("broken")
		gt.Value(t, got[2].EntityID).Equal("opposite")
	})
}

func TestFirestoreEmbeddingRepository(t *testing.T) {
	runEmbeddingRepositoryTest(t, newFirestoreRepository)
}
