package vectorstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/repository/memory"
	"github.com/secmon-lab/hermes/pkg/service/vectorstore"
)

const dim = 16

func unit(i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func blend(i, j int, wi, wj float32) []float32 {
	v := make([]float32, dim)
	v[i] = wi
	v[j] = wj
	return v
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := vectorstore.New(repo.Embedding(), vectorstore.WithClock(func() time.Time { return now }))

	rec := vectorstore.Record{
		Kind:     types.EntityKindMessage,
		EntityID: "msg-1",
		Version:  "v1",
		Vector:   unit(0),
		Tags:     []string{"user"},
	}

	written, err := store.Upsert(ctx, rec)
	gt.NoError(t, err).Required()
	gt.Bool(t, written).True()

	t.Run("same version is skipped", func(t *testing.T) {
		rec2 := rec
		rec2.Vector = unit(1)
		written, err := store.Upsert(ctx, rec2)
		gt.NoError(t, err).Required()
		gt.Bool(t, written).False()

		got, err := store.Get(ctx, types.EntityKindMessage, "msg-1")
		gt.NoError(t, err).Required()
		gt.Value(t, got.Vector).Equal(unit(0))
		gt.Value(t, got.UpdatedAt).Equal(now)
	})

	t.Run("new version replaces", func(t *testing.T) {
		rec3 := rec
		rec3.Version = "v2"
		rec3.Vector = unit(2)
		written, err := store.Upsert(ctx, rec3)
		gt.NoError(t, err).Required()
		gt.Bool(t, written).True()

		got, err := store.Get(ctx, types.EntityKindMessage, "msg-1")
		gt.NoError(t, err).Required()
		gt.Value(t, got.Version).Equal("v2")
		gt.Value(t, got.Vector).Equal(unit(2))
	})

	t.Run("invalid records", func(t *testing.T) {
		_, err := store.Upsert(ctx, vectorstore.Record{Kind: "bogus", EntityID: "x", Vector: unit(0)})
		gt.Error(t, err).Is(vectorstore.ErrInvalidRecord)

		_, err = store.Upsert(ctx, vectorstore.Record{Kind: types.EntityKindMessage, Vector: unit(0)})
		gt.Error(t, err).Is(vectorstore.ErrInvalidRecord)

		_, err = store.Upsert(ctx, vectorstore.Record{Kind: types.EntityKindMessage, EntityID: "x"})
		gt.Error(t, err).Is(vectorstore.ErrInvalidRecord)
		gt.Bool(t, model.IsInputError(err)).True()
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.New(memory.New().Embedding())

	seed := []vectorstore.Record{
		{Kind: types.EntityKindKnowledge, EntityID: "faq-near", SubKind: "faq", Vector: blend(0, 1, 1, 0.1)},
		{Kind: types.EntityKindKnowledge, EntityID: "faq-mid", SubKind: "faq", Vector: blend(0, 1, 1, 1)},
		{Kind: types.EntityKindKnowledge, EntityID: "faq-far", SubKind: "faq", Vector: unit(3)},
		{Kind: types.EntityKindKnowledge, EntityID: "case-near", SubKind: "case_study", Vector: blend(0, 2, 1, 0.2)},
		{Kind: types.EntityKindResolutionPath, EntityID: "path-1", SubKind: "login_issue", Vector: unit(0)},
	}
	for _, rec := range seed {
		_, err := store.Upsert(ctx, rec)
		gt.NoError(t, err).Required()
	}

	t.Run("sorted by score within kind", func(t *testing.T) {
		hits, err := store.Search(ctx, unit(0), vectorstore.Query{Kind: types.EntityKindKnowledge})
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(4).Required()
		gt.Value(t, hits[0].Record.EntityID).Equal("faq-near")
		gt.Value(t, hits[1].Record.EntityID).Equal("case-near")
		gt.Value(t, hits[2].Record.EntityID).Equal("faq-mid")
		gt.Value(t, hits[3].Record.EntityID).Equal("faq-far")
		for i := 1; i < len(hits); i++ {
			gt.Bool(t, hits[i-1].Score >= hits[i].Score).True()
		}
	})

	t.Run("sub kind filter and min score", func(t *testing.T) {
		hits, err := store.Search(ctx, unit(0), vectorstore.Query{
			Kind:     types.EntityKindKnowledge,
			SubKinds: []string{"faq"},
			MinScore: 0.5,
		})
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(2).Required()
		gt.Value(t, hits[0].Record.EntityID).Equal("faq-near")
		gt.Value(t, hits[1].Record.EntityID).Equal("faq-mid")
	})

	t.Run("top k", func(t *testing.T) {
		hits, err := store.Search(ctx, unit(0), vectorstore.Query{Kind: types.EntityKindKnowledge, TopK: 1})
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(1)
	})

	t.Run("invalid query", func(t *testing.T) {
		_, err := store.Search(ctx, nil, vectorstore.Query{Kind: types.EntityKindKnowledge})
		gt.Error(t, err).Is(vectorstore.ErrInvalidRecord)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.New(memory.New().Embedding())

	_, err := store.Upsert(ctx, vectorstore.Record{Kind: types.EntityKindMessage, EntityID: "m", Vector: unit(0)})
	gt.NoError(t, err).Required()
	gt.NoError(t, store.Delete(ctx, types.EntityKindMessage, "m")).Required()

	_, err = store.Get(ctx, types.EntityKindMessage, "m")
	gt.Bool(t, model.IsNotFoundError(err)).True()

	err = store.Delete(ctx, types.EntityKindMessage, "m")
	gt.Bool(t, model.IsNotFoundError(err)).True()
}
