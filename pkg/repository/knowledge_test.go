package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/repository/firestore"
	"github.com/secmon-lab/hermes/pkg/repository/memory"
)

func runKnowledgeRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Create and Get round trip each variant", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		entries := []*model.KnowledgeEntry{
			{
				ID:   model.NewKnowledgeID(),
				Kind: types.KnowledgeKindFAQ,
				Tags: []string{"login"},
				FAQ:  &model.FAQ{Question: "パスワードを忘れました", Answer: "再設定リンクから変更してください"},
			},
			{
				ID:           model.NewKnowledgeID(),
				Kind:         types.KnowledgeKindCaseStudy,
				SuccessScore: 90,
				CaseStudy: &model.CaseStudy{
					Problem:  "決済エラーが発生する",
					Solution: "カード情報を再登録",
					Steps:    []string{"ログアウト", "カード再登録"},
					Success:  true,
				},
			},
			{
				ID:          model.NewKnowledgeID(),
				Kind:        types.KnowledgeKindProductInfo,
				ProductInfo: &model.ProductInfo{Name: "Analytics", Features: []string{"dashboard"}, URL: "https://example.com"},
			},
			{
				ID:             model.NewKnowledgeID(),
				Kind:           types.KnowledgeKindSuccessPattern,
				SuccessScore:   80,
				ConversationID: "conv-1",
				SuccessPattern: &model.SuccessPattern{ConversationID: "conv-1", Score: 80, Summary: "s", Problem: "p"},
			},
		}

		for _, e := range entries {
			created, err := repo.Knowledge().Create(ctx, e)
			gt.NoError(t, err).Required()
			gt.Bool(t, created.CreatedAt.IsZero()).False()

			got, err := repo.Knowledge().Get(ctx, e.ID)
			gt.NoError(t, err).Required()
			gt.Value(t, got.Kind).Equal(e.Kind)
			gt.Value(t, got.EmbeddingText()).Equal(e.EmbeddingText())
			gt.Value(t, got.SuccessScore).Equal(e.SuccessScore)
			gt.NoError(t, got.Validate())
		}
	})

	t.Run("Create is immutable", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		entry := &model.KnowledgeEntry{
			ID:   model.NewKnowledgeID(),
			Kind: types.KnowledgeKindFAQ,
			FAQ:  &model.FAQ{Question: "q", Answer: "a"},
		}
		_, err := repo.Knowledge().Create(ctx, entry)
		gt.NoError(t, err).Required()

		entry.FAQ.Answer = "changed"
		_, err = repo.Knowledge().Create(ctx, entry)
		gt.Value(t, err).NotNil()
		gt.Bool(t, errors.Is(err, memory.ErrAlreadyExists) || errors.Is(err, firestore.ErrAlreadyExists)).True()

		got, err := repo.Knowledge().Get(ctx, entry.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.FAQ.Answer).Equal("a")
	})

	t.Run("Create rejects mismatched payload", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Knowledge().Create(ctx, &model.KnowledgeEntry{
			ID:   model.NewKnowledgeID(),
			Kind: types.KnowledgeKindProductInfo,
			FAQ:  &model.FAQ{Question: "q"},
		})
		gt.Value(t, err).NotNil()
		gt.Bool(t, model.IsInputError(err)).True()
	})

	t.Run("List filters by kind", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		faqID := model.NewKnowledgeID()
		productID := model.NewKnowledgeID()
		_, err := repo.Knowledge().Create(ctx, &model.KnowledgeEntry{
			ID: faqID, Kind: types.KnowledgeKindFAQ, FAQ: &model.FAQ{Question: "q"},
		})
		gt.NoError(t, err).Required()
		_, err = repo.Knowledge().Create(ctx, &model.KnowledgeEntry{
			ID: productID, Kind: types.KnowledgeKindProductInfo, ProductInfo: &model.ProductInfo{Name: "p"},
		})
		gt.NoError(t, err).Required()

		faqs, err := repo.Knowledge().List(ctx, types.KnowledgeKindFAQ)
		gt.NoError(t, err).Required()
		found := false
		for _, e := range faqs {
			gt.Value(t, e.Kind).Equal(types.KnowledgeKindFAQ)
			if e.ID == faqID {
				found = true
			}
		}
		gt.Bool(t, found).True()

		all, err := repo.Knowledge().List(ctx, "")
		gt.NoError(t, err).Required()
		gt.Number(t, len(all)).GreaterOrEqual(2)
	})
}

func TestMemoryKnowledgeRepository(t *testing.T) {
	runKnowledgeRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreKnowledgeRepository(t *testing.T) {
	runKnowledgeRepositoryTest(t, newFirestoreRepository)
}
