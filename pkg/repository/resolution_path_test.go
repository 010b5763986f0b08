package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
)

func runResolutionPathRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Create and Get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		path := &model.ResolutionPath{
			ConversationID: model.NewConversationID(),
			ProblemType:    "login_issue",
			Problem:        "ログインできません",
			Solution:       "パスワードを再設定してください",
			StepsCount:     2,
			ResolutionTime: 4 * time.Minute,
			Successful:     true,
			KeySteps:       []model.KeyStep{{Action: "ログインできません", Result: "パスワードを再設定してください"}},
		}
		created, err := repo.ResolutionPath().Create(ctx, path)
		gt.NoError(t, err).Required()
		gt.String(t, string(created.ID)).NotEqual("")

		got, err := repo.ResolutionPath().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.ResolutionTime).Equal(4 * time.Minute)
		gt.Value(t, got.StepsCount).Equal(2)
		gt.Array(t, got.KeySteps).Length(1)
		gt.Bool(t, got.Successful).True()
	})

	t.Run("ListByProblemType", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		problemType := "test_" + uuid.NewString()
		for i := 0; i < 3; i++ {
			_, err := repo.ResolutionPath().Create(ctx, &model.ResolutionPath{
				ConversationID: model.NewConversationID(),
				ProblemType:    problemType,
				StepsCount:     i + 1,
			})
			gt.NoError(t, err).Required()
		}
		_, err := repo.ResolutionPath().Create(ctx, &model.ResolutionPath{ProblemType: "other_" + uuid.NewString()})
		gt.NoError(t, err).Required()

		paths, err := repo.ResolutionPath().ListByProblemType(ctx, problemType)
		gt.NoError(t, err).Required()
		gt.Array(t, paths).Length(3)

		none, err := repo.ResolutionPath().ListByProblemType(ctx, "missing_"+uuid.NewString())
		gt.NoError(t, err).Required()
		gt.Array(t, none).Length(0)
	})

	t.Run("Get returns not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.ResolutionPath().Get(context.Background(), model.NewResolutionPathID())
		gt.Bool(t, model.IsNotFoundError(err)).True()
	})
}

func TestMemoryResolutionPathRepository(t *testing.T) {
	runResolutionPathRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreResolutionPathRepository(t *testing.T) {
	runResolutionPathRepositoryTest(t, newFirestoreRepository)
}
