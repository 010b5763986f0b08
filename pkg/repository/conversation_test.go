package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/repository/firestore"
	"github.com/secmon-lab/hermes/pkg/repository/memory"
)

func runConversationRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Create initializes state and version", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Conversation().Create(ctx, &model.Conversation{ID: model.NewConversationID()})
		gt.NoError(t, err).Required()

		gt.Value(t, created.Status).Equal(types.ConversationStatusOpen)
		gt.Value(t, created.State.Stage).Equal(types.StageCollecting)
		gt.Value(t, created.State.Version).Equal(int64(1))
		gt.Bool(t, created.CreatedAt.IsZero()).False()
	})

	t.Run("Create rejects duplicated ID", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		id := model.NewConversationID()
		_, err := repo.Conversation().Create(ctx, &model.Conversation{ID: id})
		gt.NoError(t, err).Required()

		_, err = repo.Conversation().Create(ctx, &model.Conversation{ID: id})
		gt.Value(t, err).NotNil()
		gt.Bool(t, errors.Is(err, memory.ErrAlreadyExists) || errors.Is(err, firestore.ErrAlreadyExists)).True()
	})

	t.Run("AppendMessage keeps order", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		conv, err := repo.Conversation().Create(ctx, &model.Conversation{ID: model.NewConversationID()})
		gt.NoError(t, err).Required()

		base := time.Now().UTC().Truncate(time.Millisecond)
		contents := []string{"ログインできません", "エラーメッセージを教えてください", "Invalid passwordと出ます"}
		roles := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleUser}
		for i, c := range contents {
			_, err := repo.Conversation().AppendMessage(ctx, conv.ID, &model.Message{
				Role:      roles[i],
				Content:   c,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			})
			gt.NoError(t, err).Required()
		}

		got, err := repo.Conversation().Get(ctx, conv.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, got.Messages).Length(3).Required()
		for i, m := range got.Messages {
			gt.Value(t, m.Content).Equal(contents[i])
			gt.Value(t, m.Role).Equal(roles[i])
			gt.Value(t, m.ConversationID).Equal(conv.ID)
		}

		msg, err := repo.Conversation().GetMessage(ctx, conv.ID, got.Messages[1].ID)
		gt.NoError(t, err).Required()
		gt.Value(t, msg.Content).Equal(contents[1])
	})

	t.Run("AppendMessage to missing conversation is not found", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Conversation().AppendMessage(ctx, model.NewConversationID(), &model.Message{Role: types.RoleUser, Content: "hi"})
		gt.Value(t, err).NotNil()
		gt.Bool(t, model.IsNotFoundError(err)).True()
	})

	t.Run("UpdateState is compare-and-set", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		conv, err := repo.Conversation().Create(ctx, &model.Conversation{ID: model.NewConversationID()})
		gt.NoError(t, err).Required()

		next := conv.State.Copy()
		next.AIInteractionCount = 1
		next.CollectedInfo["business_type"] = "ec"

		updated, err := repo.Conversation().UpdateState(ctx, conv.ID, conv.State.Version, next)
		gt.NoError(t, err).Required()
		gt.Value(t, updated.Version).Equal(conv.State.Version + 1)
		gt.Value(t, updated.CollectedInfo["business_type"]).Equal("ec")

		// stale version
		_, err = repo.Conversation().UpdateState(ctx, conv.ID, conv.State.Version, next)
		gt.Value(t, err).NotNil()
		gt.Bool(t, errors.Is(err, memory.ErrVersionConflict) || errors.Is(err, firestore.ErrVersionConflict)).True()

		got, err := repo.Conversation().Get(ctx, conv.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.State.AIInteractionCount).Equal(1)
		gt.Value(t, got.State.Version).Equal(updated.Version)
	})

	t.Run("concurrent UpdateState lets exactly one writer win", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		conv, err := repo.Conversation().Create(ctx, &model.Conversation{ID: model.NewConversationID()})
		gt.NoError(t, err).Required()

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := conv.State.Copy()
				next.AIInteractionCount = 1
				if _, err := repo.Conversation().UpdateState(ctx, conv.ID, conv.State.Version, next); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		gt.Value(t, wins).Equal(1)
	})

	t.Run("MarkClosed sets status", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		conv, err := repo.Conversation().Create(ctx, &model.Conversation{ID: model.NewConversationID()})
		gt.NoError(t, err).Required()

		closedAt := time.Now().UTC().Truncate(time.Millisecond)
		closed, err := repo.Conversation().MarkClosed(ctx, conv.ID, closedAt)
		gt.NoError(t, err).Required()
		gt.Value(t, closed.Status).Equal(types.ConversationStatusClosed)
		gt.Bool(t, closed.ClosedAt.Equal(closedAt)).True()
	})

	t.Run("Get returns error for non-existent conversation", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Conversation().Get(ctx, model.NewConversationID())
		gt.Value(t, err).NotNil()
		gt.Bool(t, errors.Is(err, memory.ErrNotFound) || errors.Is(err, firestore.ErrNotFound)).True()
	})

	t.Run("returned values are copies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		conv, err := repo.Conversation().Create(ctx, &model.Conversation{ID: model.NewConversationID()})
		gt.NoError(t, err).Required()

		conv.State.CollectedInfo["budget_range"] = "tampered"

		got, err := repo.Conversation().Get(ctx, conv.ID)
		gt.NoError(t, err).Required()
		_, ok := got.State.CollectedInfo["budget_range"]
		gt.Bool(t, ok).False()
	})
}

func TestMemoryConversationRepository(t *testing.T) {
	runConversationRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreConversationRepository(t *testing.T) {
	runConversationRepositoryTest(t, newFirestoreRepository)
}
