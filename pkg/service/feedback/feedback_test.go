package feedback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/repository/memory"
	"github.com/secmon-lab/hermes/pkg/service/embedding"
	"github.com/secmon-lab/hermes/pkg/service/feedback"
	"github.com/secmon-lab/hermes/pkg/service/vectorstore"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func conversation(id string, turns ...string) *model.Conversation {
	conv := &model.Conversation{ID: model.ConversationID(id), CreatedAt: base}
	for i, content := range turns {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		conv.Messages = append(conv.Messages, &model.Message{
			ID:             model.NewMessageID(),
			ConversationID: conv.ID,
			Role:           role,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	return conv
}

func successful(id string) *model.Conversation {
	return conversation(id,
		"ログインできません。パスワードを忘れてしまいました",
		"パスワードリセットのリンクからパスワードを再設定してください",
		"できました！ありがとうございます。このまま有料プランを契約したいと思います",
	)
}

type mockCompleter struct {
	text string
	err  error
}

func (m *mockCompleter) Complete(ctx context.Context, systemPrompt string, history []*model.Message, userMessage string) (string, error) {
	return m.text, m.err
}

func setup(t *testing.T, opts ...feedback.Option) (*feedback.Loop, *memory.Memory, *vectorstore.Store) {
	t.Helper()
	repo := memory.New()
	store := vectorstore.New(repo.Embedding())
	loop, err := feedback.New(repo.Knowledge(), store, embedding.NewLocal(256), opts...)
	gt.NoError(t, err).Required()
	return loop, repo, store
}

func TestEvaluate(t *testing.T) {
	t.Run("gratitude and purchase intent", func(t *testing.T) {
		eval := feedback.Evaluate(successful("c1"))
		gt.Bool(t, eval.Conversion).True()
		gt.Bool(t, eval.Positive).True()
		gt.Bool(t, eval.Resolved).True()
		gt.Value(t, eval.Score).Equal(100)
		gt.Value(t, eval.Band).Equal(feedback.BandExcellent)
		gt.Value(t, eval.Topic).Equal("login_issue")
		gt.Value(t, eval.Tags()).Equal([]string{"topic:login_issue", "band:excellent"})
	})

	t.Run("abandoned conversation", func(t *testing.T) {
		eval := feedback.Evaluate(conversation("c2",
			"請求額が間違っています",
			"確認いたします。少々お待ちください",
			"もういいです。他社に乗り換えます",
		))
		gt.Bool(t, eval.Resolved).False()
		gt.Bool(t, eval.Conversion).False()
		gt.Value(t, eval.Score).Equal(20)
		gt.Value(t, eval.Band).Equal(feedback.BandPoor)
	})

	t.Run("long conversations lose efficiency", func(t *testing.T) {
		turns := make([]string, 14)
		for i := range turns {
			turns[i] = "続きです"
		}
		turns[13] = "ありがとうございます"
		eval := feedback.Evaluate(conversation("c3", turns...))
		gt.Value(t, eval.Efficiency).Equal(0.3)
		gt.Value(t, eval.Speed).Equal(0.7)
	})

	t.Run("no customer turn", func(t *testing.T) {
		eval := feedback.Evaluate(&model.Conversation{ID: "empty"})
		gt.Value(t, eval.Score).Equal(5)
		gt.Value(t, eval.Topic).Equal("general")
	})
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	loop, repo, store := setup(t)
	conv := successful("conv-success")

	result, err := loop.Save(ctx, conv)
	gt.NoError(t, err).Required()
	gt.Value(t, result.Entry).NotNil().Required()
	gt.Value(t, result.Entry.ID).Equal(model.KnowledgeID("sp-conv-success"))
	gt.Value(t, result.Entry.Kind).Equal(types.KnowledgeKindSuccessPattern)
	gt.Value(t, result.Entry.SuccessScore).Equal(100)
	gt.Value(t, result.Entry.SuccessPattern.ConversationID).Equal(conv.ID)
	gt.String(t, result.Entry.SuccessPattern.Summary).Contains("パスワード")
	gt.Bool(t, result.Entry.HasTag("band:excellent")).True()

	stored, err := repo.Knowledge().Get(ctx, result.Entry.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.SuccessPattern.Problem).Equal(conv.Messages[0].Content)

	rec, err := store.Get(ctx, types.EntityKindKnowledge, "sp-conv-success")
	gt.NoError(t, err).Required()
	gt.Value(t, rec.SubKind).Equal("success_pattern")

	t.Run("duplicate save is rejected", func(t *testing.T) {
		_, err := loop.Save(ctx, conv)
		gt.Error(t, err).Is(feedback.ErrDuplicatePattern)

		entries, err := repo.Knowledge().List(ctx, types.KnowledgeKindSuccessPattern)
		gt.NoError(t, err).Required()
		gt.Array(t, entries).Length(1)
	})

	t.Run("similar query finds the pattern", func(t *testing.T) {
		vec, err := embedding.NewLocal(256).Embed(ctx, "ログインできません。パスワードを忘れました")
		gt.NoError(t, err).Required()
		hits, err := store.Search(ctx, vec, vectorstore.Query{Kind: types.EntityKindKnowledge, MinScore: 0.7})
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(1).Required()
		gt.Value(t, hits[0].Record.EntityID).Equal("sp-conv-success")
	})
}

var errStoreDown = errors.New("vector store is down")

// flakyEmbeddings fails Put until healthy is set
type flakyEmbeddings struct {
	interfaces.EmbeddingRepository
	healthy bool
}

func (f *flakyEmbeddings) Put(ctx context.Context, rec *model.EmbeddingRecord) error {
	if !f.healthy {
		return errStoreDown
	}
	return f.EmbeddingRepository.Put(ctx, rec)
}

func TestSaveRetryIndexesStoredPattern(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	embeddings := &flakyEmbeddings{EmbeddingRepository: repo.Embedding()}
	store := vectorstore.New(embeddings)
	loop, err := feedback.New(repo.Knowledge(), store, embedding.NewLocal(256))
	gt.NoError(t, err).Required()

	conv := successful("conv-flaky")
	_, err = loop.Save(ctx, conv)
	gt.Error(t, err).Is(errStoreDown)

	_, err = store.Get(ctx, types.EntityKindKnowledge, "sp-conv-flaky")
	gt.Bool(t, model.IsNotFoundError(err)).True()

	embeddings.healthy = true
	_, err = loop.Save(ctx, conv)
	gt.Error(t, err).Is(feedback.ErrDuplicatePattern)

	rec, err := store.Get(ctx, types.EntityKindKnowledge, "sp-conv-flaky")
	gt.NoError(t, err).Required()
	gt.Value(t, rec.SubKind).Equal("success_pattern")
}

func TestSaveBelowThreshold(t *testing.T) {
	ctx := context.Background()
	loop, repo, _ := setup(t)

	result, err := loop.Save(ctx, conversation("conv-low", "料金について", "料金表をご覧ください"))
	gt.NoError(t, err).Required()
	gt.Value(t, result.Entry).Nil()
	gt.Bool(t, result.Evaluation.Score < feedback.DefaultThreshold).True()

	entries, err := repo.Knowledge().List(ctx, types.KnowledgeKindSuccessPattern)
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(0)

	t.Run("lower threshold persists", func(t *testing.T) {
		loop, _, _ := setup(t, feedback.WithThreshold(10))
		result, err := loop.Save(ctx, conversation("conv-low", "料金について", "料金表をご覧ください"))
		gt.NoError(t, err).Required()
		gt.Value(t, result.Entry).NotNil()
	})
}

func TestSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("completer summary", func(t *testing.T) {
		loop, _, _ := setup(t, feedback.WithCompleter(&mockCompleter{text: "  パスワード再設定で解決し、契約に至った。 "}))
		result, err := loop.Save(ctx, successful("conv-a"))
		gt.NoError(t, err).Required()
		gt.Value(t, result.Entry.SuccessPattern.Summary).Equal("パスワード再設定で解決し、契約に至った。")
	})

	t.Run("completer failure falls back", func(t *testing.T) {
		loop, _, _ := setup(t, feedback.WithCompleter(&mockCompleter{err: errors.New("quota exceeded")}))
		result, err := loop.Save(ctx, successful("conv-b"))
		gt.NoError(t, err).Required()
		gt.String(t, result.Entry.SuccessPattern.Summary).Contains("課題:")
		gt.String(t, result.Entry.SuccessPattern.Summary).Contains("converted")
	})
}

func TestListPatterns(t *testing.T) {
	ctx := context.Background()
	loop, _, _ := setup(t, feedback.WithThreshold(50))

	_, err := loop.Save(ctx, successful("best"))
	gt.NoError(t, err).Required()
	_, err = loop.Save(ctx, conversation("good",
		"APIの使い方を教えてください",
		"ドキュメントのこちらをご覧ください",
		"ありがとうございます、解決しました",
	))
	gt.NoError(t, err).Required()

	patterns, err := loop.ListPatterns(ctx, 0)
	gt.NoError(t, err).Required()
	gt.Array(t, patterns).Length(2).Required()
	gt.Value(t, patterns[0].ID).Equal(model.KnowledgeID("sp-best"))
	gt.Bool(t, patterns[0].SuccessScore >= patterns[1].SuccessScore).True()

	limited, err := loop.ListPatterns(ctx, 1)
	gt.NoError(t, err).Required()
	gt.Array(t, limited).Length(1)
}

func TestNewRejectsInvalidThreshold(t *testing.T) {
	repo := memory.New()
	_, err := feedback.New(repo.Knowledge(), vectorstore.New(repo.Embedding()), embedding.NewLocal(64), feedback.WithThreshold(101))
	gt.Bool(t, model.IsInputError(err)).True()
}
