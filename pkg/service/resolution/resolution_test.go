package resolution_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/repository/memory"
	"github.com/secmon-lab/hermes/pkg/service/resolution"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type turn struct {
	role    types.Role
	content string
	offset  time.Duration
}

func conversation(turns ...turn) *model.Conversation {
	conv := &model.Conversation{ID: model.NewConversationID(), CreatedAt: base}
	for _, t := range turns {
		conv.Messages = append(conv.Messages, &model.Message{
			ID:             model.NewMessageID(),
			ConversationID: conv.ID,
			Role:           t.role,
			Content:        t.content,
			CreatedAt:      base.Add(t.offset),
		})
	}
	return conv
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		text   string
		expect string
	}{
		{text: "ログインできません", expect: resolution.ProblemLogin},
		{text: "I forgot my password", expect: resolution.ProblemLogin},
		{text: "請求金額が間違っています", expect: resolution.ProblemPayment},
		{text: "画面の表示が遅いです", expect: resolution.ProblemPerformance},
		{text: "保存するとエラーになります", expect: resolution.ProblemBug},
		{text: "アカウントを削除したい", expect: resolution.ProblemAccount},
		{text: "CSV出力の機能はありますか", expect: resolution.ProblemFeatureInquiry},
		{text: "こんにちは", expect: resolution.ProblemGeneral},
	}
	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			gt.Value(t, resolution.Classify(tc.text)).Equal(tc.expect)
		})
	}
}

func TestExtract(t *testing.T) {
	conv := conversation(
		turn{types.RoleUser, "ログインできません。パスワードを忘れました", 0},
		turn{types.RoleAssistant, "パスワードリセットのリンクを送りました", time.Minute},
		turn{types.RoleUser, "リンクが届きません", 2 * time.Minute},
		turn{types.RoleAssistant, "迷惑メールフォルダをご確認ください", 3 * time.Minute},
		turn{types.RoleUser, "ありました！ログインできました。ありがとうございます", 5 * time.Minute},
		turn{types.RoleAssistant, "どういたしまして", 6 * time.Minute},
	)

	path, err := resolution.Extract(conv)
	gt.NoError(t, err).Required()
	gt.Value(t, path.ConversationID).Equal(conv.ID)
	gt.Value(t, path.ProblemType).Equal(resolution.ProblemLogin)
	gt.Value(t, path.Problem).Equal("ログインできません。パスワードを忘れました")
	gt.Value(t, path.Solution).Equal("迷惑メールフォルダをご確認ください")
	gt.Value(t, path.StepsCount).Equal(3)
	gt.Value(t, path.ResolutionTime).Equal(6 * time.Minute)
	gt.Bool(t, path.Successful).True()
	gt.Array(t, path.KeySteps).Length(2).Required()
	gt.Value(t, path.KeySteps[0]).Equal(model.KeyStep{
		Action: "パスワードリセットのリンクを送りました",
		Result: "リンクが届きません",
	})

	t.Run("abandoned", func(t *testing.T) {
		conv := conversation(
			turn{types.RoleUser, "支払いができません", 0},
			turn{types.RoleAssistant, "カード情報をご確認ください", time.Minute},
			turn{types.RoleUser, "もういいです。解約します", 2 * time.Minute},
		)
		path, err := resolution.Extract(conv)
		gt.NoError(t, err).Required()
		gt.Bool(t, path.Successful).False()
		gt.Value(t, path.Solution).Equal("カード情報をご確認ください")
		gt.Value(t, path.ProblemType).Equal(resolution.ProblemPayment)
	})

	t.Run("no customer turn", func(t *testing.T) {
		_, err := resolution.Extract(conversation(turn{types.RoleAssistant, "こんにちは", 0}))
		gt.Error(t, err).Is(resolution.ErrNoCustomerTurn)
	})
}

func record(t *testing.T, tracker *resolution.Tracker, p *model.ResolutionPath) *model.ResolutionPath {
	t.Helper()
	created, err := tracker.Record(context.Background(), p)
	gt.NoError(t, err).Required()
	return created
}

func TestFindShortestPath(t *testing.T) {
	ctx := context.Background()
	tracker := resolution.New(memory.New().ResolutionPath())

	a := record(t, tracker, &model.ResolutionPath{
		ProblemType: resolution.ProblemLogin, Solution: "A", StepsCount: 2,
		ResolutionTime: 10 * time.Minute, Successful: true, CreatedAt: base,
	})
	record(t, tracker, &model.ResolutionPath{
		ProblemType: resolution.ProblemLogin, Solution: "B", StepsCount: 5,
		ResolutionTime: 3 * time.Minute, Successful: true, CreatedAt: base.Add(time.Hour),
	})
	record(t, tracker, &model.ResolutionPath{
		ProblemType: resolution.ProblemLogin, Solution: "C", StepsCount: 1,
		ResolutionTime: time.Minute, Successful: false, CreatedAt: base.Add(2 * time.Hour),
	})

	got, err := tracker.FindShortestPath(ctx, resolution.ProblemLogin)
	gt.NoError(t, err).Required()
	gt.Value(t, got.ID).Equal(a.ID)
	gt.Value(t, got.Solution).Equal("A")

	t.Run("no successful path", func(t *testing.T) {
		_, err := tracker.FindShortestPath(ctx, resolution.ProblemPayment)
		gt.Error(t, err).Is(resolution.ErrNoPath)
		gt.Bool(t, model.IsNotFoundError(err)).True()
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	tracker := resolution.New(memory.New().ResolutionPath())

	for i, p := range []*model.ResolutionPath{
		{Solution: "パスワードをリセットしてください", StepsCount: 2, ResolutionTime: 4 * time.Minute, Successful: true},
		{Solution: "キャッシュを削除して再起動してください", StepsCount: 4, ResolutionTime: 8 * time.Minute, Successful: true},
		{Solution: "パスワードをリセットしてください。", StepsCount: 3, ResolutionTime: 6 * time.Minute, Successful: true},
		{Solution: "再インストールしてください", StepsCount: 6, ResolutionTime: 20 * time.Minute, Successful: false},
	} {
		p.ProblemType = resolution.ProblemLogin
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		record(t, tracker, p)
	}

	stats, err := tracker.Stats(ctx, resolution.ProblemLogin)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Count).Equal(4)
	gt.Value(t, stats.SuccessCount).Equal(3)
	gt.Value(t, stats.SuccessRate).Equal(0.75)
	gt.Value(t, stats.AverageSteps).Equal(3.0)
	gt.Value(t, stats.AverageResolutionTime).Equal(6 * time.Minute)
	gt.Value(t, stats.MostCommonSolution).Equal("パスワードをリセットしてください")

	t.Run("unknown problem type", func(t *testing.T) {
		stats, err := tracker.Stats(ctx, "nothing")
		gt.NoError(t, err).Required()
		gt.Value(t, stats.Count).Equal(0)
		gt.Value(t, stats.SuccessRate).Equal(0.0)
	})
}

func TestFindOptimalPath(t *testing.T) {
	ctx := context.Background()
	tracker := resolution.New(memory.New().ResolutionPath())

	simple := record(t, tracker, &model.ResolutionPath{
		ProblemType: resolution.ProblemBug, Solution: "設定画面からモジュールを無効化してください",
		StepsCount: 2, ResolutionTime: 10 * time.Minute, Successful: true, CreatedAt: base,
	})
	fast := record(t, tracker, &model.ResolutionPath{
		ProblemType: resolution.ProblemBug, Solution: "ブラウザを最新版に更新してください",
		StepsCount: 4, ResolutionTime: 2 * time.Minute, Successful: true, CreatedAt: base.Add(time.Minute),
	})
	record(t, tracker, &model.ResolutionPath{
		ProblemType: resolution.ProblemBug, Solution: "ブラウザを最新版に更新してください",
		StepsCount: 4, ResolutionTime: 3 * time.Minute, Successful: false, CreatedAt: base.Add(2 * time.Minute),
	})

	testCases := []struct {
		name    string
		weights resolution.Weights
		expect  model.ResolutionPathID
	}{
		{name: "fastest", weights: resolution.Fastest, expect: fast.ID},
		{name: "simplest", weights: resolution.Simplest, expect: simple.ID},
		{name: "most reliable", weights: resolution.MostReliable, expect: simple.ID},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tracker.FindOptimalPath(ctx, resolution.ProblemBug, tc.weights)
			gt.NoError(t, err).Required()
			gt.Value(t, got.Path.ID).Equal(tc.expect)
			gt.Bool(t, got.Score > 0 && got.Score <= 1).True()
		})
	}

	t.Run("reliability reflects failed attempts", func(t *testing.T) {
		got, err := tracker.FindOptimalPath(ctx, resolution.ProblemBug, resolution.Weights{Reliability: 1})
		gt.NoError(t, err).Required()
		gt.Value(t, got.Path.ID).Equal(simple.ID)
		gt.Value(t, got.Reliability).Equal(1.0)
	})

	t.Run("invalid weights", func(t *testing.T) {
		_, err := tracker.FindOptimalPath(ctx, resolution.ProblemBug, resolution.Weights{})
		gt.Error(t, err).Is(resolution.ErrInvalidWeights)

		_, err = tracker.FindOptimalPath(ctx, resolution.ProblemBug, resolution.Weights{Speed: -1, Reliability: 2})
		gt.Error(t, err).Is(resolution.ErrInvalidWeights)
	})
}

func TestRecordRequiresProblemType(t *testing.T) {
	tracker := resolution.New(memory.New().ResolutionPath())
	_, err := tracker.Record(context.Background(), &model.ResolutionPath{Solution: "x"})
	gt.Bool(t, model.IsInputError(err)).True()
}
