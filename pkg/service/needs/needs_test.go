package needs_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/needs"
)

func turns(pairs ...any) []*model.Message {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var msgs []*model.Message
	for i := 0; i+1 < len(pairs); i += 2 {
		msgs = append(msgs, &model.Message{
			ID:        model.NewMessageID(),
			Role:      pairs[i].(types.Role),
			Content:   pairs[i+1].(string),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return msgs
}

func newExtractor(t *testing.T) *needs.Extractor {
	t.Helper()
	e, err := needs.New(nil)
	gt.NoError(t, err).Required()
	return e
}

func TestExtractEmpty(t *testing.T) {
	e := newExtractor(t)

	t.Run("no messages", func(t *testing.T) {
		got := e.Extract(nil)
		gt.Array(t, got).Length(0)
	})

	t.Run("assistant only", func(t *testing.T) {
		got := e.Extract(turns(
			types.RoleAssistant, "コストを削減する方法をご案内します",
			types.RoleCompany, "自動化の機能があります",
		))
		gt.Array(t, got).Length(0)
	})

	t.Run("analysis defaults", func(t *testing.T) {
		a := e.Analyze(nil)
		gt.Value(t, a.Sentiment).Equal(types.SentimentNeutral)
		gt.Value(t, a.Urgency).Equal(types.UrgencyLow)
		gt.Value(t, a.Priority).Equal(types.PriorityLow)
		gt.Bool(t, a.EscalationRequired).False()
		gt.Value(t, a.RuleSetVersion).Equal("v1")
	})
}

func TestExtractSingleNeed(t *testing.T) {
	e := newExtractor(t)
	got := e.Extract(turns(
		types.RoleUser, "こんにちは。毎月のコストが高くて困っています。何とかなりませんか",
	))

	gt.Array(t, got).Length(1).Required()
	gt.Value(t, got[0].Type).Equal(types.NeedCostReduction)
	gt.Value(t, got[0].Evidence).Equal("毎月のコストが高くて困っています")
	gt.Bool(t, got[0].Confidence > 0.5).True()
	gt.Bool(t, got[0].Confidence < 0.7).True()
	gt.String(t, got[0].Suggestion).NotEqual("")
}

func TestRepetitionRaisesConfidence(t *testing.T) {
	e := newExtractor(t)
	got := e.Extract(turns(
		types.RoleUser, "Slackとの連携はできますか",
		types.RoleAssistant, "はい、可能です",
		types.RoleUser, "既存システムとの連携も必要です",
		types.RoleAssistant, "承知しました",
		types.RoleUser, "連携の設定方法を教えてください",
	))

	gt.Array(t, got).Length(1).Required()
	gt.Value(t, got[0].Type).Equal(types.NeedIntegration)
	gt.Bool(t, got[0].Confidence > 0.7).True()
	gt.Bool(t, got[0].Confidence <= 1).True()
}

func TestSentimentAndUrgency(t *testing.T) {
	e := newExtractor(t)

	t.Run("urgent", func(t *testing.T) {
		a := e.Analyze(turns(types.RoleUser, "至急対応してください。ログインできません"))
		gt.Value(t, a.Urgency).Equal(types.UrgencyHigh)
		gt.Value(t, a.Sentiment).Equal(types.SentimentUrgent)
		gt.Bool(t, a.EscalationRequired).True()
		gt.Value(t, a.Priority).Equal(types.PriorityHigh)
	})

	t.Run("frustration twice escalates", func(t *testing.T) {
		a := e.Analyze(turns(
			types.RoleUser, "何度も同じ説明をしています",
			types.RoleAssistant, "申し訳ありません",
			types.RoleUser, "本当にイライラします",
		))
		gt.Value(t, a.Urgency).Equal(types.UrgencyHigh)
		gt.Value(t, a.Sentiment).Equal(types.SentimentFrustrated)
		gt.Bool(t, a.PriorityBoost > 0.29).True()
		gt.Array(t, a.Signals).Length(2)
		gt.Value(t, a.Signals[1].MessageIndex).Equal(2)
	})

	t.Run("negative is medium", func(t *testing.T) {
		a := e.Analyze(turns(types.RoleUser, "The export is broken"))
		gt.Value(t, a.Urgency).Equal(types.UrgencyMedium)
		gt.Value(t, a.Sentiment).Equal(types.SentimentNegative)
	})

	t.Run("positive", func(t *testing.T) {
		a := e.Analyze(turns(types.RoleUser, "ありがとうございます、助かりました"))
		gt.Value(t, a.Sentiment).Equal(types.SentimentPositive)
		gt.Value(t, a.Urgency).Equal(types.UrgencyLow)
		gt.Value(t, a.PriorityBoost).Equal(0.0)
	})
}

func TestNeedsOrdering(t *testing.T) {
	e := newExtractor(t)
	got := e.Extract(turns(
		types.RoleUser, "新しい機能が欲しいです。あとコストも削減したい",
		types.RoleUser, "費用をもっと安くできませんか",
		types.RoleUser, "料金プランのコストを見直したい",
	))

	gt.Array(t, got).Length(2).Required()
	gt.Value(t, got[0].Type).Equal(types.NeedCostReduction)
	gt.Value(t, got[1].Type).Equal(types.NeedFeatureRequest)
	gt.Bool(t, got[0].Priority.Rank() >= got[1].Priority.Rank()).True()
	gt.Bool(t, got[0].PriorityScore > got[1].PriorityScore).True()

	seen := map[types.NeedType]bool{}
	for _, n := range got {
		gt.Bool(t, seen[n.Type]).False()
		seen[n.Type] = true
	}
}

func TestDeterministic(t *testing.T) {
	e := newExtractor(t)
	msgs := turns(
		types.RoleUser, "We need better integration and it is too expensive",
		types.RoleUser, "Also the UI is confusing",
	)
	gt.Value(t, e.Analyze(msgs)).Equal(e.Analyze(msgs))
}

func TestCustomRuleSet(t *testing.T) {
	rules := &needs.RuleSet{
		Version: "test",
		Needs: []needs.NeedRule{
			{Type: types.NeedScalability, Keywords: []string{"widgets"}, Weight: 0.5},
		},
		BaseConfidence:  0.5,
		DensityWeight:   0.5,
		RepetitionBonus: 0.2,
		RepetitionTurns: 2,
		ThresholdHigh:   0.9,
		ThresholdMedium: 0.6,
	}
	e, err := needs.New(rules)
	gt.NoError(t, err).Required()

	// mutating the caller's copy must not affect the extractor
	rules.Needs[0].Keywords[0] = "gadgets"

	a := e.Analyze(turns(types.RoleUser, "we sell many widgets"))
	gt.Value(t, a.RuleSetVersion).Equal("test")
	gt.Array(t, a.Needs).Length(1).Required()
	gt.Value(t, a.Needs[0].Type).Equal(types.NeedScalability)
	gt.Value(t, a.Needs[0].Priority).Equal(types.PriorityHigh)

	gt.Array(t, e.Extract(turns(types.RoleUser, "コストを削減したい"))).Length(0)
}

func TestRuleSetValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(r *needs.RuleSet)
	}{
		{name: "no version", mutate: func(r *needs.RuleSet) { r.Version = "" }},
		{name: "bad need type", mutate: func(r *needs.RuleSet) { r.Needs[0].Type = "bogus" }},
		{name: "duplicate need type", mutate: func(r *needs.RuleSet) { r.Needs[1].Type = r.Needs[0].Type }},
		{name: "no keywords", mutate: func(r *needs.RuleSet) { r.Needs[0].Keywords = nil }},
		{name: "neutral sentiment rule", mutate: func(r *needs.RuleSet) { r.Sentiments[0].Sentiment = types.SentimentNeutral }},
		{name: "inverted thresholds", mutate: func(r *needs.RuleSet) { r.ThresholdHigh = 0.3 }},
		{name: "repetition turns", mutate: func(r *needs.RuleSet) { r.RepetitionTurns = 1 }},
	}

	gt.NoError(t, needs.DefaultRuleSet().Validate())

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := needs.DefaultRuleSet()
			tc.mutate(r)
			err := r.Validate()
			gt.Value(t, err).NotNil()
			gt.Bool(t, model.IsInputError(err)).True()

			_, err = needs.New(r)
			gt.Value(t, err).NotNil()
		})
	}
}

func TestParseRuleSet(t *testing.T) {
	t.Run("overrides thresholds", func(t *testing.T) {
		rules, err := needs.ParseRuleSet([]byte(`
version = "v2"
threshold_high = 0.9
threshold_medium = 0.4
`))
		gt.NoError(t, err).Required()
		gt.Value(t, rules.Version).Equal("v2")
		gt.Value(t, rules.ThresholdHigh).Equal(0.9)
		gt.Value(t, rules.BaseConfidence).Equal(0.4)
		gt.Bool(t, len(rules.Needs) > 0).True()
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := needs.ParseRuleSet([]byte("version = "))
		gt.Bool(t, model.IsParseError(err)).True()
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := needs.ParseRuleSet([]byte(`threshold_high = 0.1`))
		gt.Bool(t, model.IsInputError(err)).True()
	})
}
