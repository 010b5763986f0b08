// Package feedback scores finished conversations and turns the successful
// ones into SuccessPattern knowledge entries that retrieval can reuse.
package feedback

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/resolution"
	"github.com/secmon-lab/hermes/pkg/service/vectorstore"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

// Indicator weights. They sum to 100.
const (
	WeightConversion = 30
	WeightPositive   = 30
	WeightResolution = 20
	WeightEfficiency = 10
	WeightTime       = 10
)

const (
	DefaultThreshold      = 70
	defaultSummaryTimeout = 10 * time.Second
	summaryLength         = 400
)

// Score bands
const (
	BandExcellent = "excellent"
	BandGood      = "good"
	BandFair      = "fair"
	BandPoor      = "poor"
)

var (
	ErrDuplicatePattern = goerr.New("success pattern already exists for conversation", goerr.T(model.TagConflict))
	ErrBelowThreshold   = goerr.New("conversation score is below threshold", goerr.T(model.TagInput))
)

var (
	conversionKeywords = []string{
		"契約", "購入", "申し込", "申込", "導入したい", "導入します", "注文", "買いたい", "アップグレード",
		"purchase", "buy", "sign up for", "subscribe", "upgrade", "place an order",
	}
	positiveKeywords = []string{
		"ありがとう", "助かりました", "解決しました", "素晴らしい", "完璧", "分かりやすい", "わかりやすい",
		"thank", "great", "perfect", "awesome", "helpful", "solved",
	}
)

// Evaluation is the scored outcome of a conversation
type Evaluation struct {
	ConversationID model.ConversationID
	Score          int
	Conversion     bool
	Positive       bool
	Resolved       bool
	// Efficiency and Speed are in [0,1]
	Efficiency float64
	Speed      float64
	Topic      string
	Band       string
	Problem    string
	Solution   string
}

// Tags returns the knowledge tags derived from the evaluation
func (x *Evaluation) Tags() []string {
	return []string{"topic:" + x.Topic, "band:" + x.Band}
}

// Loop evaluates conversations and persists success patterns
type Loop struct {
	knowledge interfaces.KnowledgeRepository
	store     *vectorstore.Store
	embedder  interfaces.Embedder
	completer interfaces.Completer

	threshold      int
	summaryTimeout time.Duration
	now            func() time.Time
}

type Option func(*Loop)

// WithThreshold sets the minimum score to persist a pattern
func WithThreshold(score int) Option {
	return func(l *Loop) {
		l.threshold = score
	}
}

// WithCompleter enables LLM generated summaries
func WithCompleter(c interfaces.Completer) Option {
	return func(l *Loop) {
		l.completer = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// New creates a Loop
func New(knowledge interfaces.KnowledgeRepository, store *vectorstore.Store, embedder interfaces.Embedder, opts ...Option) (*Loop, error) {
	if knowledge == nil || store == nil || embedder == nil {
		return nil, goerr.New("knowledge repository, vector store and embedder are required", goerr.T(model.TagInput))
	}
	l := &Loop{
		knowledge:      knowledge,
		store:          store,
		embedder:       embedder,
		threshold:      DefaultThreshold,
		summaryTimeout: defaultSummaryTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.threshold < 0 || l.threshold > 100 {
		return nil, goerr.New("threshold must be between 0 and 100", goerr.T(model.TagInput), goerr.V("threshold", l.threshold))
	}
	return l, nil
}

// Evaluate scores a conversation. It reads only the conversation.
func Evaluate(conv *model.Conversation) *Evaluation {
	eval := &Evaluation{
		ConversationID: conv.ID,
		Topic:          resolution.ProblemGeneral,
	}

	var customer []string
	for _, msg := range conv.UserMessages() {
		customer = append(customer, msg.Content)
	}
	text := strings.Join(customer, "\n")

	eval.Conversion = textutil.ContainsAny(text, conversionKeywords)
	eval.Positive = textutil.ContainsAny(text, positiveKeywords)
	eval.Efficiency = efficiencyScore(len(conv.Messages))
	eval.Speed = speedScore(conv.Duration())

	if path, err := resolution.Extract(conv); err == nil {
		eval.Resolved = path.Successful
		eval.Topic = path.ProblemType
		eval.Problem = path.Problem
		eval.Solution = path.Solution
	}

	score := eval.Efficiency*WeightEfficiency + eval.Speed*WeightTime
	if eval.Conversion {
		score += WeightConversion
	}
	if eval.Positive {
		score += WeightPositive
	}
	if eval.Resolved {
		score += WeightResolution
	}
	eval.Score = min(100, max(0, int(math.Round(score))))
	eval.Band = bandOf(eval.Score)
	return eval
}

func efficiencyScore(messages int) float64 {
	switch {
	case messages == 0:
		return 0
	case messages <= 6:
		return 1
	case messages <= 12:
		return 0.6
	case messages <= 20:
		return 0.3
	default:
		return 0
	}
}

// speedScore rates the resolution time. An unknown duration is neutral.
func speedScore(d time.Duration) float64 {
	switch {
	case d <= 0:
		return 0.5
	case d <= 10*time.Minute:
		return 1
	case d <= 30*time.Minute:
		return 0.7
	case d <= time.Hour:
		return 0.4
	default:
		return 0.1
	}
}

func bandOf(score int) string {
	switch {
	case score >= 85:
		return BandExcellent
	case score >= 70:
		return BandGood
	case score >= 50:
		return BandFair
	default:
		return BandPoor
	}
}

// PatternID returns the knowledge ID of a conversation's success pattern
func PatternID(id model.ConversationID) model.KnowledgeID {
	return model.KnowledgeID("sp-" + id.String())
}

// Result is the outcome of Save
type Result struct {
	Evaluation *Evaluation
	// Entry is nil when the score was below the threshold
	Entry *model.KnowledgeEntry
}

// Save evaluates conv and persists a success pattern when the score reaches
// the threshold. A second save for the same conversation fails with
// ErrDuplicatePattern.
func (l *Loop) Save(ctx context.Context, conv *model.Conversation) (*Result, error) {
	eval := Evaluate(conv)
	result := &Result{Evaluation: eval}
	logger := logging.From(ctx).With(model.ConversationIDKey, conv.ID)

	if eval.Score < l.threshold {
		logger.Debug("conversation below success threshold", "score", eval.Score, "threshold", l.threshold)
		return result, nil
	}
	if eval.Problem == "" {
		return nil, goerr.Wrap(ErrBelowThreshold, "conversation has no problem statement", goerr.V(model.ConversationIDKey, conv.ID))
	}

	id := PatternID(conv.ID)
	if existing, err := l.knowledge.Get(ctx, id); err == nil {
		// an earlier save may have stored the entry but failed to index it
		if err := l.index(ctx, existing); err != nil {
			return nil, err
		}
		return nil, goerr.Wrap(ErrDuplicatePattern, "pattern already saved", goerr.V(model.ConversationIDKey, conv.ID))
	} else if !model.IsNotFoundError(err) {
		return nil, goerr.Wrap(err, "failed to look up success pattern", goerr.V(model.ConversationIDKey, conv.ID))
	}

	vec, err := l.embedder.Embed(ctx, eval.Problem)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed problem statement", goerr.V(model.ConversationIDKey, conv.ID))
	}

	entry := &model.KnowledgeEntry{
		ID:             id,
		Kind:           types.KnowledgeKindSuccessPattern,
		Tags:           eval.Tags(),
		Embedding:      vec,
		SuccessScore:   eval.Score,
		ConversationID: conv.ID,
		CreatedAt:      l.now().UTC(),
		SuccessPattern: &model.SuccessPattern{
			ConversationID: conv.ID,
			Score:          eval.Score,
			Summary:        l.summarize(ctx, conv, eval),
			Problem:        eval.Problem,
		},
	}

	created, err := l.knowledge.Create(ctx, entry)
	if model.IsConflictError(err) {
		if err := l.index(ctx, entry); err != nil {
			return nil, err
		}
		return nil, goerr.Wrap(ErrDuplicatePattern, "pattern saved concurrently", goerr.V(model.ConversationIDKey, conv.ID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to save success pattern", goerr.V(model.ConversationIDKey, conv.ID))
	}

	if err := l.index(ctx, created); err != nil {
		return nil, err
	}

	logger.Info("success pattern saved", "score", eval.Score, "topic", eval.Topic, "band", eval.Band)
	result.Entry = created
	return result, nil
}

// index stores the pattern vector. Re-indexing the same entry is a no-op.
func (l *Loop) index(ctx context.Context, entry *model.KnowledgeEntry) error {
	if _, err := l.store.Upsert(ctx, vectorstore.Record{
		Kind:     types.EntityKindKnowledge,
		EntityID: entry.ID.String(),
		SubKind:  entry.Kind.String(),
		Version:  "1",
		Vector:   entry.Embedding,
		Tags:     entry.Tags,
	}); err != nil {
		return goerr.Wrap(err, "failed to index success pattern", goerr.V(model.KnowledgeIDKey, entry.ID))
	}
	return nil
}

const summaryPrompt = `You summarize successful customer support conversations for reuse by other agents.
Write two or three sentences in the customer's language: the problem, the solution that worked, and the outcome.
Do not include personal data.`

func (l *Loop) summarize(ctx context.Context, conv *model.Conversation, eval *Evaluation) string {
	if l.completer != nil {
		ctx, cancel := context.WithTimeout(ctx, l.summaryTimeout)
		defer cancel()

		text, err := l.completer.Complete(ctx, summaryPrompt, conv.Messages, "Summarize this conversation.")
		if err == nil && !textutil.IsBlank(text) {
			return textutil.Truncate(strings.TrimSpace(text), summaryLength)
		}
		logging.From(ctx).Warn("summary generation failed, using heuristic summary", "error", err)
	}
	return heuristicSummary(eval)
}

func heuristicSummary(eval *Evaluation) string {
	parts := []string{fmt.Sprintf("課題: %s", textutil.Truncate(eval.Problem, 120))}
	if eval.Solution != "" {
		parts = append(parts, fmt.Sprintf("解決: %s", textutil.Truncate(eval.Solution, 200)))
	}
	var outcome []string
	if eval.Resolved {
		outcome = append(outcome, "resolved")
	}
	if eval.Conversion {
		outcome = append(outcome, "converted")
	}
	if eval.Positive {
		outcome = append(outcome, "positive feedback")
	}
	if len(outcome) > 0 {
		parts = append(parts, "結果: "+strings.Join(outcome, ", "))
	}
	return textutil.Truncate(strings.Join(parts, " / "), summaryLength)
}

// ListPatterns returns saved success patterns ranked by score, newest first
// on ties. limit <= 0 returns all.
func (l *Loop) ListPatterns(ctx context.Context, limit int) ([]*model.KnowledgeEntry, error) {
	entries, err := l.knowledge.List(ctx, types.KnowledgeKindSuccessPattern)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list success patterns")
	}
	slices.SortStableFunc(entries, func(a, b *model.KnowledgeEntry) int {
		if c := cmp.Compare(b.SuccessScore, a.SuccessScore); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
