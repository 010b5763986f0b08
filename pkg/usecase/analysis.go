package usecase

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/service/needs"
	"github.com/secmon-lab/hermes/pkg/service/resolution"
	"github.com/secmon-lab/hermes/pkg/service/similarity"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

// Analyzer extracts needs and sentiment from conversation turns
type Analyzer interface {
	Analyze(ctx context.Context, msgs []*model.Message) (model.Analysis, error)
}

// HeuristicAnalyzer adapts the rule based extractor to Analyzer
type HeuristicAnalyzer struct {
	extractor *needs.Extractor
}

func NewHeuristicAnalyzer(extractor *needs.Extractor) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{extractor: extractor}
}

func (x *HeuristicAnalyzer) Analyze(ctx context.Context, msgs []*model.Message) (model.Analysis, error) {
	return x.extractor.Analyze(msgs), nil
}

// analysisRunner runs analyses as scheduler jobs and keeps the latest result
// of each conversation
type analysisRunner struct {
	repo      interfaces.ConversationRepository
	analyzer  Analyzer
	heuristic *HeuristicAnalyzer
	scheduler interfaces.Scheduler
	latest    *xsync.Map[model.ConversationID, model.Analysis]
}

func (r *analysisRunner) analyze(ctx context.Context, conv *model.Conversation) model.Analysis {
	analysis, err := r.analyzer.Analyze(ctx, conv.Messages)
	if err != nil {
		logging.From(ctx).Warn("analyzer failed, using heuristic analysis",
			model.ConversationIDKey, conv.ID, "error", err)
		analysis, _ = r.heuristic.Analyze(ctx, conv.Messages)
	}
	return analysis
}

// schedule enqueues an analysis of the stored conversation. key separates
// independent requests; requests with the same key share one run.
func (r *analysisRunner) schedule(ctx context.Context, id model.ConversationID, key string) (interfaces.JobHandle, error) {
	return r.scheduler.Enqueue(ctx, interfaces.Job{
		Key:  key,
		Name: "analyze_conversation",
		Run: func(ctx context.Context) error {
			conv, err := r.repo.Get(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to load conversation for analysis", goerr.V(model.ConversationIDKey, id))
			}
			r.latest.Store(id, r.analyze(ctx, conv))
			return nil
		},
	})
}

// run schedules an analysis and waits for it. When the job cannot be run the
// heuristic analysis of conv is computed inline.
func (r *analysisRunner) run(ctx context.Context, conv *model.Conversation, key string) model.Analysis {
	logger := logging.From(ctx).With(model.ConversationIDKey, conv.ID)

	handle, err := r.schedule(ctx, conv.ID, key)
	if err == nil {
		err = handle.Wait(ctx)
	}
	if err == nil {
		if analysis, ok := r.latest.Load(conv.ID); ok {
			return analysis
		}
	}
	logger.Warn("scheduled analysis unavailable, analyzing inline", "error", err)
	analysis, _ := r.heuristic.Analyze(ctx, conv.Messages)
	return analysis
}

// Latest returns the most recent analysis of a conversation
func (r *analysisRunner) Latest(id model.ConversationID) (model.Analysis, bool) {
	return r.latest.Load(id)
}

// AnalysisUseCase analyzes stored conversations in bulk
type AnalysisUseCase struct {
	repo     interfaces.Repository
	embedder interfaces.Embedder
	runner   *analysisRunner
	anomaly  config.Similarity
}

// ConversationReport is the analysis of one conversation in a batch
type ConversationReport struct {
	ConversationID model.ConversationID
	Analysis       model.Analysis
	Inefficiency   *resolution.Inefficiency
	// Anomaly scores the opening message against the rest of the batch
	Anomaly similarity.Anomaly
	Err     error
}

// BatchReport is the outcome of AnalyzeBatch
type BatchReport struct {
	Conversations []*ConversationReport
	// Clusters groups opening messages by topic. Members are conversation IDs.
	Clusters []similarity.Group
}

const maxBatchClusters = 5

// AnalyzeBatch analyzes every conversation as its own pool job, then clusters
// the opening customer messages and flags outliers. A conversation that fails
// is reported with Err and does not fail the batch.
func (uc *AnalysisUseCase) AnalyzeBatch(ctx context.Context, ids []model.ConversationID) (*BatchReport, error) {
	if len(ids) == 0 {
		return nil, goerr.New("no conversation to analyze", goerr.T(model.TagInput))
	}

	reports := make([]*ConversationReport, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		reports[i] = &ConversationReport{ConversationID: id}

		handle, err := uc.runner.schedule(ctx, id, "analyze:"+id.String())
		if err != nil {
			reports[i].Err = goerr.Wrap(err, "failed to schedule analysis", goerr.V(model.ConversationIDKey, id))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handle.Wait(ctx); err != nil {
				reports[i].Err = err
				return
			}
			reports[i].Analysis, _ = uc.runner.Latest(id)
		}()
	}
	wg.Wait()

	var (
		items   []similarity.Item
		vectors [][]float32
		owners  []*ConversationReport
	)
	for _, report := range reports {
		if report.Err != nil {
			continue
		}
		conv, err := uc.repo.Conversation().Get(ctx, report.ConversationID)
		if err != nil {
			report.Err = goerr.Wrap(err, "failed to load conversation", goerr.V(model.ConversationIDKey, report.ConversationID))
			continue
		}
		report.Inefficiency = resolution.DetectInefficiencies(conv)

		first := conv.FirstUserMessage()
		if first == nil {
			continue
		}
		vec, err := uc.embedder.Embed(ctx, first.Content)
		if err != nil {
			logging.From(ctx).Warn("failed to embed opening message", model.ConversationIDKey, conv.ID, "error", err)
			continue
		}
		items = append(items, similarity.Item{ID: conv.ID.String(), Vector: vec, Text: first.Content})
		vectors = append(vectors, vec)
		owners = append(owners, report)
	}

	batch := &BatchReport{Conversations: reports}
	if len(items) == 0 {
		return batch, nil
	}

	k := min(maxBatchClusters, max(1, len(items)/2))
	groups, err := similarity.Cluster(items, k)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to cluster conversations")
	}
	batch.Clusters = groups

	detector := similarity.NewAnomalyDetector(
		similarity.WithThreshold(uc.anomaly.AnomalyThreshold),
		similarity.WithNeighbors(uc.anomaly.AnomalyNeighbors),
	)
	for i, vec := range vectors {
		others := make([][]float32, 0, len(vectors)-1)
		others = append(others, vectors[:i]...)
		others = append(others, vectors[i+1:]...)
		anomaly, err := detector.Score(vec, others)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to score anomaly", goerr.V(model.ConversationIDKey, owners[i].ConversationID))
		}
		owners[i].Anomaly = anomaly
	}

	return batch, nil
}

// AnalyzeRecent runs AnalyzeBatch over the most recently created conversations
func (uc *AnalysisUseCase) AnalyzeRecent(ctx context.Context, limit int) (*BatchReport, error) {
	if limit < 1 {
		return nil, goerr.New("limit must be positive", goerr.V("limit", limit), goerr.T(model.TagInput))
	}
	convs, err := uc.repo.Conversation().List(ctx, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list conversations")
	}
	ids := make([]model.ConversationID, 0, len(convs))
	for _, conv := range convs {
		ids = append(ids, conv.ID)
	}
	return uc.AnalyzeBatch(ctx, ids)
}
