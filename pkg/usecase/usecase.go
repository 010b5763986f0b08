package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/service/embedding"
	"github.com/secmon-lab/hermes/pkg/service/escalation"
	"github.com/secmon-lab/hermes/pkg/service/feedback"
	"github.com/secmon-lab/hermes/pkg/service/needs"
	"github.com/secmon-lab/hermes/pkg/service/notion"
	"github.com/secmon-lab/hermes/pkg/service/rag"
	"github.com/secmon-lab/hermes/pkg/service/resolution"
	"github.com/secmon-lab/hermes/pkg/service/vectorstore"
	"github.com/secmon-lab/hermes/pkg/service/worker"
)

type UseCases struct {
	repo      interfaces.Repository
	cfg       *config.Engine
	embedder  interfaces.Embedder
	completer interfaces.Completer
	notifier  interfaces.Notifier
	analyzer  Analyzer
	scheduler interfaces.Scheduler
	notion    notion.Service
	ruleSet   *needs.RuleSet
	now       func() time.Time

	// pool is set when the worker pool is owned by UseCases
	pool *worker.Pool

	Conversation *ConversationUseCase
	Analysis     *AnalysisUseCase
	Knowledge    *KnowledgeUseCase
	Resolution   *ResolutionUseCase
}

type Option func(*UseCases)

func WithConfig(cfg *config.Engine) Option {
	return func(uc *UseCases) {
		uc.cfg = cfg
	}
}

// WithEmbedder sets the embedding provider. The local hashing embedder is
// used by default.
func WithEmbedder(e interfaces.Embedder) Option {
	return func(uc *UseCases) {
		uc.embedder = e
	}
}

func WithCompleter(c interfaces.Completer) Option {
	return func(uc *UseCases) {
		uc.completer = c
	}
}

func WithNotifier(n interfaces.Notifier) Option {
	return func(uc *UseCases) {
		uc.notifier = n
	}
}

// WithAnalyzer replaces the heuristic needs analyzer. The heuristic one is
// still used when the replacement fails.
func WithAnalyzer(a Analyzer) Option {
	return func(uc *UseCases) {
		uc.analyzer = a
	}
}

// WithScheduler sets the background job runner. Without it UseCases starts
// and owns a worker pool, stopped by Close.
func WithScheduler(s interfaces.Scheduler) Option {
	return func(uc *UseCases) {
		uc.scheduler = s
	}
}

func WithNotion(svc notion.Service) Option {
	return func(uc *UseCases) {
		uc.notion = svc
	}
}

func WithRuleSet(r *needs.RuleSet) Option {
	return func(uc *UseCases) {
		uc.ruleSet = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
	}
}

// New wires every service of the engine on top of repo
func New(repo interfaces.Repository, opts ...Option) (*UseCases, error) {
	if repo == nil {
		return nil, goerr.New("repository is required", goerr.T(model.TagInput))
	}

	uc := &UseCases{
		repo:     repo,
		cfg:      config.DefaultEngine(),
		embedder: embedding.NewLocal(model.EmbeddingDimension),
		notifier: escalation.LogNotifier{},
		ruleSet:  needs.DefaultRuleSet(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}

	if err := uc.cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid engine config", goerr.T(model.TagInput))
	}

	extractor, err := needs.New(uc.ruleSet)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create needs extractor")
	}
	heuristic := NewHeuristicAnalyzer(extractor)
	if uc.analyzer == nil {
		uc.analyzer = heuristic
	}

	store := vectorstore.New(repo.Embedding(), vectorstore.WithClock(uc.now))

	aggregator, err := rag.New(uc.cfg.Retrieval, uc.embedder, store, repo.Knowledge(), repo.ResolutionPath(),
		rag.WithCompleter(uc.completer))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create context aggregator")
	}

	engine, err := escalation.New(repo.Conversation(), uc.notifier, uc.cfg.Escalation, escalation.WithClock(uc.now))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create escalation engine")
	}

	loop, err := feedback.New(repo.Knowledge(), store, uc.embedder,
		feedback.WithThreshold(uc.cfg.Feedback.Threshold),
		feedback.WithCompleter(uc.completer),
		feedback.WithClock(uc.now),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create feedback loop")
	}

	if uc.scheduler == nil {
		pool, err := worker.NewPool(uc.cfg.Worker)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create worker pool")
		}
		if err := pool.Start(context.Background()); err != nil {
			return nil, goerr.Wrap(err, "failed to start worker pool")
		}
		uc.pool = pool
		uc.scheduler = pool
	}

	idx := &indexer{store: store, embedder: uc.embedder, scheduler: uc.scheduler}
	runner := &analysisRunner{
		repo:      repo.Conversation(),
		analyzer:  uc.analyzer,
		heuristic: heuristic,
		scheduler: uc.scheduler,
		latest:    xsync.NewMap[model.ConversationID, model.Analysis](),
	}

	tracker := resolution.New(repo.ResolutionPath(), resolution.WithClock(uc.now))

	uc.Conversation = &ConversationUseCase{
		repo:       repo,
		engine:     engine,
		aggregator: aggregator,
		tracker:    tracker,
		feedback:   loop,
		indexer:    idx,
		analysis:   runner,
		now:        uc.now,
	}
	uc.Analysis = &AnalysisUseCase{
		repo:     repo,
		embedder: uc.embedder,
		runner:   runner,
		anomaly:  uc.cfg.Similarity,
	}
	uc.Knowledge = &KnowledgeUseCase{
		repo:       repo,
		embedder:   uc.embedder,
		store:      store,
		aggregator: aggregator,
		feedback:   loop,
		notion:     uc.notion,
		now:        uc.now,
	}
	uc.Resolution = &ResolutionUseCase{tracker: tracker}

	return uc, nil
}

// Close stops the owned worker pool
func (uc *UseCases) Close() {
	if uc.pool != nil {
		uc.pool.Stop()
	}
}
