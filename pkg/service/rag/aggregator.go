// Package rag retrieves historical context for a customer query and builds
// responses grounded on it.
package rag

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/embedding"
	"github.com/secmon-lab/hermes/pkg/service/similarity"
	"github.com/secmon-lab/hermes/pkg/service/vectorstore"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
	"golang.org/x/sync/errgroup"
)

// Source names a retrieval source
type Source string

const (
	SourceFAQ            Source = "faq"
	SourceCaseStudy      Source = "case_study"
	SourceProduct        Source = "product"
	SourceSuccessPattern Source = "success_pattern"
	SourceResolution     Source = "resolution"
)

// AllSources returns every source in fan-out order
func AllSources() []Source {
	return []Source{SourceFAQ, SourceCaseStudy, SourceProduct, SourceSuccessPattern, SourceResolution}
}

func (x Source) String() string { return string(x) }

// Quality signals for sources without a per-item score
const (
	qualityFAQ           = 0.8
	qualityProduct       = 0.7
	qualityCaseSuccess   = 1.0
	qualityCaseFailure   = 0.4
	qualityPathSuccess   = 0.9
	qualityPathFailure   = 0.3
	integratedItemLength = 300
	confidenceItems      = 3
)

var ErrEmptyQuery = goerr.New("query is empty", goerr.T(model.TagInput))

// Options controls one retrieval
type Options struct {
	// Depth is the number of candidates fetched per source
	Depth int
	// MaxItems caps the ranked list. It never exceeds config max items.
	MaxItems int
	// MinRelevance overrides the relevance floor when positive
	MinRelevance float64
	// Adaptive lowers the floor for urgent or hard queries
	Adaptive bool
}

// Item is one ranked piece of context
type Item struct {
	Rank       int
	Importance float64
	Kind       Source
	ID         string
	Title      string
	Content    string
	Similarity float64
	// Quality is the source specific reliability signal in [0,1]
	Quality float64
	Score   float64
	// Steps are the ordered actions carried by case studies and resolution paths
	Steps []string
}

// Context is the aggregated result of a retrieval
type Context struct {
	Query             string
	IntegratedContext string
	RankedInformation []Item
	Confidence        float64
	Sources           []Source
	// Lexical is set when the query could not be embedded and items were
	// scored with the local hashing embedder instead
	Lexical bool
}

// Copy returns a deep copy of c
func (c *Context) Copy() *Context {
	out := *c
	out.RankedInformation = make([]Item, len(c.RankedInformation))
	for i, item := range c.RankedInformation {
		item.Steps = slices.Clone(item.Steps)
		out.RankedInformation[i] = item
	}
	out.Sources = slices.Clone(c.Sources)
	return &out
}

// Aggregator fans a query out to every knowledge source
type Aggregator struct {
	cfg        config.Retrieval
	embedder   interfaces.Embedder
	lexical    interfaces.Embedder
	store      *vectorstore.Store
	knowledge  interfaces.KnowledgeRepository
	paths      interfaces.ResolutionPathRepository
	completer  interfaces.Completer
	cache      *expirable.LRU[string, *Context]
	genTimeout time.Duration
}

type Option func(*Aggregator)

// WithCompleter enables LLM generated responses
func WithCompleter(c interfaces.Completer) Option {
	return func(a *Aggregator) {
		a.completer = c
	}
}

// WithLexicalEmbedder replaces the fallback embedder used when the query
// cannot be embedded
func WithLexicalEmbedder(e interfaces.Embedder) Option {
	return func(a *Aggregator) {
		a.lexical = e
	}
}

// New creates an Aggregator
func New(cfg config.Retrieval, embedder interfaces.Embedder, store *vectorstore.Store, knowledge interfaces.KnowledgeRepository, paths interfaces.ResolutionPathRepository, opts ...Option) (*Aggregator, error) {
	if embedder == nil || store == nil || knowledge == nil || paths == nil {
		return nil, goerr.New("embedder, vector store and repositories are required", goerr.T(model.TagInput))
	}

	a := &Aggregator{
		cfg:        cfg,
		embedder:   embedder,
		lexical:    embedding.NewLocal(model.EmbeddingDimension),
		store:      store,
		knowledge:  knowledge,
		paths:      paths,
		genTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.CacheTTL > 0 && cfg.CacheSize > 0 {
		a.cache = expirable.NewLRU[string, *Context](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return a, nil
}

// PurgeCache drops every cached retrieval
func (a *Aggregator) PurgeCache() {
	if a.cache != nil {
		a.cache.Purge()
	}
}

func (a *Aggregator) normalize(opts Options) Options {
	if opts.Depth <= 0 {
		opts.Depth = 5
	}
	if opts.MaxItems <= 0 || opts.MaxItems > a.cfg.MaxItems {
		opts.MaxItems = a.cfg.MaxItems
	}
	if opts.MinRelevance <= 0 {
		opts.MinRelevance = a.cfg.RelevanceFloor
		if opts.Adaptive {
			opts.MinRelevance = a.cfg.AdaptiveFloor
		}
	}
	return opts
}

func cacheKey(query string, opts Options) string {
	return fmt.Sprintf("%d|%d|%.3f|%t|%s", opts.Depth, opts.MaxItems, opts.MinRelevance, opts.Adaptive, textutil.Normalize(query))
}

// Retrieve aggregates context for query. Sources that fail or exceed the
// retrieval timeout are left out.
func (a *Aggregator) Retrieve(ctx context.Context, query string, opts Options) (*Context, error) {
	if textutil.IsBlank(query) {
		return nil, ErrEmptyQuery
	}
	opts = a.normalize(opts)

	key := cacheKey(query, opts)
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			return cached.Copy(), nil
		}
	}

	logger := logging.From(ctx)
	lexical := false
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		if model.IsInputError(err) {
			return nil, goerr.Wrap(err, "failed to embed query")
		}
		logger.Warn("query embedding failed, using lexical scoring", "error", err)
		lexical = true
		if vec, err = a.lexical.Embed(ctx, query); err != nil {
			return nil, goerr.Wrap(err, "failed to embed query lexically")
		}
	}

	sources := AllSources()
	results := make([][]Item, len(sources))

	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var eg errgroup.Group
	for i, src := range sources {
		eg.Go(func() error {
			items, err := a.fetchWithDeadline(fetchCtx, src, vec, opts.Depth, lexical)
			if err != nil {
				logger.Warn("retrieval source excluded", "source", src, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = eg.Wait()

	var candidates []Item
	for _, items := range results {
		for _, item := range items {
			if item.Similarity >= opts.MinRelevance {
				candidates = append(candidates, item)
			}
		}
	}

	out := a.rank(query, candidates, opts.MaxItems)
	out.Lexical = lexical
	if a.cache != nil {
		a.cache.Add(key, out.Copy())
	}
	return out, nil
}

// fetchWithDeadline returns when the source answered or ctx expired,
// whichever comes first
func (a *Aggregator) fetchWithDeadline(ctx context.Context, src Source, vec []float32, depth int, lexical bool) ([]Item, error) {
	type result struct {
		items []Item
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		if lexical {
			r.items, r.err = a.fetchLexical(ctx, src, vec, depth)
		} else {
			r.items, r.err = a.fetch(ctx, src, vec, depth)
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		return r.items, r.err
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "source timed out", goerr.V("source", src))
	}
}

func knowledgeKindOf(src Source) types.KnowledgeKind {
	switch src {
	case SourceFAQ:
		return types.KnowledgeKindFAQ
	case SourceCaseStudy:
		return types.KnowledgeKindCaseStudy
	case SourceProduct:
		return types.KnowledgeKindProductInfo
	case SourceSuccessPattern:
		return types.KnowledgeKindSuccessPattern
	}
	return ""
}

func (a *Aggregator) fetch(ctx context.Context, src Source, vec []float32, depth int) ([]Item, error) {
	if src == SourceResolution {
		hits, err := a.store.Search(ctx, vec, vectorstore.Query{Kind: types.EntityKindResolutionPath, TopK: depth})
		if err != nil {
			return nil, err
		}
		var items []Item
		for _, hit := range hits {
			path, err := a.paths.Get(ctx, model.ResolutionPathID(hit.Record.EntityID))
			if model.IsNotFoundError(err) {
				continue
			}
			if err != nil {
				return nil, goerr.Wrap(err, "failed to load resolution path", goerr.V("id", hit.Record.EntityID))
			}
			items = append(items, pathItem(path, hit.Score))
		}
		return items, nil
	}

	kind := knowledgeKindOf(src)
	hits, err := a.store.Search(ctx, vec, vectorstore.Query{
		Kind:     types.EntityKindKnowledge,
		SubKinds: []string{kind.String()},
		TopK:     depth,
	})
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, hit := range hits {
		entry, err := a.knowledge.Get(ctx, model.KnowledgeID(hit.Record.EntityID))
		if model.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load knowledge entry", goerr.V(model.KnowledgeIDKey, hit.Record.EntityID))
		}
		items = append(items, entryItem(src, entry, hit.Score))
	}
	return items, nil
}

// fetchLexical scores every stored item of a source with the lexical
// embedder. It is only used when the query embedding is unavailable.
func (a *Aggregator) fetchLexical(ctx context.Context, src Source, vec []float32, depth int) ([]Item, error) {
	var (
		texts []string
		build []func(score float64) Item
	)

	if src == SourceResolution {
		paths, err := a.paths.List(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list resolution paths")
		}
		for _, p := range paths {
			texts = append(texts, p.Problem)
			build = append(build, func(score float64) Item { return pathItem(p, score) })
		}
	} else {
		entries, err := a.knowledge.List(ctx, knowledgeKindOf(src))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list knowledge", goerr.V("source", src))
		}
		for _, e := range entries {
			texts = append(texts, e.EmbeddingText())
			build = append(build, func(score float64) Item { return entryItem(src, e, score) })
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := a.lexical.EmbedMany(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed items lexically", goerr.V("source", src))
	}
	items := make([]Item, len(vectors))
	for i, v := range vectors {
		items[i] = build[i](similarity.Cosine(vec, v))
	}
	slices.SortStableFunc(items, func(x, y Item) int { return cmp.Compare(y.Similarity, x.Similarity) })
	if len(items) > depth {
		items = items[:depth]
	}
	return items, nil
}

func entryItem(src Source, e *model.KnowledgeEntry, sim float64) Item {
	item := Item{
		Kind:       src,
		ID:         e.ID.String(),
		Title:      e.Title(),
		Content:    e.Content(),
		Similarity: sim,
	}
	switch {
	case e.FAQ != nil:
		item.Quality = qualityFAQ
	case e.ProductInfo != nil:
		item.Quality = qualityProduct
	case e.CaseStudy != nil:
		item.Steps = append([]string(nil), e.CaseStudy.Steps...)
		item.Quality = qualityCaseFailure
		if e.CaseStudy.Success {
			item.Quality = qualityCaseSuccess
		}
	case e.SuccessPattern != nil:
		item.Quality = float64(e.SuccessScore) / 100
	}
	return item
}

func pathItem(p *model.ResolutionPath, sim float64) Item {
	item := Item{
		Kind:       SourceResolution,
		ID:         p.ID.String(),
		Title:      p.Problem,
		Content:    p.Solution,
		Similarity: sim,
		Quality:    qualityPathFailure,
	}
	if p.Successful {
		item.Quality = qualityPathSuccess
	}
	for _, step := range p.KeySteps {
		item.Steps = append(item.Steps, step.Action)
	}
	return item
}

// rank deduplicates, scores and caps the candidates
func (a *Aggregator) rank(query string, candidates []Item, maxItems int) *Context {
	out := &Context{Query: query}

	seen := map[string]int{}
	var unique []Item
	for _, item := range candidates {
		key := string(item.Kind) + ":" + item.ID
		contentKey := textutil.Normalize(item.Title + "\n" + item.Content)
		if idx, ok := seen[key]; ok {
			if item.Similarity > unique[idx].Similarity {
				unique[idx] = item
			}
			continue
		}
		if idx, ok := seen[contentKey]; ok {
			if item.Similarity > unique[idx].Similarity {
				unique[idx] = item
			}
			continue
		}
		seen[key] = len(unique)
		seen[contentKey] = len(unique)
		unique = append(unique, item)
	}

	for i := range unique {
		unique[i].Score = a.cfg.SimilarityWeight*unique[i].Similarity + a.cfg.QualityWeight*unique[i].Quality
	}
	slices.SortStableFunc(unique, func(x, y Item) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		return cmp.Compare(y.Similarity, x.Similarity)
	})
	if len(unique) > maxItems {
		unique = unique[:maxItems]
	}

	n := len(unique)
	var (
		sources []Source
		lines   []string
		simSum  float64
	)
	for i := range unique {
		unique[i].Rank = i + 1
		unique[i].Importance = float64(n-i) / float64(n)
		if !slices.Contains(sources, unique[i].Kind) {
			sources = append(sources, unique[i].Kind)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", unique[i].Kind, unique[i].Title,
			textutil.Truncate(strings.ReplaceAll(unique[i].Content, "\n", " "), integratedItemLength)))
		if i < confidenceItems {
			simSum += unique[i].Similarity
		}
	}
	if n > 0 {
		out.Confidence = simSum / float64(min(n, confidenceItems))
	}

	out.RankedInformation = unique
	out.Sources = sources
	out.IntegratedContext = strings.Join(lines, "\n")
	return out
}
