package usecase

import (
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/feedback"
	"github.com/secmon-lab/hermes/pkg/service/notion"
	"github.com/secmon-lab/hermes/pkg/service/rag"
	"github.com/secmon-lab/hermes/pkg/service/vectorstore"
	"github.com/secmon-lab/hermes/pkg/utils/errutil"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

// seedChunkSize bounds one embedding batch while seeding
const seedChunkSize = 100

type KnowledgeUseCase struct {
	repo       interfaces.Repository
	embedder   interfaces.Embedder
	store      *vectorstore.Store
	aggregator *rag.Aggregator
	feedback   *feedback.Loop
	notion     notion.Service
	now        func() time.Time
}

// SeedResult counts the outcome of SeedKnowledge
type SeedResult struct {
	Created []model.KnowledgeID
	// Skipped lists entries whose ID already existed
	Skipped []model.KnowledgeID
}

// SeedKnowledge validates, embeds, stores and indexes entries. Entries are
// immutable, so an existing ID is skipped rather than overwritten. Validation
// fails the whole call before anything is stored.
func (uc *KnowledgeUseCase) SeedKnowledge(ctx context.Context, entries []*model.KnowledgeEntry) (*SeedResult, error) {
	prepared := make([]*model.KnowledgeEntry, 0, len(entries))
	for i, e := range entries {
		entry := e.Copy()
		if entry.ID == "" {
			entry.ID = model.NewKnowledgeID()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = uc.now().UTC()
		}
		if err := entry.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid knowledge entry", goerr.V(model.IndexKey, i))
		}
		prepared = append(prepared, entry)
	}

	result := &SeedResult{}
	for chunk := range slices.Chunk(prepared, seedChunkSize) {
		texts := make([]string, len(chunk))
		for i, e := range chunk {
			texts[i] = e.EmbeddingText()
		}
		vectors, err := uc.embedder.EmbedMany(ctx, texts)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to embed knowledge entries")
		}

		for i, entry := range chunk {
			entry.Embedding = vectors[i]
			created, err := uc.repo.Knowledge().Create(ctx, entry)
			if model.IsConflictError(err) {
				result.Skipped = append(result.Skipped, entry.ID)
				continue
			}
			if err != nil {
				return nil, goerr.Wrap(err, "failed to store knowledge entry", goerr.V(model.KnowledgeIDKey, entry.ID))
			}

			if _, err := uc.store.Upsert(ctx, vectorstore.Record{
				Kind:     types.EntityKindKnowledge,
				EntityID: created.ID.String(),
				SubKind:  created.Kind.String(),
				Version:  "1",
				Vector:   created.Embedding,
				Tags:     created.Tags,
			}); err != nil {
				return nil, goerr.Wrap(err, "failed to index knowledge entry", goerr.V(model.KnowledgeIDKey, created.ID))
			}
			result.Created = append(result.Created, created.ID)
		}
	}

	if len(result.Created) > 0 {
		uc.aggregator.PurgeCache()
	}
	logging.From(ctx).Info("knowledge seeded", "created", len(result.Created), "skipped", len(result.Skipped))
	return result, nil
}

// ImportResult counts the outcome of ImportProductDocs
type ImportResult struct {
	Pages    int
	Imported int
	// Skipped counts page revisions imported before
	Skipped int
	// Failed counts pages that could not be read or converted
	Failed int
}

// ImportProductDocs imports the pages of a Notion database edited since the
// given time as product knowledge entries
func (uc *KnowledgeUseCase) ImportProductDocs(ctx context.Context, dbID string, since time.Time) (*ImportResult, error) {
	if uc.notion == nil {
		return nil, goerr.Wrap(ErrNotionNotConfigured, "cannot import product docs")
	}
	dbID, err := notion.ParseDatabaseID(dbID)
	if err != nil {
		return nil, goerr.Wrap(err, "cannot import product docs")
	}

	result := &ImportResult{}
	var (
		entries  []*model.KnowledgeEntry
		firstErr error
	)
	for page, err := range uc.notion.QueryUpdatedPages(ctx, dbID, since) {
		if err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			errutil.Handle(ctx, err, "failed to read notion page")
			continue
		}
		result.Pages++

		entry, err := notion.ToProductEntry(page)
		if err != nil {
			result.Failed++
			logging.From(ctx).Warn("skip notion page", "pageID", page.ID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	if result.Pages == 0 && firstErr != nil {
		return nil, goerr.Wrap(firstErr, "failed to query notion database", goerr.V("dbID", dbID))
	}
	if len(entries) == 0 {
		return result, nil
	}

	seeded, err := uc.SeedKnowledge(ctx, entries)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store product docs", goerr.V("dbID", dbID))
	}
	result.Imported = len(seeded.Created)
	result.Skipped = len(seeded.Skipped)
	return result, nil
}

// SuccessPatterns lists saved success patterns, best first
func (uc *KnowledgeUseCase) SuccessPatterns(ctx context.Context, limit int) ([]*model.KnowledgeEntry, error) {
	return uc.feedback.ListPatterns(ctx, limit)
}

// Search retrieves ranked context for a free text query
func (uc *KnowledgeUseCase) Search(ctx context.Context, query string) (*rag.Context, error) {
	return uc.aggregator.OptimizeContextInjection(ctx, query)
}
