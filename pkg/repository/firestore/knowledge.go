package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"google.golang.org/api/iterator"
)

type faqDoc struct {
	Question string `firestore:"Question"`
	Answer   string `firestore:"Answer"`
}

type caseStudyDoc struct {
	Problem  string   `firestore:"Problem"`
	Solution string   `firestore:"Solution"`
	Steps    []string `firestore:"Steps"`
	Success  bool     `firestore:"Success"`
}

type productInfoDoc struct {
	Name     string   `firestore:"Name"`
	Features []string `firestore:"Features"`
	Docs     string   `firestore:"Docs"`
	URL      string   `firestore:"URL"`
}

type successPatternDoc struct {
	ConversationID string `firestore:"ConversationID"`
	Score          int    `firestore:"Score"`
	Summary        string `firestore:"Summary"`
	Problem        string `firestore:"Problem"`
}

// knowledgeDoc is the Firestore document representation of model.KnowledgeEntry.
// Embedding is stored as firestore.Vector32 for FindNearest vector search.
type knowledgeDoc struct {
	ID             string             `firestore:"ID"`
	Kind           string             `firestore:"Kind"`
	Tags           []string           `firestore:"Tags"`
	Embedding      firestore.Vector32 `firestore:"Embedding,omitempty"`
	SuccessScore   int                `firestore:"SuccessScore"`
	ConversationID string             `firestore:"ConversationID"`
	CreatedAt      time.Time          `firestore:"CreatedAt"`

	FAQ            *faqDoc            `firestore:"FAQ,omitempty"`
	CaseStudy      *caseStudyDoc      `firestore:"CaseStudy,omitempty"`
	ProductInfo    *productInfoDoc    `firestore:"ProductInfo,omitempty"`
	SuccessPattern *successPatternDoc `firestore:"SuccessPattern,omitempty"`
}

func toKnowledgeDoc(e *model.KnowledgeEntry) *knowledgeDoc {
	doc := &knowledgeDoc{
		ID:             string(e.ID),
		Kind:           string(e.Kind),
		Tags:           e.Tags,
		SuccessScore:   e.SuccessScore,
		ConversationID: string(e.ConversationID),
		CreatedAt:      e.CreatedAt,
	}
	if len(e.Embedding) > 0 {
		doc.Embedding = firestore.Vector32(e.Embedding)
	}
	if e.FAQ != nil {
		doc.FAQ = &faqDoc{Question: e.FAQ.Question, Answer: e.FAQ.Answer}
	}
	if e.CaseStudy != nil {
		doc.CaseStudy = &caseStudyDoc{
			Problem:  e.CaseStudy.Problem,
			Solution: e.CaseStudy.Solution,
			Steps:    e.CaseStudy.Steps,
			Success:  e.CaseStudy.Success,
		}
	}
	if e.ProductInfo != nil {
		doc.ProductInfo = &productInfoDoc{
			Name:     e.ProductInfo.Name,
			Features: e.ProductInfo.Features,
			Docs:     e.ProductInfo.Docs,
			URL:      e.ProductInfo.URL,
		}
	}
	if e.SuccessPattern != nil {
		doc.SuccessPattern = &successPatternDoc{
			ConversationID: string(e.SuccessPattern.ConversationID),
			Score:          e.SuccessPattern.Score,
			Summary:        e.SuccessPattern.Summary,
			Problem:        e.SuccessPattern.Problem,
		}
	}
	return doc
}

func fromKnowledgeDoc(d *knowledgeDoc) *model.KnowledgeEntry {
	e := &model.KnowledgeEntry{
		ID:             model.KnowledgeID(d.ID),
		Kind:           types.KnowledgeKind(d.Kind),
		Tags:           d.Tags,
		SuccessScore:   d.SuccessScore,
		ConversationID: model.ConversationID(d.ConversationID),
		CreatedAt:      d.CreatedAt,
	}
	if len(d.Embedding) > 0 {
		e.Embedding = []float32(d.Embedding)
	}
	if d.FAQ != nil {
		e.FAQ = &model.FAQ{Question: d.FAQ.Question, Answer: d.FAQ.Answer}
	}
	if d.CaseStudy != nil {
		e.CaseStudy = &model.CaseStudy{
			Problem:  d.CaseStudy.Problem,
			Solution: d.CaseStudy.Solution,
			Steps:    d.CaseStudy.Steps,
			Success:  d.CaseStudy.Success,
		}
	}
	if d.ProductInfo != nil {
		e.ProductInfo = &model.ProductInfo{
			Name:     d.ProductInfo.Name,
			Features: d.ProductInfo.Features,
			Docs:     d.ProductInfo.Docs,
			URL:      d.ProductInfo.URL,
		}
	}
	if d.SuccessPattern != nil {
		e.SuccessPattern = &model.SuccessPattern{
			ConversationID: model.ConversationID(d.SuccessPattern.ConversationID),
			Score:          d.SuccessPattern.Score,
			Summary:        d.SuccessPattern.Summary,
			Problem:        d.SuccessPattern.Problem,
		}
	}
	return e
}

type knowledgeRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newKnowledgeRepository(client *firestore.Client) *knowledgeRepository {
	return &knowledgeRepository{client: client}
}

func (r *knowledgeRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(collectionName(r.collectionPrefix, CollectionKnowledge))
}

func (r *knowledgeRepository) Create(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	created := entry.Copy()
	if created.ID == "" {
		created.ID = model.NewKnowledgeID()
	}
	if err := created.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid knowledge entry")
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	// Create fails if the document exists, which keeps entries immutable
	if _, err := r.collection().Doc(string(created.ID)).Create(ctx, toKnowledgeDoc(created)); err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(ErrAlreadyExists, "knowledge entry already exists", goerr.V(model.KnowledgeIDKey, created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create knowledge entry", goerr.V(model.KnowledgeIDKey, created.ID))
	}

	return created, nil
}

func (r *knowledgeRepository) Get(ctx context.Context, id model.KnowledgeID) (*model.KnowledgeEntry, error) {
	snap, err := r.collection().Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "knowledge entry not found", goerr.V(model.KnowledgeIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get knowledge entry", goerr.V(model.KnowledgeIDKey, id))
	}

	var d knowledgeDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode knowledge entry", goerr.V(model.KnowledgeIDKey, id))
	}
	return fromKnowledgeDoc(&d), nil
}

func (r *knowledgeRepository) List(ctx context.Context, kind types.KnowledgeKind) ([]*model.KnowledgeEntry, error) {
	q := r.collection().Query
	if kind != "" {
		q = q.Where("Kind", "==", string(kind))
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	entries := make([]*model.KnowledgeEntry, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate knowledge entries", goerr.V("kind", kind))
		}

		var d knowledgeDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode knowledge entry", goerr.V("doc_id", snap.Ref.ID))
		}
		entries = append(entries, fromKnowledgeDoc(&d))
	}
	return entries, nil
}
