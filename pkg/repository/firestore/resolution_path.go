package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"google.golang.org/api/iterator"
)

type keyStepDoc struct {
	Action string `firestore:"Action"`
	Result string `firestore:"Result"`
}

type resolutionPathDoc struct {
	ID                   string             `firestore:"ID"`
	ConversationID       string             `firestore:"ConversationID"`
	ProblemType          string             `firestore:"ProblemType"`
	Problem              string             `firestore:"Problem"`
	Solution             string             `firestore:"Solution"`
	StepsCount           int                `firestore:"StepsCount"`
	ResolutionTimeMillis int64              `firestore:"ResolutionTimeMillis"`
	Successful           bool               `firestore:"Successful"`
	KeySteps             []keyStepDoc       `firestore:"KeySteps"`
	Embedding            firestore.Vector32 `firestore:"Embedding,omitempty"`
	CreatedAt            time.Time          `firestore:"CreatedAt"`
}

func toResolutionPathDoc(p *model.ResolutionPath) *resolutionPathDoc {
	doc := &resolutionPathDoc{
		ID:                   string(p.ID),
		ConversationID:       string(p.ConversationID),
		ProblemType:          p.ProblemType,
		Problem:              p.Problem,
		Solution:             p.Solution,
		StepsCount:           p.StepsCount,
		ResolutionTimeMillis: p.ResolutionTime.Milliseconds(),
		Successful:           p.Successful,
		CreatedAt:            p.CreatedAt,
	}
	for _, s := range p.KeySteps {
		doc.KeySteps = append(doc.KeySteps, keyStepDoc{Action: s.Action, Result: s.Result})
	}
	if len(p.Embedding) > 0 {
		doc.Embedding = firestore.Vector32(p.Embedding)
	}
	return doc
}

func fromResolutionPathDoc(d *resolutionPathDoc) *model.ResolutionPath {
	p := &model.ResolutionPath{
		ID:             model.ResolutionPathID(d.ID),
		ConversationID: model.ConversationID(d.ConversationID),
		ProblemType:    d.ProblemType,
		Problem:        d.Problem,
		Solution:       d.Solution,
		StepsCount:     d.StepsCount,
		ResolutionTime: time.Duration(d.ResolutionTimeMillis) * time.Millisecond,
		Successful:     d.Successful,
		CreatedAt:      d.CreatedAt,
	}
	for _, s := range d.KeySteps {
		p.KeySteps = append(p.KeySteps, model.KeyStep{Action: s.Action, Result: s.Result})
	}
	if len(d.Embedding) > 0 {
		p.Embedding = []float32(d.Embedding)
	}
	return p
}

type resolutionPathRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newResolutionPathRepository(client *firestore.Client) *resolutionPathRepository {
	return &resolutionPathRepository{client: client}
}

func (r *resolutionPathRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(collectionName(r.collectionPrefix, CollectionResolutionPaths))
}

func (r *resolutionPathRepository) Create(ctx context.Context, path *model.ResolutionPath) (*model.ResolutionPath, error) {
	created := path.Copy()
	if created.ID == "" {
		created.ID = model.NewResolutionPathID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	if _, err := r.collection().Doc(string(created.ID)).Create(ctx, toResolutionPathDoc(created)); err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(ErrAlreadyExists, "resolution path already exists", goerr.V("path_id", created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create resolution path", goerr.V("path_id", created.ID))
	}
	return created, nil
}

func (r *resolutionPathRepository) Get(ctx context.Context, id model.ResolutionPathID) (*model.ResolutionPath, error) {
	snap, err := r.collection().Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "resolution path not found", goerr.V("path_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get resolution path", goerr.V("path_id", id))
	}

	var d resolutionPathDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode resolution path", goerr.V("path_id", id))
	}
	return fromResolutionPathDoc(&d), nil
}

func (r *resolutionPathRepository) ListByProblemType(ctx context.Context, problemType string) ([]*model.ResolutionPath, error) {
	return r.list(ctx, r.collection().Where("ProblemType", "==", problemType))
}

func (r *resolutionPathRepository) List(ctx context.Context) ([]*model.ResolutionPath, error) {
	return r.list(ctx, r.collection().Query)
}

func (r *resolutionPathRepository) list(ctx context.Context, q firestore.Query) ([]*model.ResolutionPath, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	paths := make([]*model.ResolutionPath, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate resolution paths")
		}

		var d resolutionPathDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode resolution path", goerr.V("doc_id", snap.Ref.ID))
		}
		paths = append(paths, fromResolutionPathDoc(&d))
	}
	return paths, nil
}
