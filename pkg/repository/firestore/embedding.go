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

// defaultNearestLimit bounds FindNearest when the caller passes no limit.
// Firestore rejects limits above 1000.
const defaultNearestLimit = 100

type embeddingDoc struct {
	ID        string             `firestore:"ID"`
	Kind      string             `firestore:"Kind"`
	EntityID  string             `firestore:"EntityID"`
	SubKind   string             `firestore:"SubKind"`
	Version   string             `firestore:"Version"`
	Vector    firestore.Vector32 `firestore:"Vector"`
	Tags      []string           `firestore:"Tags"`
	UpdatedAt time.Time          `firestore:"UpdatedAt"`
}

func fromEmbeddingDoc(d *embeddingDoc) *model.EmbeddingRecord {
	return &model.EmbeddingRecord{
		ID:        model.EmbeddingRecordID(d.ID),
		Kind:      types.EntityKind(d.Kind),
		EntityID:  d.EntityID,
		SubKind:   d.SubKind,
		Version:   d.Version,
		Vector:    []float32(d.Vector),
		Tags:      d.Tags,
		UpdatedAt: d.UpdatedAt,
	}
}

type embeddingRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newEmbeddingRepository(client *firestore.Client) *embeddingRepository {
	return &embeddingRepository{client: client}
}

func (r *embeddingRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(collectionName(r.collectionPrefix, CollectionEmbeddings))
}

func (r *embeddingRepository) Put(ctx context.Context, rec *model.EmbeddingRecord) error {
	id := rec.ID
	if id == "" {
		id = model.NewEmbeddingRecordID(rec.Kind, rec.EntityID)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	doc := &embeddingDoc{
		ID:        string(id),
		Kind:      string(rec.Kind),
		EntityID:  rec.EntityID,
		SubKind:   rec.SubKind,
		Version:   rec.Version,
		Vector:    firestore.Vector32(rec.Vector),
		Tags:      rec.Tags,
		UpdatedAt: updatedAt,
	}
	if _, err := r.collection().Doc(string(id)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put embedding", goerr.V("record_id", id))
	}
	return nil
}

func (r *embeddingRepository) Get(ctx context.Context, id model.EmbeddingRecordID) (*model.EmbeddingRecord, error) {
	snap, err := r.collection().Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "embedding not found", goerr.V("record_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get embedding", goerr.V("record_id", id))
	}

	var d embeddingDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode embedding", goerr.V("record_id", id))
	}
	return fromEmbeddingDoc(&d), nil
}

func (r *embeddingRepository) Delete(ctx context.Context, id model.EmbeddingRecordID) error {
	docRef := r.collection().Doc(string(id))

	if _, err := docRef.Get(ctx); err != nil {
		if isNotFound(err) {
			return goerr.Wrap(ErrNotFound, "embedding not found", goerr.V("record_id", id))
		}
		return goerr.Wrap(err, "failed to get embedding", goerr.V("record_id", id))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete embedding", goerr.V("record_id", id))
	}
	return nil
}

func (r *embeddingRepository) FindNearest(ctx context.Context, kind types.EntityKind, subKinds []string, vector []float32, limit int) ([]*model.EmbeddingRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultNearestLimit
	}

	q := r.collection().Where("Kind", "==", string(kind))
	if len(subKinds) > 0 {
		q = q.Where("SubKind", "in", subKinds)
	}
	vq := q.FindNearest("Vector", firestore.Vector32(vector), limit, firestore.DistanceMeasureCosine, nil)

	iter := vq.Documents(ctx)
	defer iter.Stop()

	records := make([]*model.EmbeddingRecord, 0, limit)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate embedding vector search results", goerr.V("kind", kind))
		}

		var d embeddingDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode embedding from vector search")
		}
		records = append(records, fromEmbeddingDoc(&d))
	}
	return records, nil
}
