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

type stateDoc struct {
	Category           string            `firestore:"Category"`
	CollectedInfo      map[string]string `firestore:"CollectedInfo"`
	AIInteractionCount int               `firestore:"AIInteractionCount"`
	Urgency            string            `firestore:"Urgency"`
	EscalationRequired bool              `firestore:"EscalationRequired"`
	EscalatedAt        time.Time         `firestore:"EscalatedAt"`
	Stage              string            `firestore:"Stage"`
	Version            int64             `firestore:"Version"`
}

type conversationDoc struct {
	ID           string    `firestore:"ID"`
	Status       string    `firestore:"Status"`
	State        stateDoc  `firestore:"State"`
	MessageCount int64     `firestore:"MessageCount"`
	CreatedAt    time.Time `firestore:"CreatedAt"`
	ClosedAt     time.Time `firestore:"ClosedAt"`
}

type messageDoc struct {
	ID        string    `firestore:"ID"`
	Seq       int64     `firestore:"Seq"`
	Role      string    `firestore:"Role"`
	Content   string    `firestore:"Content"`
	CreatedAt time.Time `firestore:"CreatedAt"`
}

func toStateDoc(s model.ConversationState) stateDoc {
	info := make(map[string]string, len(s.CollectedInfo))
	for k, v := range s.CollectedInfo {
		info[string(k)] = v
	}
	return stateDoc{
		Category:           string(s.Category),
		CollectedInfo:      info,
		AIInteractionCount: s.AIInteractionCount,
		Urgency:            string(s.Urgency),
		EscalationRequired: s.EscalationRequired,
		EscalatedAt:        s.EscalatedAt,
		Stage:              string(s.Stage),
		Version:            s.Version,
	}
}

func fromStateDoc(d stateDoc) model.ConversationState {
	info := make(map[types.FieldName]string, len(d.CollectedInfo))
	for k, v := range d.CollectedInfo {
		info[types.FieldName(k)] = v
	}
	return model.ConversationState{
		Category:           types.CategoryID(d.Category),
		CollectedInfo:      info,
		AIInteractionCount: d.AIInteractionCount,
		Urgency:            types.Urgency(d.Urgency),
		EscalationRequired: d.EscalationRequired,
		EscalatedAt:        d.EscalatedAt,
		Stage:              types.EscalationStage(d.Stage),
		Version:            d.Version,
	}
}

func fromMessageDoc(convID model.ConversationID, d *messageDoc) *model.Message {
	return &model.Message{
		ID:             model.MessageID(d.ID),
		ConversationID: convID,
		Role:           types.Role(d.Role),
		Content:        d.Content,
		CreatedAt:      d.CreatedAt,
	}
}

type conversationRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newConversationRepository(client *firestore.Client) *conversationRepository {
	return &conversationRepository{client: client}
}

func (r *conversationRepository) conversations() *firestore.CollectionRef {
	return r.client.Collection(collectionName(r.collectionPrefix, CollectionConversations))
}

func (r *conversationRepository) messages(id model.ConversationID) *firestore.CollectionRef {
	return r.conversations().Doc(string(id)).Collection(CollectionMessages)
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	created := conv.Copy()
	if created.ID == "" {
		created.ID = model.NewConversationID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	if created.Status == "" {
		created.Status = types.ConversationStatusOpen
	}
	if created.State.Stage == "" {
		created.State = model.NewConversationState().Merge(created.State)
	}
	created.State.Version = 1

	doc := &conversationDoc{
		ID:           string(created.ID),
		Status:       string(created.Status),
		State:        toStateDoc(created.State),
		MessageCount: int64(len(created.Messages)),
		CreatedAt:    created.CreatedAt,
		ClosedAt:     created.ClosedAt,
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		convRef := r.conversations().Doc(doc.ID)
		if err := tx.Create(convRef, doc); err != nil {
			return err
		}
		for i, m := range created.Messages {
			if m.ID == "" {
				m.ID = model.NewMessageID()
			}
			m.ConversationID = created.ID
			if m.CreatedAt.IsZero() {
				m.CreatedAt = created.CreatedAt
			}
			if err := tx.Set(r.messages(created.ID).Doc(string(m.ID)), &messageDoc{
				ID:        string(m.ID),
				Seq:       int64(i + 1),
				Role:      string(m.Role),
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(ErrAlreadyExists, "conversation already exists", goerr.V(model.ConversationIDKey, created.ID))
		}
		return nil, goerr.Wrap(err, "failed to create conversation", goerr.V(model.ConversationIDKey, created.ID))
	}

	return created, nil
}

func (r *conversationRepository) Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	snap, err := r.conversations().Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V(model.ConversationIDKey, id))
	}

	var d conversationDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V(model.ConversationIDKey, id))
	}

	msgs, err := r.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	return &model.Conversation{
		ID:        id,
		Messages:  msgs,
		State:     fromStateDoc(d.State),
		Status:    types.ConversationStatus(d.Status),
		CreatedAt: d.CreatedAt,
		ClosedAt:  d.ClosedAt,
	}, nil
}

func (r *conversationRepository) listMessages(ctx context.Context, id model.ConversationID) ([]*model.Message, error) {
	iter := r.messages(id).OrderBy("Seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	msgs := make([]*model.Message, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate messages", goerr.V(model.ConversationIDKey, id))
		}

		var d messageDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode message", goerr.V("doc_id", snap.Ref.ID))
		}
		msgs = append(msgs, fromMessageDoc(id, &d))
	}
	return msgs, nil
}

func (r *conversationRepository) List(ctx context.Context, limit int) ([]*model.Conversation, error) {
	q := r.conversations().OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var convs []*model.Conversation
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate conversations")
		}

		var d conversationDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V("doc_id", snap.Ref.ID))
		}
		id := model.ConversationID(d.ID)
		msgs, err := r.listMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, &model.Conversation{
			ID:        id,
			Messages:  msgs,
			State:     fromStateDoc(d.State),
			Status:    types.ConversationStatus(d.Status),
			CreatedAt: d.CreatedAt,
			ClosedAt:  d.ClosedAt,
		})
	}
	return convs, nil
}

func (r *conversationRepository) AppendMessage(ctx context.Context, id model.ConversationID, msg *model.Message) (*model.Message, error) {
	created := *msg
	if created.ID == "" {
		created.ID = model.NewMessageID()
	}
	created.ConversationID = id
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	convRef := r.conversations().Doc(string(id))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(convRef)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
			}
			return goerr.Wrap(err, "failed to get conversation")
		}

		var d conversationDoc
		if err := snap.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to decode conversation")
		}

		seq := d.MessageCount + 1
		if err := tx.Create(r.messages(id).Doc(string(created.ID)), &messageDoc{
			ID:        string(created.ID),
			Seq:       seq,
			Role:      string(created.Role),
			Content:   created.Content,
			CreatedAt: created.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Update(convRef, []firestore.Update{{Path: "MessageCount", Value: seq}})
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(ErrAlreadyExists, "message already exists",
				goerr.V(model.ConversationIDKey, id), goerr.V(model.MessageIDKey, created.ID))
		}
		return nil, goerr.Wrap(err, "failed to append message", goerr.V(model.ConversationIDKey, id))
	}

	return &created, nil
}

func (r *conversationRepository) GetMessage(ctx context.Context, id model.ConversationID, msgID model.MessageID) (*model.Message, error) {
	snap, err := r.messages(id).Doc(string(msgID)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "message not found",
				goerr.V(model.ConversationIDKey, id), goerr.V(model.MessageIDKey, msgID))
		}
		return nil, goerr.Wrap(err, "failed to get message", goerr.V(model.MessageIDKey, msgID))
	}

	var d messageDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode message", goerr.V(model.MessageIDKey, msgID))
	}
	return fromMessageDoc(id, &d), nil
}

func (r *conversationRepository) UpdateState(ctx context.Context, id model.ConversationID, expectedVersion int64, state model.ConversationState) (*model.ConversationState, error) {
	next := state.Copy()
	next.Version = expectedVersion + 1

	convRef := r.conversations().Doc(string(id))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(convRef)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
			}
			return goerr.Wrap(err, "failed to get conversation")
		}

		var d conversationDoc
		if err := snap.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to decode conversation")
		}
		if d.State.Version != expectedVersion {
			return goerr.Wrap(ErrVersionConflict, "conversation state was updated concurrently",
				goerr.V(model.ConversationIDKey, id),
				goerr.V("expected", expectedVersion),
				goerr.V("actual", d.State.Version))
		}

		return tx.Update(convRef, []firestore.Update{{Path: "State", Value: toStateDoc(next)}})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update conversation state", goerr.V(model.ConversationIDKey, id))
	}

	return &next, nil
}

func (r *conversationRepository) MarkClosed(ctx context.Context, id model.ConversationID, closedAt time.Time) (*model.Conversation, error) {
	convRef := r.conversations().Doc(string(id))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(convRef)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
			}
			return goerr.Wrap(err, "failed to get conversation")
		}

		var d conversationDoc
		if err := snap.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to decode conversation")
		}

		updates := []firestore.Update{{Path: "Status", Value: string(types.ConversationStatusClosed)}}
		if d.ClosedAt.IsZero() {
			updates = append(updates, firestore.Update{Path: "ClosedAt", Value: closedAt})
		}
		return tx.Update(convRef, updates)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to close conversation", goerr.V(model.ConversationIDKey, id))
	}

	return r.Get(ctx, id)
}
