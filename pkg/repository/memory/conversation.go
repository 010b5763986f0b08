package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

type conversationRepository struct {
	mu            sync.RWMutex
	conversations map[model.ConversationID]*model.Conversation
}

func newConversationRepository() *conversationRepository {
	return &conversationRepository{
		conversations: make(map[model.ConversationID]*model.Conversation),
	}
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := conv.Copy()
	if created.ID == "" {
		created.ID = model.NewConversationID()
	}
	if _, exists := r.conversations[created.ID]; exists {
		return nil, goerr.Wrap(ErrAlreadyExists, "conversation already exists", goerr.V(model.ConversationIDKey, created.ID))
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

	r.conversations[created.ID] = created
	return created.Copy(), nil
}

func (r *conversationRepository) Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, exists := r.conversations[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
	}
	return conv.Copy(), nil
}

func (r *conversationRepository) List(ctx context.Context, limit int) ([]*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		result = append(result, c.Copy())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (r *conversationRepository) AppendMessage(ctx context.Context, id model.ConversationID, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, exists := r.conversations[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
	}

	created := *msg
	if created.ID == "" {
		created.ID = model.NewMessageID()
	}
	for _, m := range conv.Messages {
		if m.ID == created.ID {
			return nil, goerr.Wrap(ErrAlreadyExists, "message already exists",
				goerr.V(model.ConversationIDKey, id), goerr.V(model.MessageIDKey, created.ID))
		}
	}
	created.ConversationID = id
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	conv.Messages = append(conv.Messages, &created)
	out := created
	return &out, nil
}

func (r *conversationRepository) GetMessage(ctx context.Context, id model.ConversationID, msgID model.MessageID) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, exists := r.conversations[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
	}
	for _, m := range conv.Messages {
		if m.ID == msgID {
			out := *m
			return &out, nil
		}
	}
	return nil, goerr.Wrap(ErrNotFound, "message not found",
		goerr.V(model.ConversationIDKey, id), goerr.V(model.MessageIDKey, msgID))
}

func (r *conversationRepository) UpdateState(ctx context.Context, id model.ConversationID, expectedVersion int64, state model.ConversationState) (*model.ConversationState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, exists := r.conversations[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
	}
	if conv.State.Version != expectedVersion {
		return nil, goerr.Wrap(ErrVersionConflict, "conversation state was updated concurrently",
			goerr.V(model.ConversationIDKey, id),
			goerr.V("expected", expectedVersion),
			goerr.V("actual", conv.State.Version))
	}

	next := state.Copy()
	next.Version = expectedVersion + 1
	conv.State = next

	out := next.Copy()
	return &out, nil
}

func (r *conversationRepository) MarkClosed(ctx context.Context, id model.ConversationID, closedAt time.Time) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, exists := r.conversations[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V(model.ConversationIDKey, id))
	}
	conv.Status = types.ConversationStatusClosed
	if conv.ClosedAt.IsZero() {
		conv.ClosedAt = closedAt
	}
	return conv.Copy(), nil
}
