package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/vectorstore"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

// indexer computes and stores embeddings in the background
type indexer struct {
	store     *vectorstore.Store
	embedder  interfaces.Embedder
	scheduler interfaces.Scheduler
}

func conversationTag(id model.ConversationID) string {
	return "conversation:" + id.String()
}

// scheduleMessage embeds msg asynchronously. A message whose content version
// is already indexed is skipped by the store.
func (x *indexer) scheduleMessage(ctx context.Context, msg *model.Message) (interfaces.JobHandle, error) {
	handle, err := x.scheduler.Enqueue(ctx, interfaces.Job{
		Key:  "embed:" + msg.ID.String() + ":" + msg.Version(),
		Name: "embed_message",
		Run: func(ctx context.Context) error {
			vec, err := x.embedder.Embed(ctx, msg.Content)
			if err != nil {
				return goerr.Wrap(err, "failed to embed message",
					goerr.V(model.ConversationIDKey, msg.ConversationID), goerr.V(model.MessageIDKey, msg.ID))
			}
			_, err = x.store.Upsert(ctx, vectorstore.Record{
				Kind:     types.EntityKindMessage,
				EntityID: msg.ID.String(),
				SubKind:  msg.Role.String(),
				Version:  msg.Version(),
				Vector:   vec,
				Tags:     []string{conversationTag(msg.ConversationID)},
			})
			return err
		},
	})
	if err != nil {
		logging.From(ctx).Warn("failed to schedule message embedding",
			model.ConversationIDKey, msg.ConversationID, model.MessageIDKey, msg.ID, "error", err)
		return nil, goerr.Wrap(err, "failed to schedule message embedding",
			goerr.V(model.ConversationIDKey, msg.ConversationID), goerr.V(model.MessageIDKey, msg.ID))
	}
	return handle, nil
}

// indexPath embeds the problem statement of a recorded resolution path
func (x *indexer) indexPath(ctx context.Context, path *model.ResolutionPath) error {
	vec, err := x.embedder.Embed(ctx, path.Problem)
	if err != nil {
		return goerr.Wrap(err, "failed to embed resolution path", goerr.V(model.ConversationIDKey, path.ConversationID))
	}
	_, err = x.store.Upsert(ctx, vectorstore.Record{
		Kind:     types.EntityKindResolutionPath,
		EntityID: path.ID.String(),
		SubKind:  path.ProblemType,
		Version:  "1",
		Vector:   vec,
		Tags:     []string{conversationTag(path.ConversationID)},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to index resolution path", goerr.V(model.ConversationIDKey, path.ConversationID))
	}
	return nil
}
