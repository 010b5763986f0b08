package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Errors are shared with the other backends so callers can match either
var (
	ErrNotFound        = model.ErrNotFound
	ErrAlreadyExists   = model.ErrAlreadyExists
	ErrVersionConflict = model.ErrVersionConflict
)

// Collection names without prefix
const (
	CollectionConversations   = "conversations"
	CollectionMessages        = "messages"
	CollectionKnowledge       = "knowledge"
	CollectionResolutionPaths = "resolution_paths"
	CollectionEmbeddings      = "embeddings"
)

type Firestore struct {
	client         *firestore.Client
	conversation   *conversationRepository
	knowledge      *knowledgeRepository
	resolutionPath *resolutionPathRepository
	embedding      *embeddingRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix prepends prefix and "_" to every collection name
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.conversation.collectionPrefix = prefix
		f.knowledge.collectionPrefix = prefix
		f.resolutionPath.collectionPrefix = prefix
		f.embedding.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:         client,
		conversation:   newConversationRepository(client),
		knowledge:      newKnowledgeRepository(client),
		resolutionPath: newResolutionPathRepository(client),
		embedding:      newEmbeddingRepository(client),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Conversation() interfaces.ConversationRepository {
	return f.conversation
}

func (f *Firestore) Knowledge() interfaces.KnowledgeRepository {
	return f.knowledge
}

func (f *Firestore) ResolutionPath() interfaces.ResolutionPathRepository {
	return f.resolutionPath
}

func (f *Firestore) Embedding() interfaces.EmbeddingRepository {
	return f.embedding
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func collectionName(prefix, name string) string {
	if prefix != "" {
		return prefix + "_" + name
	}
	return name
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}
