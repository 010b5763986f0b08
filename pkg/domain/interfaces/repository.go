package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// Repository defines the interface for data persistence
type Repository interface {
	Conversation() ConversationRepository
	Knowledge() KnowledgeRepository
	ResolutionPath() ResolutionPathRepository
	Embedding() EmbeddingRepository

	Close() error
}

// ConversationRepository defines the interface for Conversation persistence
type ConversationRepository interface {
	// Create creates a new conversation. Returns model.ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)

	// Get retrieves a conversation with all messages. Returns model.ErrNotFound if missing.
	Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error)

	// List retrieves up to limit conversations, newest first
	List(ctx context.Context, limit int) ([]*model.Conversation, error)

	// AppendMessage adds a message at the end of the conversation
	AppendMessage(ctx context.Context, id model.ConversationID, msg *model.Message) (*model.Message, error)

	// GetMessage retrieves a single message
	GetMessage(ctx context.Context, id model.ConversationID, msgID model.MessageID) (*model.Message, error)

	// UpdateState replaces the state if the stored version equals
	// expectedVersion and returns the stored state with an incremented
	// version. Returns model.ErrVersionConflict otherwise.
	UpdateState(ctx context.Context, id model.ConversationID, expectedVersion int64, state model.ConversationState) (*model.ConversationState, error)

	// MarkClosed sets the conversation status to closed
	MarkClosed(ctx context.Context, id model.ConversationID, closedAt time.Time) (*model.Conversation, error)
}

// KnowledgeRepository defines the interface for KnowledgeEntry persistence.
// Entries are immutable, so there is no update.
type KnowledgeRepository interface {
	// Create stores a new entry. Returns model.ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error)

	// Get retrieves an entry by ID
	Get(ctx context.Context, id model.KnowledgeID) (*model.KnowledgeEntry, error)

	// List retrieves entries of a kind. Empty kind lists all entries.
	List(ctx context.Context, kind types.KnowledgeKind) ([]*model.KnowledgeEntry, error)
}

// ResolutionPathRepository defines the interface for ResolutionPath persistence
type ResolutionPathRepository interface {
	Create(ctx context.Context, path *model.ResolutionPath) (*model.ResolutionPath, error)
	Get(ctx context.Context, id model.ResolutionPathID) (*model.ResolutionPath, error)

	// ListByProblemType retrieves all paths recorded for a problem type
	ListByProblemType(ctx context.Context, problemType string) ([]*model.ResolutionPath, error)

	// List retrieves all recorded paths
	List(ctx context.Context) ([]*model.ResolutionPath, error)
}

// EmbeddingRepository defines the interface for vector persistence
type EmbeddingRepository interface {
	// Put upserts a record
	Put(ctx context.Context, rec *model.EmbeddingRecord) error

	Get(ctx context.Context, id model.EmbeddingRecordID) (*model.EmbeddingRecord, error)
	Delete(ctx context.Context, id model.EmbeddingRecordID) error

	// FindNearest performs vector similarity search using cosine distance.
	// Empty subKinds matches every sub kind.
	FindNearest(ctx context.Context, kind types.EntityKind, subKinds []string, vector []float32, limit int) ([]*model.EmbeddingRecord, error)
}
