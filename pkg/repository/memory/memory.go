package memory

import (
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
)

// Errors are shared with the other backends so callers can match either
var (
	ErrNotFound        = model.ErrNotFound
	ErrAlreadyExists   = model.ErrAlreadyExists
	ErrVersionConflict = model.ErrVersionConflict
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is an in-process repository. Every read and write deep copies so
// callers never share state with the store.
type Memory struct {
	conversation   *conversationRepository
	knowledge      *knowledgeRepository
	resolutionPath *resolutionPathRepository
	embedding      *embeddingRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		conversation:   newConversationRepository(),
		knowledge:      newKnowledgeRepository(),
		resolutionPath: newResolutionPathRepository(),
		embedding:      newEmbeddingRepository(),
	}
}

func (m *Memory) Conversation() interfaces.ConversationRepository {
	return m.conversation
}

func (m *Memory) Knowledge() interfaces.KnowledgeRepository {
	return m.knowledge
}

func (m *Memory) ResolutionPath() interfaces.ResolutionPathRepository {
	return m.resolutionPath
}

func (m *Memory) Embedding() interfaces.EmbeddingRepository {
	return m.embedding
}

func (m *Memory) Close() error {
	return nil
}
