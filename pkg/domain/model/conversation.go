package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// ConversationID identifies a conversation. It is owned by the calling
// system, so any non-empty string is accepted.
type ConversationID string

func (x ConversationID) String() string { return string(x) }

// NewConversationID generates a new UUID v4 ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

// MessageID identifies a message
type MessageID string

func (x MessageID) String() string { return string(x) }

// NewMessageID generates a new UUID v4 MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

// Message is a single turn of a conversation
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Role           types.Role
	Content        string
	CreatedAt      time.Time
}

// Version returns a content hash. Embeddings are regenerated only when the
// version changes.
func (x *Message) Version() string {
	sum := sha256.Sum256([]byte(x.Content))
	return hex.EncodeToString(sum[:8])
}

// Conversation is an ordered list of messages with escalation metadata
type Conversation struct {
	ID        ConversationID
	Messages  []*Message
	State     ConversationState
	Status    types.ConversationStatus
	CreatedAt time.Time
	ClosedAt  time.Time
}

// UserMessages returns the messages written by the customer
func (x *Conversation) UserMessages() []*Message {
	var out []*Message
	for _, m := range x.Messages {
		if m.Role.IsCustomer() {
			out = append(out, m)
		}
	}
	return out
}

// FirstUserMessage returns the first customer message or nil
func (x *Conversation) FirstUserMessage() *Message {
	for _, m := range x.Messages {
		if m.Role.IsCustomer() {
			return m
		}
	}
	return nil
}

// Duration returns time between first and last message
func (x *Conversation) Duration() time.Duration {
	if len(x.Messages) < 2 {
		return 0
	}
	first, last := x.Messages[0].CreatedAt, x.Messages[len(x.Messages)-1].CreatedAt
	if first.IsZero() || last.IsZero() || last.Before(first) {
		return 0
	}
	return last.Sub(first)
}

// Copy returns a deep copy of the conversation
func (x *Conversation) Copy() *Conversation {
	if x == nil {
		return nil
	}
	c := *x
	c.Messages = make([]*Message, len(x.Messages))
	for i, m := range x.Messages {
		v := *m
		c.Messages[i] = &v
	}
	c.State = x.State.Copy()
	return &c
}
