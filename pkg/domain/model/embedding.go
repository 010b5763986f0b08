package model

import (
	"time"

	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// EmbeddingRecordID is "<kind>:<entity id>"
type EmbeddingRecordID string

// NewEmbeddingRecordID builds the record ID for an entity
func NewEmbeddingRecordID(kind types.EntityKind, entityID string) EmbeddingRecordID {
	return EmbeddingRecordID(kind.String() + ":" + entityID)
}

func (x EmbeddingRecordID) String() string { return string(x) }

// EmbeddingRecord is a vector attached to a message, knowledge entry or
// resolution path
type EmbeddingRecord struct {
	ID       EmbeddingRecordID
	Kind     types.EntityKind
	EntityID string
	// SubKind narrows Kind, e.g. the knowledge kind or the problem type
	SubKind   string
	Version   string
	Vector    []float32
	Tags      []string
	UpdatedAt time.Time
}

// Copy returns a deep copy of the record
func (x *EmbeddingRecord) Copy() *EmbeddingRecord {
	if x == nil {
		return nil
	}
	c := *x
	c.Vector = append([]float32(nil), x.Vector...)
	c.Tags = append([]string(nil), x.Tags...)
	return &c
}
