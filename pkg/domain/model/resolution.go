package model

import (
	"time"

	"github.com/google/uuid"
)

// ResolutionPathID identifies a ResolutionPath
type ResolutionPathID string

func (x ResolutionPathID) String() string { return string(x) }

// NewResolutionPathID generates a new UUID v4 ResolutionPathID
func NewResolutionPathID() ResolutionPathID {
	return ResolutionPathID(uuid.New().String())
}

// KeyStep is one exchange that moved the conversation toward a solution
type KeyStep struct {
	Action string
	Result string
}

// ResolutionPath is the recorded trace of how a problem was (or was not)
// solved. It is read-only once recorded.
type ResolutionPath struct {
	ID             ResolutionPathID
	ConversationID ConversationID
	ProblemType    string
	Problem        string
	Solution       string
	StepsCount     int
	ResolutionTime time.Duration
	Successful     bool
	KeySteps       []KeyStep
	Embedding      []float32
	CreatedAt      time.Time
}

// Copy returns a deep copy of the path
func (x *ResolutionPath) Copy() *ResolutionPath {
	if x == nil {
		return nil
	}
	c := *x
	c.KeySteps = append([]KeyStep(nil), x.KeySteps...)
	c.Embedding = append([]float32(nil), x.Embedding...)
	return &c
}
