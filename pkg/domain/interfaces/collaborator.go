package interfaces

import (
	"context"

	"github.com/secmon-lab/hermes/pkg/domain/model"
)

// Embedder turns text into L2-normalized vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Notifier delivers escalation notifications
type Notifier interface {
	Send(ctx context.Context, channel string, n *model.Notification) error
}

// Completer is the optional language-completion collaborator. Callers must
// fall back to heuristics when it fails.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []*model.Message, userMessage string) (string, error)
}

// Job is a unit of background work. Jobs with the same Key are not run
// concurrently.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// JobHandle observes an enqueued job
type JobHandle interface {
	// Wait blocks until the job finished and returns its terminal error
	Wait(ctx context.Context) error
	Done() <-chan struct{}
}

// Scheduler runs jobs in the background with retry
type Scheduler interface {
	Enqueue(ctx context.Context, job Job) (JobHandle, error)
}
