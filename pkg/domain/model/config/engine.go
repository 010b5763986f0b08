package config

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// Engine holds the tunable parameters of the conversation engine
type Engine struct {
	Escalation Escalation
	Retrieval  Retrieval
	Feedback   Feedback
	Similarity Similarity
	Worker     Worker
}

// Escalation configures decision thresholds and routing
type Escalation struct {
	// MaxInteractions escalates once the automated turn count reaches it
	MaxInteractions int
	// LowConfidenceThreshold escalates when retrieval confidence is below it.
	// Zero disables the rule.
	LowConfidenceThreshold float64
	Channels               map[types.CategoryID]string
	DefaultChannel         string
	OnCallTarget           string
	UrgentTag              string
	BaseURL                string
}

// Retrieval configures the context aggregator
type Retrieval struct {
	RelevanceFloor   float64
	AdaptiveFloor    float64
	MaxItems         int
	Timeout          time.Duration
	CacheTTL         time.Duration
	CacheSize        int
	SimilarityWeight float64
	QualityWeight    float64
}

// Feedback configures the success pattern loop
type Feedback struct {
	Threshold int
}

// Similarity configures vector analytics
type Similarity struct {
	AnomalyThreshold float64
	AnomalyNeighbors int
}

// Worker configures the background worker pool
type Worker struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultEngine returns the default configuration
func DefaultEngine() *Engine {
	return &Engine{
		Escalation: Escalation{
			MaxInteractions: 5,
			Channels: map[types.CategoryID]string{
				types.CategoryMarketing: "#marketing",
				types.CategoryTech:      "#tech-support",
			},
			DefaultChannel: "#general-support",
			OnCallTarget:   "#oncall",
			UrgentTag:      "URGENT",
			BaseURL:        "https://support.example.com",
		},
		Retrieval: Retrieval{
			RelevanceFloor:   0.7,
			AdaptiveFloor:    0.5,
			MaxItems:         20,
			Timeout:          3 * time.Second,
			CacheTTL:         5 * time.Minute,
			CacheSize:        256,
			SimilarityWeight: 0.7,
			QualityWeight:    0.3,
		},
		Feedback: Feedback{
			Threshold: 70,
		},
		Similarity: Similarity{
			AnomalyThreshold: 0.8,
			AnomalyNeighbors: 5,
		},
		Worker: Worker{
			Workers:         4,
			QueueSize:       128,
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}
}

// Validate checks if the configuration is consistent
func (x *Engine) Validate() error {
	e := x.Escalation
	if e.MaxInteractions < 1 {
		return goerr.New("max interactions must be positive", goerr.V("max_interactions", e.MaxInteractions))
	}
	if e.LowConfidenceThreshold < 0 || e.LowConfidenceThreshold > 1 {
		return goerr.New("low confidence threshold must be between 0 and 1", goerr.V("threshold", e.LowConfidenceThreshold))
	}
	if e.DefaultChannel == "" {
		return goerr.New("default channel is required")
	}
	for id := range e.Channels {
		if err := id.Validate(); err != nil {
			return goerr.Wrap(err, "invalid channel mapping")
		}
	}

	r := x.Retrieval
	if r.RelevanceFloor < 0 || r.RelevanceFloor > 1 {
		return goerr.New("relevance floor must be between 0 and 1", goerr.V("floor", r.RelevanceFloor))
	}
	if r.AdaptiveFloor < 0 || r.AdaptiveFloor > r.RelevanceFloor {
		return goerr.New("adaptive floor must be between 0 and the relevance floor", goerr.V("floor", r.AdaptiveFloor))
	}
	if r.MaxItems < 1 || r.MaxItems > 20 {
		return goerr.New("max items must be between 1 and 20", goerr.V("max_items", r.MaxItems))
	}
	if r.Timeout <= 0 || r.Timeout > 3*time.Second {
		return goerr.New("retrieval timeout must be positive and at most 3s", goerr.V("timeout", r.Timeout))
	}
	if r.CacheTTL < 0 {
		return goerr.New("cache TTL must not be negative", goerr.V("ttl", r.CacheTTL))
	}
	if r.SimilarityWeight < 0 || r.QualityWeight < 0 || r.SimilarityWeight+r.QualityWeight == 0 {
		return goerr.New("retrieval weights must be non-negative and not both zero")
	}

	if x.Feedback.Threshold < 0 || x.Feedback.Threshold > 100 {
		return goerr.New("feedback threshold must be between 0 and 100", goerr.V("threshold", x.Feedback.Threshold))
	}

	if x.Similarity.AnomalyThreshold <= 0 || x.Similarity.AnomalyThreshold > 1 {
		return goerr.New("anomaly threshold must be in (0, 1]", goerr.V("threshold", x.Similarity.AnomalyThreshold))
	}
	if x.Similarity.AnomalyNeighbors < 1 {
		return goerr.New("anomaly neighbors must be positive", goerr.V("neighbors", x.Similarity.AnomalyNeighbors))
	}

	return x.Worker.Validate()
}

// Validate checks the pool sizes and backoff intervals
func (w Worker) Validate() error {
	if w.Workers < 1 || w.QueueSize < 1 || w.MaxAttempts < 1 {
		return goerr.New("worker pool sizes must be positive",
			goerr.V("workers", w.Workers), goerr.V("queue_size", w.QueueSize), goerr.V("max_attempts", w.MaxAttempts))
	}
	if w.InitialInterval <= 0 || w.MaxInterval < w.InitialInterval {
		return goerr.New("invalid backoff intervals",
			goerr.V("initial", w.InitialInterval), goerr.V("max", w.MaxInterval))
	}
	return nil
}

// ChannelFor returns the channel of a category, or the default channel
func (x Escalation) ChannelFor(category types.CategoryID) string {
	if ch, ok := x.Channels[category]; ok && ch != "" {
		return ch
	}
	return x.DefaultChannel
}
