package embedding

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
	"golang.org/x/sync/errgroup"
)

// Input limits
const (
	MaxInputRunes  = 40000
	MaxInputTokens = 8191
	MaxBatchSize   = 1000
)

var (
	ErrEmptyInput    = goerr.New("input text is empty", goerr.T(model.TagInput))
	ErrInputTooLong  = goerr.New("input text is too long", goerr.T(model.TagInput))
	ErrEmptyBatch    = goerr.New("input batch is empty", goerr.T(model.TagInput))
	ErrBatchTooLarge = goerr.New("input batch is too large", goerr.T(model.TagInput))
)

// ValidateText checks a single input against the provider limits
func ValidateText(text string) error {
	if textutil.IsBlank(text) {
		return ErrEmptyInput
	}
	if n := utf8.RuneCountInString(text); n > MaxInputRunes {
		return goerr.Wrap(ErrInputTooLong, "too many characters", goerr.V("length", n), goerr.V("max", MaxInputRunes))
	}
	if n := textutil.EstimateTokens(text); n > MaxInputTokens {
		return goerr.Wrap(ErrInputTooLong, "too many tokens", goerr.V("tokens", n), goerr.V("max", MaxInputTokens))
	}
	return nil
}

// ValidateBatch checks a batch and every element in it
func ValidateBatch(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyBatch
	}
	if len(texts) > MaxBatchSize {
		return goerr.Wrap(ErrBatchTooLarge, "batch exceeds limit", goerr.V("size", len(texts)), goerr.V("max", MaxBatchSize))
	}
	for i, text := range texts {
		if err := ValidateText(text); err != nil {
			return goerr.Wrap(err, fmt.Sprintf("invalid input at index %d", i), goerr.V(model.IndexKey, i))
		}
	}
	return nil
}

// Normalize scales v to unit length in place. A zero vector is left as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Client generates embeddings with a gollem LLM client
type Client struct {
	llm         gollem.LLMClient
	dimension   int
	chunkSize   int
	concurrency int
	timeout     time.Duration
}

var _ interfaces.Embedder = &Client{}

// Option is a functional option for Client configuration
type Option func(*Client)

// WithDimension sets the requested vector dimension
func WithDimension(dim int) Option {
	return func(c *Client) {
		c.dimension = dim
	}
}

// WithChunkSize sets how many texts are sent per provider call
func WithChunkSize(n int) Option {
	return func(c *Client) {
		c.chunkSize = n
	}
}

// WithConcurrency bounds concurrent provider calls
func WithConcurrency(n int) Option {
	return func(c *Client) {
		c.concurrency = n
	}
}

// WithTimeout bounds each provider call
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a new embedding client with the provided LLM client
func New(llm gollem.LLMClient, opts ...Option) (*Client, error) {
	if llm == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &Client{
		llm:         llm,
		dimension:   model.EmbeddingDimension,
		chunkSize:   100,
		concurrency: 4,
		timeout:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Embed returns the normalized embedding of text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	vectors, err := c.generate(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany returns normalized embeddings in input order
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for start := 0; start < len(texts); start += c.chunkSize {
		end := min(start+c.chunkSize, len(texts))
		g.Go(func() error {
			vectors, err := c.generate(gCtx, texts[start:end])
			if err != nil {
				return goerr.Wrap(err, "failed to embed chunk", goerr.V("start", start), goerr.V("end", end))
			}
			copy(results[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) generate(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings, err := c.llm.GenerateEmbedding(ctx, c.dimension, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding", goerr.T(model.TagExternal), goerr.V("count", len(texts)))
	}
	if len(embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch", goerr.T(model.TagExternal),
			goerr.V("expected", len(texts)), goerr.V("actual", len(embeddings)))
	}

	// Convert float64 to float32
	results := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		if len(e) == 0 {
			return nil, goerr.New("empty embedding returned", goerr.T(model.TagExternal), goerr.V(model.IndexKey, i))
		}
		v := make([]float32, len(e))
		for j, x := range e {
			v[j] = float32(x)
		}
		results[i] = Normalize(v)
	}
	return results, nil
}
