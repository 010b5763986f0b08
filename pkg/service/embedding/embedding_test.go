package embedding_test

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/service/embedding"
)

type mockLLMClient struct {
	generateEmbeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return nil, errors.New("not supported")
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return c.generateEmbeddingFn(ctx, dimension, input)
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestValidate(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		for _, s := range []string{"", "   ", "\n\t"} {
			err := embedding.ValidateText(s)
			gt.Error(t, err).Is(embedding.ErrEmptyInput)
			gt.Bool(t, model.IsInputError(err)).True()
		}
	})

	t.Run("too many characters", func(t *testing.T) {
		err := embedding.ValidateText(strings.Repeat("a ", 20001))
		gt.Error(t, err).Is(embedding.ErrInputTooLong)
		gt.Bool(t, model.IsInputError(err)).True()
	})

	t.Run("too many tokens", func(t *testing.T) {
		// CJK runes count one token each
		err := embedding.ValidateText(strings.Repeat("あ", 9000))
		gt.Error(t, err).Is(embedding.ErrInputTooLong)
	})

	t.Run("empty batch", func(t *testing.T) {
		err := embedding.ValidateBatch(nil)
		gt.Error(t, err).Is(embedding.ErrEmptyBatch)
		gt.Bool(t, model.IsInputError(err)).True()
	})

	t.Run("batch too large", func(t *testing.T) {
		texts := make([]string, 1001)
		for i := range texts {
			texts[i] = "hello"
		}
		err := embedding.ValidateBatch(texts)
		gt.Error(t, err).Is(embedding.ErrBatchTooLarge)
		gt.Bool(t, model.IsInputError(err)).True()
	})

	t.Run("invalid element names index", func(t *testing.T) {
		err := embedding.ValidateBatch([]string{"ok", "fine", ""})
		gt.Error(t, err).Is(embedding.ErrEmptyInput)
		gt.String(t, err.Error()).Contains("invalid input at index 2")
	})
}

func TestClient(t *testing.T) {
	t.Run("normalizes and converts vectors", func(t *testing.T) {
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				gt.Value(t, dimension).Equal(model.EmbeddingDimension)
				out := make([][]float64, len(input))
				for i := range input {
					out[i] = []float64{3, 4}
				}
				return out, nil
			},
		}
		client, err := embedding.New(llm)
		gt.NoError(t, err).Required()

		v, err := client.Embed(context.Background(), "ログインできません")
		gt.NoError(t, err).Required()
		gt.Array(t, v).Length(2)
		gt.Bool(t, math.Abs(float64(v[0])-0.6) < 1e-6).True()
		gt.Bool(t, math.Abs(float64(v[1])-0.8) < 1e-6).True()
	})

	t.Run("splits batch into chunks and keeps order", func(t *testing.T) {
		var calls atomic.Int32
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				calls.Add(1)
				gt.Bool(t, len(input) <= 100).True()
				out := make([][]float64, len(input))
				for i, s := range input {
					var n float64
					for _, c := range s {
						n = n*10 + float64(c-'0')
					}
					out[i] = []float64{n + 1, 1}
				}
				return out, nil
			},
		}
		client, err := embedding.New(llm, embedding.WithChunkSize(100))
		gt.NoError(t, err).Required()

		texts := make([]string, 250)
		for i := range texts {
			texts[i] = strconv.Itoa(i)
		}

		vectors, err := client.EmbedMany(context.Background(), texts)
		gt.NoError(t, err).Required()
		gt.Array(t, vectors).Length(250)
		gt.Value(t, calls.Load()).Equal(int32(3))

		// vector i encodes i+1 in the first component before normalization
		for i, v := range vectors {
			ratio := float64(v[0]) / float64(v[1])
			gt.Bool(t, math.Abs(ratio-float64(i+1)) < 1e-3).True()
		}
	})

	t.Run("provider failure is external", func(t *testing.T) {
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return nil, errors.New("quota exceeded")
			},
		}
		client, err := embedding.New(llm)
		gt.NoError(t, err).Required()

		_, err = client.Embed(context.Background(), "hello")
		gt.Value(t, err).NotNil()
		gt.Bool(t, model.IsExternalError(err)).True()
		gt.Bool(t, model.IsInputError(err)).False()
	})

	t.Run("input errors are not sent to provider", func(t *testing.T) {
		llm := &mockLLMClient{
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				t.Error("provider must not be called")
				return nil, nil
			},
		}
		client, err := embedding.New(llm)
		gt.NoError(t, err).Required()

		_, err = client.Embed(context.Background(), "")
		gt.Error(t, err).Is(embedding.ErrEmptyInput)

		_, err = client.EmbedMany(context.Background(), []string{})
		gt.Error(t, err).Is(embedding.ErrEmptyBatch)
	})

	t.Run("nil client is rejected", func(t *testing.T) {
		_, err := embedding.New(nil)
		gt.Value(t, err).NotNil()
	})
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	local := embedding.NewLocal(0)

	t.Run("deterministic and normalized", func(t *testing.T) {
		a, err := local.Embed(ctx, "ECサイトの売上を改善したいです")
		gt.NoError(t, err).Required()
		b, err := local.Embed(ctx, "ECサイトの売上を改善したいです")
		gt.NoError(t, err).Required()

		gt.Array(t, a).Length(model.EmbeddingDimension)
		gt.Value(t, a).Equal(b)
		gt.Bool(t, math.Abs(magnitude(a)-1) <= 0.1).True()
	})

	t.Run("symbols only still yields a unit vector", func(t *testing.T) {
		v, err := local.Embed(ctx, "!!!")
		gt.NoError(t, err).Required()
		gt.Bool(t, math.Abs(magnitude(v)-1) <= 0.1).True()
	})

	t.Run("batch", func(t *testing.T) {
		vs, err := local.EmbedMany(ctx, []string{"login error", "ログインエラー"})
		gt.NoError(t, err).Required()
		gt.Array(t, vs).Length(2)

		_, err = local.EmbedMany(ctx, []string{"ok", " "})
		gt.Bool(t, model.IsInputError(err)).True()
	})

	t.Run("colliding tokens never yield a zero vector", func(t *testing.T) {
		// one bucket, so every pair of opposite-signed tokens collides
		tiny := embedding.NewLocal(1)
		words := []string{"login", "error", "billing", "invoice", "account", "password", "export", "report"}
		for _, a := range words {
			for _, b := range words {
				v, err := tiny.Embed(ctx, a+" "+b)
				gt.NoError(t, err).Required()
				gt.Bool(t, math.Abs(magnitude(v)-1) <= 1e-6).True()
			}
		}
	})

	t.Run("trailing filler keeps similarity", func(t *testing.T) {
		a, err := local.Embed(ctx, "パスワードを忘れました")
		gt.NoError(t, err).Required()
		b, err := local.Embed(ctx, "パスワードを忘れました。どうすればよいでしょうか")
		gt.NoError(t, err).Required()
		gt.Value(t, a).Equal(b)
	})

	t.Run("custom dimension", func(t *testing.T) {
		v, err := embedding.NewLocal(64).Embed(ctx, "hello world")
		gt.NoError(t, err).Required()
		gt.Array(t, v).Length(64)
	})
}

func TestNormalize(t *testing.T) {
	v := embedding.Normalize([]float32{0, 0, 0})
	gt.Value(t, v).Equal([]float32{0, 0, 0})

	v = embedding.Normalize([]float32{2, 0})
	gt.Value(t, v).Equal([]float32{1, 0})
}
