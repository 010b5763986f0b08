package completion_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/completion"
)

type mockLLMSession struct {
	generateContentFn func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return s.generateContentFn(ctx, input...)
}

func (s *mockLLMSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockLLMSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockLLMSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

type mockLLMClient struct {
	sessionErr error
	texts      []string
	genErr     error
	input      string
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	if c.sessionErr != nil {
		return nil, c.sessionErr
	}
	return &mockLLMSession{
		generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
			if text, ok := input[0].(gollem.Text); ok {
				c.input = string(text)
			}
			if c.genErr != nil {
				return nil, c.genErr
			}
			return &gollem.Response{Texts: c.texts}, nil
		},
	}, nil
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return nil, errors.New("not implemented")
}

func history(n int) []*model.Message {
	var msgs []*model.Message
	for i := range n {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs = append(msgs, &model.Message{Role: role, Content: fmt.Sprintf("turn-%02d", i)})
	}
	return msgs
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("includes history and message", func(t *testing.T) {
		client := &mockLLMClient{texts: []string{"  こんにちは。", "ご案内します。 "}}
		c, err := completion.New(client)
		gt.NoError(t, err).Required()

		text, err := c.Complete(ctx, "system", history(2), "ログインできません")
		gt.NoError(t, err).Required()
		gt.Value(t, text).Equal("こんにちは。ご案内します。")
		gt.String(t, client.input).Contains("[user] turn-00")
		gt.String(t, client.input).Contains("[assistant] turn-01")
		gt.String(t, client.input).Contains("ログインできません")
	})

	t.Run("history is trimmed to recent turns", func(t *testing.T) {
		client := &mockLLMClient{texts: []string{"ok"}}
		c, err := completion.New(client, completion.WithHistoryTurns(3))
		gt.NoError(t, err).Required()

		_, err = c.Complete(ctx, "", history(10), "next")
		gt.NoError(t, err).Required()
		gt.String(t, client.input).Contains("turn-09")
		gt.String(t, client.input).Contains("turn-07")
		for _, old := range []string{"turn-00", "turn-06"} {
			gt.Bool(t, strings.Contains(client.input, old)).False()
		}
	})

	t.Run("provider failures are external", func(t *testing.T) {
		for _, client := range []*mockLLMClient{
			{sessionErr: errors.New("auth")},
			{genErr: errors.New("quota")},
		} {
			c, err := completion.New(client)
			gt.NoError(t, err).Required()
			_, err = c.Complete(ctx, "", nil, "hello")
			gt.Bool(t, model.IsExternalError(err)).True()
		}
	})

	t.Run("empty output is a parse error", func(t *testing.T) {
		c, err := completion.New(&mockLLMClient{texts: []string{"  "}})
		gt.NoError(t, err).Required()
		_, err = c.Complete(ctx, "", nil, "hello")
		gt.Bool(t, model.IsParseError(err)).True()
	})

	t.Run("blank message is rejected", func(t *testing.T) {
		client := &mockLLMClient{texts: []string{"ok"}}
		c, err := completion.New(client)
		gt.NoError(t, err).Required()
		_, err = c.Complete(ctx, "", nil, " ")
		gt.Bool(t, model.IsInputError(err)).True()
		gt.Value(t, client.input).Equal("")
	})

	t.Run("nil client", func(t *testing.T) {
		_, err := completion.New(nil)
		gt.Value(t, err).NotNil()
	})
}
