// Package completion implements the language completion collaborator with
// a gollem LLM client.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultHistoryTurns = 20
	historyTurnLength   = 1000
)

// Client completes replies with a text session per call
type Client struct {
	llmClient    gollem.LLMClient
	timeout      time.Duration
	historyTurns int
}

var _ interfaces.Completer = &Client{}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHistoryTurns limits how many recent turns are sent as history
func WithHistoryTurns(n int) Option {
	return func(c *Client) {
		c.historyTurns = n
	}
}

// New creates a Client
func New(llmClient gollem.LLMClient, opts ...Option) (*Client, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required", goerr.T(model.TagInput))
	}
	c := &Client{
		llmClient:    llmClient,
		timeout:      defaultTimeout,
		historyTurns: defaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete generates a reply to userMessage given the conversation history
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []*model.Message, userMessage string) (string, error) {
	if textutil.IsBlank(userMessage) {
		return "", goerr.New("user message is empty", goerr.T(model.TagInput))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var opts []gollem.SessionOption
	if systemPrompt != "" {
		opts = append(opts, gollem.WithSessionSystemPrompt(systemPrompt))
	}
	session, err := c.llmClient.NewSession(ctx, opts...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session", goerr.T(model.TagExternal))
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(c.buildInput(history, userMessage)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate completion", goerr.T(model.TagExternal))
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.New("empty completion", goerr.T(model.TagParse))
	}

	text := strings.TrimSpace(strings.Join(resp.Texts, ""))
	if text == "" {
		return "", goerr.New("empty completion", goerr.T(model.TagParse))
	}
	return text, nil
}

func (c *Client) buildInput(history []*model.Message, userMessage string) string {
	if c.historyTurns > 0 && len(history) > c.historyTurns {
		history = history[len(history)-c.historyTurns:]
	}

	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("## Conversation so far:\n\n")
		for _, msg := range history {
			if msg == nil || textutil.IsBlank(msg.Content) {
				continue
			}
			fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, textutil.Truncate(strings.TrimSpace(msg.Content), historyTurnLength))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(userMessage)
	return sb.String()
}
