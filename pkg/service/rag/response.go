package rag

import (
	"context"
	"strconv"
	"strings"

	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

const (
	// ApologyMessage is returned when no context can be retrieved
	ApologyMessage = "申し訳ございません。ただいま回答を準備できませんでした。担当者より折り返しご連絡いたします。"

	noContextMessage = "お問い合わせありがとうございます。該当する情報が見つからなかったため、担当者に確認のうえご案内いたします。"
	maxSteps         = 5
	answerLength     = 400
)

// Response is a generated reply grounded on retrieved context
type Response struct {
	Text string
	// References lists the contributing sources in rank order
	References      []Source
	ResolutionSteps []string
	Confidence      float64
	// Generated is set when the text came from the completion collaborator
	Generated bool
	// Fallback is set when retrieval failed and the text is the canned apology
	Fallback bool
	Context  *Context
}

// GenerateResponse retrieves context for query and answers it. It never
// fails: without context it answers with a canned message.
func (a *Aggregator) GenerateResponse(ctx context.Context, conv *model.Conversation, query string) *Response {
	logger := logging.From(ctx)

	rc, err := a.OptimizeContextInjection(ctx, query)
	if err != nil {
		logger.Warn("context retrieval failed, replying with apology", "error", err)
		return &Response{Text: ApologyMessage, Fallback: true}
	}

	resp := &Response{
		References:      rc.Sources,
		ResolutionSteps: resolutionSteps(rc),
		Confidence:      rc.Confidence,
		Context:         rc,
	}

	if a.completer != nil {
		if text, ok := a.complete(ctx, conv, query, rc); ok {
			resp.Text = text
			resp.Generated = true
			return resp
		}
	}

	resp.Text = heuristicAnswer(rc, resp.ResolutionSteps)
	return resp
}

func (a *Aggregator) complete(ctx context.Context, conv *model.Conversation, query string, rc *Context) (string, bool) {
	logger := logging.From(ctx)

	prompt, err := BuildAugmentedPrompt(query, rc)
	if err != nil {
		logger.Warn("failed to build prompt", "error", err)
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()

	var history []*model.Message
	if conv != nil {
		history = priorTurns(conv.Messages, query)
	}
	text, err := a.completer.Complete(ctx, systemPrompt, history, prompt)
	if err != nil || textutil.IsBlank(text) {
		logger.Warn("completion failed, using heuristic answer", "error", err)
		return "", false
	}
	return strings.TrimSpace(text), true
}

// priorTurns drops the trailing customer message carrying query, which the
// prompt already contains
func priorTurns(messages []*model.Message, query string) []*model.Message {
	if n := len(messages); n > 0 {
		last := messages[n-1]
		if last.Role.IsCustomer() && strings.TrimSpace(last.Content) == strings.TrimSpace(query) {
			return messages[:n-1]
		}
	}
	return messages
}

// resolutionSteps takes the steps of the best ranked item carrying steps
func resolutionSteps(rc *Context) []string {
	for _, item := range rc.RankedInformation {
		if len(item.Steps) == 0 {
			continue
		}
		steps := item.Steps
		if len(steps) > maxSteps {
			steps = steps[:maxSteps]
		}
		return append([]string(nil), steps...)
	}
	return nil
}

func heuristicAnswer(rc *Context, steps []string) string {
	if len(rc.RankedInformation) == 0 {
		return noContextMessage
	}

	top := rc.RankedInformation[0]
	var b strings.Builder
	b.WriteString("お問い合わせありがとうございます。")
	if top.Content != "" {
		b.WriteString("\n")
		b.WriteString(textutil.Truncate(top.Content, answerLength))
	}
	if len(steps) > 0 {
		b.WriteString("\n\n以下の手順をお試しください。")
		for i, s := range steps {
			b.WriteString("\n")
			b.WriteString(strconv.Itoa(i+1) + ". " + s)
		}
	}
	b.WriteString("\n\n参考: ")
	b.WriteString(top.Title)
	return b.String()
}
