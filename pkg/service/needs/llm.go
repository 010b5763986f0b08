package needs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

// LLMAnalyzer produces an Analysis with a structured-output LLM session
type LLMAnalyzer struct {
	llmClient gollem.LLMClient
	timeout   time.Duration
}

// LLMOption is a functional option for LLMAnalyzer
type LLMOption func(*LLMAnalyzer)

// WithLLMTimeout bounds a single analysis call
func WithLLMTimeout(d time.Duration) LLMOption {
	return func(a *LLMAnalyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewLLMAnalyzer creates an analyzer backed by llmClient
func NewLLMAnalyzer(llmClient gollem.LLMClient, opts ...LLMOption) (*LLMAnalyzer, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required", goerr.T(model.TagInput))
	}

	a := &LLMAnalyzer{
		llmClient: llmClient,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type llmResponse struct {
	Needs              []llmNeed `json:"needs"`
	Sentiment          string    `json:"sentiment"`
	Urgency            string    `json:"urgency"`
	EscalationRequired bool      `json:"escalation_required"`
}

type llmNeed struct {
	Type       string  `json:"type"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
	Priority   string  `json:"priority"`
	Suggestion string  `json:"suggestion"`
}

// Analyze asks the LLM for an analysis of the customer turns. Provider
// failures are returned tagged as external errors. Malformed output is
// logged and replaced by DefaultAnalysis without an error.
func (a *LLMAnalyzer) Analyze(ctx context.Context, msgs []*model.Message) (model.Analysis, error) {
	userPrompt, ok := buildUserPrompt(msgs)
	if !ok {
		return model.DefaultAnalysis(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	session, err := a.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(buildResponseSchema()),
		gollem.WithSessionSystemPrompt(buildSystemPrompt()),
	)
	if err != nil {
		return model.Analysis{}, goerr.Wrap(err, "failed to create LLM session", goerr.T(model.TagExternal))
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(userPrompt))
	if err != nil {
		return model.Analysis{}, goerr.Wrap(err, "failed to generate analysis", goerr.T(model.TagExternal))
	}

	analysis, err := parseResponse(resp)
	if err != nil {
		logging.From(ctx).Warn("malformed analysis output, using default", "error", err)
		return model.DefaultAnalysis(), nil
	}
	return analysis, nil
}

func parseResponse(resp *gollem.Response) (model.Analysis, error) {
	if resp == nil || len(resp.Texts) == 0 {
		return model.Analysis{}, goerr.New("empty LLM response", goerr.T(model.TagParse))
	}

	var raw llmResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &raw); err != nil {
		return model.Analysis{}, goerr.Wrap(err, "failed to parse LLM response", goerr.T(model.TagParse), goerr.V("response", resp.Texts[0]))
	}

	sentiment, err := types.ParseSentiment(raw.Sentiment)
	if err != nil {
		return model.Analysis{}, goerr.Wrap(err, "invalid sentiment in LLM response", goerr.T(model.TagParse))
	}
	urgency, err := types.ParseUrgency(raw.Urgency)
	if err != nil {
		return model.Analysis{}, goerr.Wrap(err, "invalid urgency in LLM response", goerr.T(model.TagParse))
	}

	analysis := model.DefaultAnalysis()
	analysis.Sentiment = sentiment
	analysis.Urgency = urgency
	analysis.EscalationRequired = raw.EscalationRequired || urgency == types.UrgencyHigh
	analysis.RuleSetVersion = "llm"

	seen := map[types.NeedType]bool{}
	for _, n := range raw.Needs {
		needType, err := types.ParseNeedType(n.Type)
		if err != nil {
			return model.Analysis{}, goerr.Wrap(err, "invalid need type in LLM response", goerr.T(model.TagParse))
		}
		priority, err := types.ParsePriority(n.Priority)
		if err != nil {
			return model.Analysis{}, goerr.Wrap(err, "invalid priority in LLM response", goerr.T(model.TagParse))
		}
		if seen[needType] {
			continue
		}
		seen[needType] = true

		confidence := n.Confidence
		if math.IsNaN(confidence) {
			confidence = 0
		}
		confidence = math.Max(0, math.Min(1, confidence))

		analysis.Needs = append(analysis.Needs, model.ExtractedNeed{
			Type:          needType,
			Evidence:      n.Evidence,
			Confidence:    confidence,
			Priority:      priority,
			PriorityScore: confidence + 0.25*float64(priority.Rank()),
			Suggestion:    n.Suggestion,
		})
	}
	SortNeeds(analysis.Needs)

	switch {
	case len(analysis.Needs) > 0:
		analysis.Priority = analysis.Needs[0].Priority
	case urgency == types.UrgencyHigh:
		analysis.Priority = types.PriorityHigh
	}
	return analysis, nil
}

func buildSystemPrompt() string {
	var sb strings.Builder

	sb.WriteString("You are a customer support analyst. Read the customer turns of a support conversation and extract structured signals.\n\n")
	sb.WriteString("## Instructions:\n\n")
	sb.WriteString("1. List the customer needs. Each need has a type, the evidence sentence quoted from the customer, a confidence between 0 and 1, a priority and a short suggestion for the support agent.\n")
	fmt.Fprintf(&sb, "2. Allowed need types: %s.\n", joinValues(types.AllNeedTypes()))
	fmt.Fprintf(&sb, "3. Overall sentiment is one of: %s.\n", joinValues(types.AllSentiments()))
	fmt.Fprintf(&sb, "4. Urgency is one of: %s.\n", joinValues(types.AllUrgencies()))
	sb.WriteString("5. Set escalation_required when a human agent should take over immediately.\n")
	sb.WriteString("6. If no need is expressed, return an empty array.\n")

	return sb.String()
}

func joinValues[T ~string](values []T) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = string(v)
	}
	return strings.Join(s, ", ")
}

// buildUserPrompt lists the customer turns. It returns false when there is
// nothing to analyze.
func buildUserPrompt(msgs []*model.Message) (string, bool) {
	var sb strings.Builder
	sb.WriteString("## Customer turns:\n\n")

	n := 0
	for _, msg := range msgs {
		if msg == nil || !msg.Role.IsCustomer() || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. %s\n", n, msg.Content)
	}
	return sb.String(), n > 0
}

func buildResponseSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "ConversationAnalysis",
		Description: "Customer needs and sentiment extracted from a support conversation",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"needs": {
				Type:        gollem.TypeArray,
				Required:    true,
				Description: "Needs expressed by the customer",
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"type": {
							Type:        gollem.TypeString,
							Required:    true,
							Description: "Need type",
						},
						"evidence": {
							Type:        gollem.TypeString,
							Required:    true,
							Description: "Customer sentence supporting the need",
						},
						"confidence": {
							Type:        gollem.TypeNumber,
							Required:    true,
							Description: "Confidence between 0 and 1",
						},
						"priority": {
							Type:        gollem.TypeString,
							Required:    true,
							Description: "low, medium or high",
						},
						"suggestion": {
							Type:        gollem.TypeString,
							Description: "Suggested next action for the support agent",
						},
					},
				},
			},
			"sentiment": {
				Type:        gollem.TypeString,
				Required:    true,
				Description: "Overall customer sentiment",
			},
			"urgency": {
				Type:        gollem.TypeString,
				Required:    true,
				Description: "low, medium or high",
			},
			"escalation_required": {
				Type:        gollem.TypeBoolean,
				Required:    true,
				Description: "True if a human agent should take over now",
			},
		},
	}
}
