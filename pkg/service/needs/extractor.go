// Package needs extracts customer needs, sentiment and urgency from
// conversation turns.
package needs

import (
	"cmp"
	"math"
	"slices"

	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

// Extractor is the heuristic needs and sentiment analyzer. It is safe for
// concurrent use.
type Extractor struct {
	rules *RuleSet
}

// New creates an Extractor. A nil rule set selects DefaultRuleSet.
func New(rules *RuleSet) (*Extractor, error) {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{rules: rules.Clone()}, nil
}

// Version returns the version of the rule set in use
func (e *Extractor) Version() string {
	return e.rules.Version
}

type needHit struct {
	rule     NeedRule
	hits     int
	turns    int
	evidence string
}

// Extract returns the deduplicated needs ordered by priority. The result is
// never nil.
func (e *Extractor) Extract(msgs []*model.Message) []model.ExtractedNeed {
	return e.Analyze(msgs).Needs
}

// Analyze runs needs and sentiment extraction over the customer turns of
// msgs. Empty or assistant-only input yields DefaultAnalysis.
func (e *Extractor) Analyze(msgs []*model.Message) model.Analysis {
	result := model.DefaultAnalysis()
	result.RuleSetVersion = e.rules.Version

	found := map[types.NeedType]*needHit{}
	var order []types.NeedType
	counts := map[types.Sentiment]int{}
	customerTurns := 0

	for idx, msg := range msgs {
		if msg == nil || !msg.Role.IsCustomer() || textutil.IsBlank(msg.Content) {
			continue
		}
		customerTurns++

		for _, rule := range e.rules.Needs {
			hits, matched := textutil.CountKeywords(msg.Content, rule.Keywords)
			if hits == 0 {
				continue
			}
			h, ok := found[rule.Type]
			if !ok {
				h = &needHit{
					rule:     rule,
					evidence: textutil.SentenceContaining(msg.Content, matched[0]),
				}
				found[rule.Type] = h
				order = append(order, rule.Type)
			}
			h.hits += hits
			h.turns++
		}

		for _, rule := range e.rules.Sentiments {
			_, matched := textutil.CountKeywords(msg.Content, rule.Keywords)
			if len(matched) == 0 {
				continue
			}
			counts[rule.Sentiment]++
			result.Signals = append(result.Signals, model.SentimentSignal{
				MessageIndex: idx,
				Sentiment:    rule.Sentiment,
				Keyword:      matched[0],
			})
		}
	}

	if customerTurns == 0 {
		return result
	}

	result.Sentiment = dominantSentiment(counts)
	result.Urgency = urgencyOf(counts)
	result.PriorityBoost = math.Min(e.rules.BoostCap,
		e.rules.BoostFrustrated*float64(counts[types.SentimentFrustrated])+
			e.rules.BoostNegative*float64(counts[types.SentimentNegative]))
	result.EscalationRequired = result.Urgency == types.UrgencyHigh

	var urgencyWeight float64
	switch result.Urgency {
	case types.UrgencyHigh:
		urgencyWeight = e.rules.UrgencyWeightHigh
	case types.UrgencyMedium:
		urgencyWeight = e.rules.UrgencyWeightMedium
	}

	needs := make([]model.ExtractedNeed, 0, len(order))
	for _, t := range order {
		h := found[t]
		confidence := e.confidence(h)
		score := confidence + result.PriorityBoost + urgencyWeight + h.rule.Weight
		needs = append(needs, model.ExtractedNeed{
			Type:          t,
			Evidence:      h.evidence,
			Confidence:    confidence,
			Priority:      e.tier(score),
			PriorityScore: score,
			Suggestion:    h.rule.Suggestion,
		})
	}
	SortNeeds(needs)
	result.Needs = needs

	switch {
	case len(needs) > 0:
		result.Priority = needs[0].Priority
	case result.Urgency == types.UrgencyHigh:
		result.Priority = types.PriorityHigh
	case result.Urgency == types.UrgencyMedium:
		result.Priority = types.PriorityMedium
	}
	return result
}

func (e *Extractor) confidence(h *needHit) float64 {
	density := float64(h.hits) / float64(h.hits+2)

	var bonus float64
	switch {
	case h.turns >= e.rules.RepetitionTurns:
		bonus = e.rules.RepetitionBonus
	case h.turns >= 2:
		bonus = e.rules.RepetitionBonus / 2
	}
	return math.Min(1, e.rules.BaseConfidence+e.rules.DensityWeight*density+bonus)
}

func (e *Extractor) tier(score float64) types.Priority {
	switch {
	case score > e.rules.ThresholdHigh:
		return types.PriorityHigh
	case score > e.rules.ThresholdMedium:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

func dominantSentiment(counts map[types.Sentiment]int) types.Sentiment {
	switch {
	case counts[types.SentimentUrgent] > 0:
		return types.SentimentUrgent
	case counts[types.SentimentFrustrated] > 0:
		return types.SentimentFrustrated
	case counts[types.SentimentNegative] > 0 && counts[types.SentimentNegative] >= counts[types.SentimentPositive]:
		return types.SentimentNegative
	case counts[types.SentimentPositive] > 0:
		return types.SentimentPositive
	default:
		return types.SentimentNeutral
	}
}

func urgencyOf(counts map[types.Sentiment]int) types.Urgency {
	switch {
	case counts[types.SentimentUrgent] > 0, counts[types.SentimentFrustrated] >= 2:
		return types.UrgencyHigh
	case counts[types.SentimentFrustrated] > 0, counts[types.SentimentNegative] > 0:
		return types.UrgencyMedium
	default:
		return types.UrgencyLow
	}
}

// SortNeeds orders needs by priority rank, then score, then confidence.
// The need type breaks remaining ties so the order is stable.
func SortNeeds(needs []model.ExtractedNeed) {
	slices.SortStableFunc(needs, func(a, b model.ExtractedNeed) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.PriorityScore, a.PriorityScore); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
}
