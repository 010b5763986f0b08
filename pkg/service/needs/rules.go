package needs

import (
	"os"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// NeedRule maps a keyword family to a need type
type NeedRule struct {
	Type       types.NeedType `toml:"type"`
	Keywords   []string       `toml:"keywords"`
	Weight     float64        `toml:"weight"`
	Suggestion string         `toml:"suggestion"`
}

// SentimentRule maps a keyword family to a sentiment
type SentimentRule struct {
	Sentiment types.Sentiment `toml:"sentiment"`
	Keywords  []string        `toml:"keywords"`
}

// RuleSet is the immutable, versioned configuration of the Extractor.
// Extractor keeps its own copy, so mutating a RuleSet after New has no
// effect on a running extractor.
type RuleSet struct {
	Version    string          `toml:"version"`
	Needs      []NeedRule      `toml:"needs"`
	Sentiments []SentimentRule `toml:"sentiments"`

	BaseConfidence  float64 `toml:"base_confidence"`
	DensityWeight   float64 `toml:"density_weight"`
	RepetitionBonus float64 `toml:"repetition_bonus"`
	RepetitionTurns int     `toml:"repetition_turns"`

	BoostFrustrated float64 `toml:"boost_frustrated"`
	BoostNegative   float64 `toml:"boost_negative"`
	BoostCap        float64 `toml:"boost_cap"`

	UrgencyWeightHigh   float64 `toml:"urgency_weight_high"`
	UrgencyWeightMedium float64 `toml:"urgency_weight_medium"`

	ThresholdHigh   float64 `toml:"threshold_high"`
	ThresholdMedium float64 `toml:"threshold_medium"`
}

// DefaultRuleSet returns the built-in rule set with Japanese and English
// keyword families
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Version: "v1",
		Needs: []NeedRule{
			{
				Type:       types.NeedEfficiency,
				Keywords:   []string{"効率", "手間", "時間がかかる", "自動化", "工数", "面倒", "efficiency", "automate", "time-consuming", "manual work"},
				Weight:     0.05,
				Suggestion: "Propose workflow automation or bulk operations to cut manual work",
			},
			{
				Type:       types.NeedCostReduction,
				Keywords:   []string{"コスト", "費用", "安く", "削減", "料金", "値段", "cost", "expensive", "cheaper", "pricing"},
				Weight:     0.1,
				Suggestion: "Review the current plan and present a cost comparison",
			},
			{
				Type:       types.NeedFeatureRequest,
				Keywords:   []string{"機能", "欲しい", "できるように", "追加して", "feature", "would like", "wish"},
				Weight:     0.0,
				Suggestion: "Record the request for the product team and share the roadmap",
			},
			{
				Type:       types.NeedIntegration,
				Keywords:   []string{"連携", "統合", "api連携", "接続", "インポート", "integration", "integrate", "webhook", "sync"},
				Weight:     0.05,
				Suggestion: "Share integration guides and available connectors",
			},
			{
				Type:       types.NeedScalability,
				Keywords:   []string{"拡張", "スケール", "大量", "増加", "負荷", "scalability", "scale", "high volume", "growth"},
				Weight:     0.05,
				Suggestion: "Discuss capacity planning and higher tier plans",
			},
			{
				Type:       types.NeedUsability,
				Keywords:   []string{"使いにくい", "わかりにくい", "分かりにくい", "使い方", "見づらい", "usability", "confusing", "hard to use", "difficult to use"},
				Weight:     0.0,
				Suggestion: "Offer an onboarding session or step-by-step guide",
			},
		},
		Sentiments: []SentimentRule{
			{
				Sentiment: types.SentimentUrgent,
				Keywords:  []string{"至急", "緊急", "急ぎ", "今すぐ", "早急", "urgent", "asap", "immediately", "emergency"},
			},
			{
				Sentiment: types.SentimentFrustrated,
				Keywords:  []string{"イライラ", "何度も", "いい加減", "ひどい", "最悪", "frustrat", "annoying", "fed up", "ridiculous"},
			},
			{
				Sentiment: types.SentimentNegative,
				Keywords:  []string{"不満", "残念", "使えない", "不具合", "困って", "disappoint", "broken", "not working", "doesn't work"},
			},
			{
				Sentiment: types.SentimentPositive,
				Keywords:  []string{"ありがとう", "助かり", "素晴らしい", "解決しました", "満足", "thank", "great", "awesome", "perfect", "helpful"},
			},
		},

		BaseConfidence:  0.4,
		DensityWeight:   0.5,
		RepetitionBonus: 0.25,
		RepetitionTurns: 3,

		BoostFrustrated: 0.15,
		BoostNegative:   0.1,
		BoostCap:        0.5,

		UrgencyWeightHigh:   0.2,
		UrgencyWeightMedium: 0.1,

		ThresholdHigh:   0.8,
		ThresholdMedium: 0.5,
	}
}

// LoadRuleSet reads a TOML rule set. Keys missing from the file keep the
// values of DefaultRuleSet.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from CLI flag
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read rule set", goerr.V("path", path))
	}

	rules, err := ParseRuleSet(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load rule set", goerr.V("path", path))
	}
	return rules, nil
}

// ParseRuleSet decodes a TOML rule set on top of DefaultRuleSet and validates it
func ParseRuleSet(data []byte) (*RuleSet, error) {
	rules := DefaultRuleSet()
	if err := toml.Unmarshal(data, rules); err != nil {
		return nil, goerr.Wrap(err, "failed to parse rule set", goerr.T(model.TagParse))
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks the rule set
func (r *RuleSet) Validate() error {
	if r.Version == "" {
		return goerr.New("rule set version is required", goerr.T(model.TagInput))
	}

	seen := map[types.NeedType]bool{}
	for i, rule := range r.Needs {
		if !rule.Type.IsValid() {
			return goerr.New("invalid need type in rule set", goerr.T(model.TagInput), goerr.V(model.IndexKey, i), goerr.V("type", rule.Type))
		}
		if seen[rule.Type] {
			return goerr.New("duplicate need type in rule set", goerr.T(model.TagInput), goerr.V("type", rule.Type))
		}
		seen[rule.Type] = true
		if len(rule.Keywords) == 0 {
			return goerr.New("need rule has no keywords", goerr.T(model.TagInput), goerr.V("type", rule.Type))
		}
	}

	for i, rule := range r.Sentiments {
		if !rule.Sentiment.IsValid() || rule.Sentiment == types.SentimentNeutral {
			return goerr.New("invalid sentiment in rule set", goerr.T(model.TagInput), goerr.V(model.IndexKey, i), goerr.V("sentiment", rule.Sentiment))
		}
	}

	if r.ThresholdMedium <= 0 || r.ThresholdHigh <= r.ThresholdMedium {
		return goerr.New("thresholds must satisfy 0 < medium < high", goerr.T(model.TagInput),
			goerr.V("medium", r.ThresholdMedium), goerr.V("high", r.ThresholdHigh))
	}
	if r.BaseConfidence < 0 || r.BaseConfidence > 1 {
		return goerr.New("base confidence must be within [0, 1]", goerr.T(model.TagInput), goerr.V("value", r.BaseConfidence))
	}
	if r.RepetitionTurns < 2 {
		return goerr.New("repetition turns must be at least 2", goerr.T(model.TagInput), goerr.V("value", r.RepetitionTurns))
	}
	return nil
}

// Clone returns a deep copy of the rule set
func (r *RuleSet) Clone() *RuleSet {
	c := *r
	c.Needs = make([]NeedRule, len(r.Needs))
	for i, rule := range r.Needs {
		rule.Keywords = slices.Clone(rule.Keywords)
		c.Needs[i] = rule
	}
	c.Sentiments = make([]SentimentRule, len(r.Sentiments))
	for i, rule := range r.Sentiments {
		rule.Keywords = slices.Clone(rule.Keywords)
		c.Sentiments[i] = rule
	}
	return &c
}
