package config_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

func TestDefaultEngine_Validate(t *testing.T) {
	gt.NoError(t, config.DefaultEngine().Validate())
}

func TestEngine_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *config.Engine)
	}{
		{"zero max interactions", func(e *config.Engine) { e.Escalation.MaxInteractions = 0 }},
		{"missing default channel", func(e *config.Engine) { e.Escalation.DefaultChannel = "" }},
		{"invalid channel category", func(e *config.Engine) { e.Escalation.Channels["Bad Category"] = "#x" }},
		{"relevance floor above 1", func(e *config.Engine) { e.Retrieval.RelevanceFloor = 1.5 }},
		{"adaptive floor above relevance floor", func(e *config.Engine) { e.Retrieval.AdaptiveFloor = 0.9 }},
		{"cap above 20", func(e *config.Engine) { e.Retrieval.MaxItems = 21 }},
		{"timeout above 3s", func(e *config.Engine) { e.Retrieval.Timeout = 4 * time.Second }},
		{"both weights zero", func(e *config.Engine) { e.Retrieval.SimilarityWeight, e.Retrieval.QualityWeight = 0, 0 }},
		{"feedback threshold above 100", func(e *config.Engine) { e.Feedback.Threshold = 101 }},
		{"no workers", func(e *config.Engine) { e.Worker.Workers = 0 }},
		{"max interval below initial", func(e *config.Engine) { e.Worker.MaxInterval = time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := config.DefaultEngine()
			tt.mutate(e)
			gt.Value(t, e.Validate()).NotNil()
		})
	}
}

func TestEscalation_ChannelFor(t *testing.T) {
	e := config.DefaultEngine().Escalation
	gt.Value(t, e.ChannelFor(types.CategoryMarketing)).Equal("#marketing")
	gt.Value(t, e.ChannelFor(types.CategoryTech)).Equal("#tech-support")
	gt.Value(t, e.ChannelFor(types.CategoryGeneral)).Equal("#general-support")
	gt.Value(t, e.ChannelFor("billing")).Equal("#general-support")
}
