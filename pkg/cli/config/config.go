package config

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	domainConfig "github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/needs"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// ErrConfigNotFound is returned when a configured file does not exist
var ErrConfigNotFound = goerr.New("configuration file not found", goerr.T(model.TagInput))

// Engine holds CLI flags for the engine configuration and rule set files
type Engine struct {
	configPath string
	rulesPath  string
}

// Flags returns CLI flags for engine configuration
func (x *Engine) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the engine configuration TOML file",
			Sources:     cli.EnvVars("HERMES_CONFIG"),
			Destination: &x.configPath,
		},
		&cli.StringFlag{
			Name:        "rules",
			Usage:       "Path to a need and sentiment rule set TOML file",
			Sources:     cli.EnvVars("HERMES_RULES"),
			Destination: &x.rulesPath,
		},
	}
}

// Configure loads the engine configuration and rule set. Defaults are used
// for whatever is not configured.
func (x *Engine) Configure() (*domainConfig.Engine, *needs.RuleSet, error) {
	cfg := domainConfig.DefaultEngine()
	if x.configPath != "" {
		loaded, err := LoadEngine(x.configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
		logging.Default().Info("Loaded engine configuration", "path", x.configPath)
	}

	rules := needs.DefaultRuleSet()
	if x.rulesPath != "" {
		loaded, err := needs.LoadRuleSet(x.rulesPath)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to load rule set", goerr.V("path", x.rulesPath))
		}
		rules = loaded
		logging.Default().Info("Loaded rule set", "path", x.rulesPath, "version", rules.Version)
	}

	return cfg, rules, nil
}

type engineFile struct {
	Escalation *escalationFile `toml:"escalation"`
	Retrieval  *retrievalFile  `toml:"retrieval"`
	Feedback   *feedbackFile   `toml:"feedback"`
	Similarity *similarityFile `toml:"similarity"`
	Worker     *workerFile     `toml:"worker"`
}

type escalationFile struct {
	MaxInteractions        *int              `toml:"max_interactions"`
	LowConfidenceThreshold *float64          `toml:"low_confidence_threshold"`
	Channels               map[string]string `toml:"channels"`
	DefaultChannel         *string           `toml:"default_channel"`
	OnCallTarget           *string           `toml:"oncall_target"`
	UrgentTag              *string           `toml:"urgent_tag"`
	BaseURL                *string           `toml:"base_url"`
}

type retrievalFile struct {
	RelevanceFloor   *float64 `toml:"relevance_floor"`
	AdaptiveFloor    *float64 `toml:"adaptive_floor"`
	MaxItems         *int     `toml:"max_items"`
	Timeout          *string  `toml:"timeout"`
	CacheTTL         *string  `toml:"cache_ttl"`
	CacheSize        *int     `toml:"cache_size"`
	SimilarityWeight *float64 `toml:"similarity_weight"`
	QualityWeight    *float64 `toml:"quality_weight"`
}

type feedbackFile struct {
	Threshold *int `toml:"threshold"`
}

type similarityFile struct {
	AnomalyThreshold *float64 `toml:"anomaly_threshold"`
	AnomalyNeighbors *int     `toml:"anomaly_neighbors"`
}

type workerFile struct {
	Workers         *int    `toml:"workers"`
	QueueSize       *int    `toml:"queue_size"`
	MaxAttempts     *int    `toml:"max_attempts"`
	InitialInterval *string `toml:"initial_interval"`
	MaxInterval     *string `toml:"max_interval"`
}

// LoadEngine reads an engine configuration TOML file
func LoadEngine(path string) (*domainConfig.Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrConfigNotFound, "engine configuration", goerr.V("path", path))
		}
		return nil, goerr.Wrap(err, "failed to read engine configuration", goerr.V("path", path))
	}

	cfg, err := ParseEngine(data)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid engine configuration", goerr.V("path", path))
	}
	return cfg, nil
}

// ParseEngine overlays TOML values on the default configuration and validates
// the result. Durations are Go duration strings such as "3s".
func ParseEngine(data []byte) (*domainConfig.Engine, error) {
	var f engineFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, goerr.Wrap(err, "failed to parse engine configuration", goerr.T(model.TagParse))
	}

	cfg := domainConfig.DefaultEngine()

	if e := f.Escalation; e != nil {
		set(&cfg.Escalation.MaxInteractions, e.MaxInteractions)
		set(&cfg.Escalation.LowConfidenceThreshold, e.LowConfidenceThreshold)
		set(&cfg.Escalation.DefaultChannel, e.DefaultChannel)
		set(&cfg.Escalation.OnCallTarget, e.OnCallTarget)
		set(&cfg.Escalation.UrgentTag, e.UrgentTag)
		set(&cfg.Escalation.BaseURL, e.BaseURL)
		if e.Channels != nil {
			cfg.Escalation.Channels = make(map[types.CategoryID]string, len(e.Channels))
			for id, ch := range e.Channels {
				cfg.Escalation.Channels[types.CategoryID(id)] = ch
			}
		}
	}

	if r := f.Retrieval; r != nil {
		set(&cfg.Retrieval.RelevanceFloor, r.RelevanceFloor)
		set(&cfg.Retrieval.AdaptiveFloor, r.AdaptiveFloor)
		set(&cfg.Retrieval.MaxItems, r.MaxItems)
		set(&cfg.Retrieval.CacheSize, r.CacheSize)
		set(&cfg.Retrieval.SimilarityWeight, r.SimilarityWeight)
		set(&cfg.Retrieval.QualityWeight, r.QualityWeight)
		if err := setDuration(&cfg.Retrieval.Timeout, r.Timeout, "retrieval.timeout"); err != nil {
			return nil, err
		}
		if err := setDuration(&cfg.Retrieval.CacheTTL, r.CacheTTL, "retrieval.cache_ttl"); err != nil {
			return nil, err
		}
	}

	if fb := f.Feedback; fb != nil {
		set(&cfg.Feedback.Threshold, fb.Threshold)
	}

	if s := f.Similarity; s != nil {
		set(&cfg.Similarity.AnomalyThreshold, s.AnomalyThreshold)
		set(&cfg.Similarity.AnomalyNeighbors, s.AnomalyNeighbors)
	}

	if w := f.Worker; w != nil {
		set(&cfg.Worker.Workers, w.Workers)
		set(&cfg.Worker.QueueSize, w.QueueSize)
		set(&cfg.Worker.MaxAttempts, w.MaxAttempts)
		if err := setDuration(&cfg.Worker.InitialInterval, w.InitialInterval, "worker.initial_interval"); err != nil {
			return nil, err
		}
		if err := setDuration(&cfg.Worker.MaxInterval, w.MaxInterval, "worker.max_interval"); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "engine configuration validation failed", goerr.T(model.TagInput))
	}
	return cfg, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return goerr.Wrap(err, "invalid duration", goerr.V("key", key), goerr.V("value", *src), goerr.T(model.TagParse))
	}
	*dst = d
	return nil
}
