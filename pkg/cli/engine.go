package cli

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/cli/config"
	"github.com/secmon-lab/hermes/pkg/service/completion"
	"github.com/secmon-lab/hermes/pkg/service/embedding"
	"github.com/secmon-lab/hermes/pkg/service/needs"
	"github.com/secmon-lab/hermes/pkg/usecase"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
	"github.com/secmon-lab/hermes/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

// engineConfig groups the flags every engine backed command shares
type engineConfig struct {
	engine config.Engine
	repo   config.Repository
	gemini config.Gemini
	slack  config.Slack
	notion config.Notion
}

func (x *engineConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, x.engine.Flags()...)
	flags = append(flags, x.repo.Flags()...)
	flags = append(flags, x.gemini.Flags()...)
	flags = append(flags, x.slack.Flags()...)
	flags = append(flags, x.notion.Flags()...)
	return flags
}

// build wires the repository and collaborators into the use cases. The
// returned function releases them.
func (x *engineConfig) build(ctx context.Context) (*usecase.UseCases, func(), error) {
	engineCfg, rules, err := x.engine.Configure()
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load engine configuration")
	}

	opts := []usecase.Option{
		usecase.WithConfig(engineCfg),
		usecase.WithRuleSet(rules),
	}

	llm, err := x.gemini.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure Gemini")
	}
	if llm != nil {
		embedder, err := embedding.New(llm)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create embedding client")
		}
		completer, err := completion.New(llm)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create completion client")
		}
		analyzer, err := needs.NewLLMAnalyzer(llm)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create LLM analyzer")
		}
		opts = append(opts,
			usecase.WithEmbedder(embedder),
			usecase.WithCompleter(completer),
			usecase.WithAnalyzer(analyzer),
		)
		logging.Default().LogAttrs(ctx, slog.LevelInfo, "Gemini enabled", x.gemini.LogAttrs()...)
	} else {
		logging.Default().Info("Gemini not configured, using local embedder and rule based analysis")
	}

	notifier, err := x.slack.Configure()
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure Slack")
	}
	if notifier != nil {
		opts = append(opts, usecase.WithNotifier(notifier))
		logging.Default().Info("Slack notifications enabled")
	}

	notionSvc, err := x.notion.Configure()
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure Notion")
	}
	if notionSvc != nil {
		opts = append(opts, usecase.WithNotion(notionSvc))
	}

	repo, err := x.repo.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to initialize repository")
	}

	uc, err := usecase.New(repo, opts...)
	if err != nil {
		safe.Close(ctx, repo)
		return nil, nil, goerr.Wrap(err, "failed to initialize use cases")
	}

	return uc, func() {
		uc.Close()
		safe.Close(ctx, repo)
	}, nil
}
