package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/urfave/cli/v3"
)

// Gemini configures the LLM behind embeddings, need analysis and replies
type Gemini struct {
	projectID      string
	location       string
	model          string
	embeddingModel string
}

func (g *Gemini) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini. Local embedding and heuristic analysis are used when unset",
			Sources:     cli.EnvVars("HERMES_GEMINI_PROJECT"),
			Destination: &g.projectID,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("HERMES_GEMINI_LOCATION"),
			Destination: &g.location,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Generation model for replies and need analysis (client default when unset)",
			Sources:     cli.EnvVars("HERMES_GEMINI_MODEL"),
			Destination: &g.model,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Usage:       "Embedding model; its dimension must match the vector indexes",
			Sources:     cli.EnvVars("HERMES_GEMINI_EMBEDDING_MODEL"),
			Destination: &g.embeddingModel,
		},
	}
}

func (g *Gemini) IsConfigured() bool { return g.projectID != "" }

func (g *Gemini) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("project_id", g.projectID),
		slog.String("location", g.location),
		slog.String("model", g.model),
		slog.String("embedding_model", g.embeddingModel),
	}
}

// Configure returns nil without error when no project is configured
func (g *Gemini) Configure(ctx context.Context) (gollem.LLMClient, error) {
	if !g.IsConfigured() {
		return nil, nil
	}

	var opts []gemini.Option
	if g.model != "" {
		opts = append(opts, gemini.WithModel(g.model))
	}
	if g.embeddingModel != "" {
		opts = append(opts, gemini.WithEmbeddingModel(g.embeddingModel))
	}

	client, err := gemini.New(ctx, g.projectID, g.location, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client", goerr.V("project_id", g.projectID))
	}
	return client, nil
}
