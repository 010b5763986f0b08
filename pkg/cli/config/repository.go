package config

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/repository/firestore"
	"github.com/secmon-lab/hermes/pkg/repository/memory"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Repository struct {
	backend    string
	projectID  string
	databaseID string
	prefix     string
}

func (r *Repository) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repository-backend",
			Usage:       "Repository backend type (firestore or memory)",
			Value:       "firestore",
			Sources:     cli.EnvVars("HERMES_REPOSITORY_BACKEND"),
			Destination: &r.backend,
		},
		&cli.StringFlag{
			Name:        "firestore-project-id",
			Usage:       "Firestore Project ID (required when using firestore backend)",
			Sources:     cli.EnvVars("HERMES_FIRESTORE_PROJECT_ID"),
			Destination: &r.projectID,
		},
		&cli.StringFlag{
			Name:        "firestore-database-id",
			Usage:       "Firestore Database ID",
			Sources:     cli.EnvVars("HERMES_FIRESTORE_DATABASE_ID"),
			Destination: &r.databaseID,
		},
		&cli.StringFlag{
			Name:        "firestore-collection-prefix",
			Usage:       "Prefix for Firestore collection names",
			Sources:     cli.EnvVars("HERMES_FIRESTORE_COLLECTION_PREFIX"),
			Destination: &r.prefix,
		},
	}
}

// Configure opens the configured backend. The caller closes it.
func (r *Repository) Configure(ctx context.Context) (interfaces.Repository, error) {
	switch r.backend {
	case "firestore":
		if r.projectID == "" {
			return nil, goerr.New("firestore-project-id is required when using firestore backend", goerr.T(model.TagInput))
		}
		var opts []firestore.Option
		if r.prefix != "" {
			opts = append(opts, firestore.WithCollectionPrefix(r.prefix))
		}
		repo, err := firestore.New(ctx, r.projectID, r.databaseID, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize firestore repository")
		}
		logging.Default().Info("Using Firestore repository",
			"project_id", r.projectID,
			"database_id", r.databaseID,
			"collection_prefix", r.prefix,
		)
		return repo, nil

	case "memory":
		logging.Default().Info("Using in-memory repository, conversations are lost on exit")
		return memory.New(), nil

	default:
		return nil, goerr.New("invalid repository backend", goerr.V("backend", r.backend), goerr.T(model.TagInput))
	}
}
