package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/usecase"
	"github.com/secmon-lab/hermes/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

const gcsScheme = "gs://"

// readSeedSource reads a seed file from a local path or gs://bucket/object
func readSeedSource(ctx context.Context, src string) ([]byte, error) {
	if !strings.HasPrefix(src, gcsScheme) {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read seed file", goerr.V("path", src))
		}
		return data, nil
	}

	bucket, object, err := parseGCSPath(src)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.T(model.TagExternal))
	}
	defer safe.Close(ctx, client)

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open seed object",
			goerr.V("bucket", bucket), goerr.V("object", object), goerr.T(model.TagExternal))
	}
	defer safe.Close(ctx, r)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read seed object",
			goerr.V("bucket", bucket), goerr.V("object", object), goerr.T(model.TagExternal))
	}
	return data, nil
}

func parseGCSPath(src string) (string, string, error) {
	bucket, object, ok := strings.Cut(strings.TrimPrefix(src, gcsScheme), "/")
	if !ok || bucket == "" || object == "" {
		return "", "", goerr.New("GCS path must be gs://bucket/object", goerr.V("path", src), goerr.T(model.TagInput))
	}
	return bucket, object, nil
}

func cmdSeed() *cli.Command {
	var cfg engineConfig

	return &cli.Command{
		Name:      "seed",
		Usage:     "Load FAQ, case study and product entries from TOML seed files",
		ArgsUsage: "PATH_OR_GCS_URL...",
		Flags:     cfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() == 0 {
				return goerr.New("at least one seed file is required", goerr.T(model.TagInput))
			}

			var entries []*model.KnowledgeEntry
			for _, src := range c.Args().Slice() {
				data, err := readSeedSource(ctx, src)
				if err != nil {
					return err
				}
				parsed, err := usecase.ParseSeed(data)
				if err != nil {
					return goerr.Wrap(err, "invalid seed file", goerr.V("source", src))
				}
				entries = append(entries, parsed...)
			}

			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := uc.Knowledge.SeedKnowledge(ctx, entries)
			if err != nil {
				return goerr.Wrap(err, "failed to seed knowledge")
			}
			successColor.Fprintf(os.Stdout, "created %d, skipped %d\n", len(result.Created), len(result.Skipped))
			return nil
		},
	}
}

func cmdImport() *cli.Command {
	var cfg engineConfig
	var databaseID string
	var since time.Duration

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "notion-database-id",
			Usage:       "Notion database holding product documentation",
			Required:    true,
			Sources:     cli.EnvVars("HERMES_NOTION_DATABASE_ID"),
			Destination: &databaseID,
		},
		&cli.DurationFlag{
			Name:        "since",
			Usage:       "Only import pages edited within this duration (0 imports all)",
			Destination: &since,
		},
	}
	flags = append(flags, cfg.Flags()...)

	return &cli.Command{
		Name:  "import",
		Usage: "Import product documentation from Notion",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}

			result, err := uc.Knowledge.ImportProductDocs(ctx, databaseID, from)
			if err != nil {
				return goerr.Wrap(err, "failed to import product docs")
			}
			successColor.Fprintf(os.Stdout, "pages %d, imported %d, skipped %d\n", result.Pages, result.Imported, result.Skipped)
			if result.Failed > 0 {
				warnColor.Fprintf(os.Stdout, "failed %d\n", result.Failed)
			}
			return nil
		},
	}
}

func cmdPatterns() *cli.Command {
	var cfg engineConfig
	var limit int

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of patterns to list",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, cfg.Flags()...)

	return &cli.Command{
		Name:  "patterns",
		Usage: "List saved success patterns, best first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			patterns, err := uc.Knowledge.SuccessPatterns(ctx, limit)
			if err != nil {
				return goerr.Wrap(err, "failed to list success patterns")
			}
			for _, p := range patterns {
				headerColor.Fprintf(os.Stdout, "%s (score %d)\n", p.ID, p.SuccessScore)
				fmt.Fprintf(os.Stdout, "  %s\n", p.Title())
			}
			return nil
		},
	}
}

func cmdSearch() *cli.Command {
	var cfg engineConfig

	return &cli.Command{
		Name:      "search",
		Usage:     "Show the ranked context retrieved for a query",
		ArgsUsage: "QUERY",
		Flags:     cfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return goerr.New("query is required", goerr.T(model.TagInput))
			}

			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := uc.Knowledge.Search(ctx, query)
			if err != nil {
				return goerr.Wrap(err, "failed to search knowledge")
			}

			headerColor.Fprintf(os.Stdout, "confidence %.2f\n", result.Confidence)
			if result.Lexical {
				warnColor.Fprintln(os.Stdout, "query embedding failed, lexical scores only")
			}
			for _, item := range result.RankedInformation {
				fmt.Fprintf(os.Stdout, "%2d. [%s] %s (score %.2f)\n", item.Rank, item.Kind, item.Title, item.Score)
			}
			return nil
		},
	}
}
