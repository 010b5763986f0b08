package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func cmdAnalyze() *cli.Command {
	var cfg engineConfig
	var recent int

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "recent",
			Usage:       "Analyze the N most recent conversations instead of the given IDs",
			Destination: &recent,
		},
	}
	flags = append(flags, cfg.Flags()...)

	return &cli.Command{
		Name:      "analyze",
		Aliases:   []string{"a"},
		Usage:     "Analyze needs, inefficiencies and topic clusters of conversations",
		ArgsUsage: "[CONVERSATION_ID...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if recent == 0 && c.NArg() == 0 {
				return goerr.New("conversation IDs or --recent is required", goerr.T(model.TagInput))
			}

			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var report *usecase.BatchReport
			if recent > 0 {
				report, err = uc.Analysis.AnalyzeRecent(ctx, recent)
			} else {
				ids := make([]model.ConversationID, 0, c.NArg())
				for _, arg := range c.Args().Slice() {
					ids = append(ids, model.ConversationID(arg))
				}
				report, err = uc.Analysis.AnalyzeBatch(ctx, ids)
			}
			if err != nil {
				return goerr.Wrap(err, "failed to analyze conversations")
			}

			printBatch(os.Stdout, report)
			return nil
		},
	}
}
