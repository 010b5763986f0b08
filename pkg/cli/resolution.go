package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/service/resolution"
	"github.com/urfave/cli/v3"
)

func cmdPaths() *cli.Command {
	var cfg engineConfig
	var strategy string

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "strategy",
			Usage:       "Optimal path weighting (balanced, fastest, reliable, simplest)",
			Value:       "balanced",
			Destination: &strategy,
		},
	}
	flags = append(flags, cfg.Flags()...)

	return &cli.Command{
		Name:      "paths",
		Usage:     "Show recorded resolution statistics and the best path of a problem type",
		ArgsUsage: "PROBLEM_TYPE",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			weights, err := resolution.StrategyWeights(strategy)
			if err != nil {
				return err
			}

			uc, cleanup, err := cfg.build(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := uc.Resolution.Report(ctx, c.Args().First(), weights)
			if err != nil {
				return goerr.Wrap(err, "failed to report resolution paths")
			}

			s := report.Stats
			headerColor.Fprintf(os.Stdout, "%s: %d recorded, %d successful (%.0f%%)\n",
				s.ProblemType, s.Count, s.SuccessCount, s.SuccessRate*100)
			if report.Shortest == nil {
				dimColor.Fprintln(os.Stdout, "no successful path recorded")
				return nil
			}
			fmt.Fprintf(os.Stdout, "  average steps %.1f, average time %s\n", s.AverageSteps, s.AverageResolutionTime)
			fmt.Fprintf(os.Stdout, "  most common solution: %s\n", s.MostCommonSolution)
			fmt.Fprintf(os.Stdout, "  shortest: %s (%d steps)\n", report.Shortest.ConversationID, report.Shortest.StepsCount)

			o := report.Optimal
			successColor.Fprintf(os.Stdout, "  optimal (%s): %s score %.2f\n", strategy, o.Path.ConversationID, o.Score)
			for i, step := range o.Path.KeySteps {
				fmt.Fprintf(os.Stdout, "    %d. %s\n", i+1, step.Action)
			}
			return nil
		},
	}
}

type procedureFile struct {
	Steps []procedureStep `toml:"step"`
}

type procedureStep struct {
	ID        string   `toml:"id"`
	Action    string   `toml:"action"`
	Duration  string   `toml:"duration"`
	DependsOn []string `toml:"depends_on"`
	Optional  bool     `toml:"optional"`
}

func loadProcedure(path string) ([]resolution.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read procedure", goerr.V("path", path))
	}

	var f procedureFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, goerr.Wrap(err, "failed to parse procedure", goerr.V("path", path), goerr.T(model.TagParse))
	}

	steps := make([]resolution.Step, 0, len(f.Steps))
	for i, s := range f.Steps {
		var d time.Duration
		if s.Duration != "" {
			d, err = time.ParseDuration(s.Duration)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid step duration",
					goerr.V(model.IndexKey, i), goerr.V("duration", s.Duration), goerr.T(model.TagParse))
			}
		}
		steps = append(steps, resolution.Step{
			ID:        s.ID,
			Action:    s.Action,
			Duration:  d,
			DependsOn: s.DependsOn,
			Optional:  s.Optional,
		})
	}
	return steps, nil
}

func cmdOptimize() *cli.Command {
	return &cli.Command{
		Name:      "optimize",
		Usage:     "Remove redundant steps of a resolution procedure and group the rest for parallel work",
		ArgsUsage: "PROCEDURE.toml",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return goerr.New("exactly one procedure file is required", goerr.T(model.TagInput))
			}
			steps, err := loadProcedure(c.Args().First())
			if err != nil {
				return err
			}

			opt, err := resolution.OptimizePath(steps)
			if err != nil {
				return goerr.Wrap(err, "failed to optimize procedure")
			}

			for i, group := range opt.Groups {
				fmt.Fprintf(os.Stdout, "%d. %s\n", i+1, strings.Join(group, " | "))
			}
			for _, r := range opt.Rationale {
				dimColor.Fprintf(os.Stdout, "  %s\n", r)
			}
			successColor.Fprintf(os.Stdout, "%s -> %s (%.0f%% shorter)\n",
				opt.OriginalDuration, opt.OptimizedDuration, opt.ReductionRatio*100)
			return nil
		},
	}
}
