package config

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/service/notion"
	"github.com/urfave/cli/v3"
)

// Notion holds CLI flags for the product documentation source
type Notion struct {
	token string
}

// Flags returns CLI flags for Notion configuration
func (x *Notion) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "notion-api-token",
			Usage:       "Notion integration token for product docs import",
			Category:    "Notion",
			Destination: &x.token,
			Sources:     cli.EnvVars("HERMES_NOTION_API_TOKEN"),
		},
	}
}

// Configure returns a Notion service, or nil when no token is configured
func (x *Notion) Configure() (notion.Service, error) {
	if x.token == "" {
		return nil, nil
	}
	svc, err := notion.New(x.token)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Notion service")
	}
	return svc, nil
}
