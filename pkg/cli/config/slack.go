package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/service/slack"
	"github.com/urfave/cli/v3"
)

// Slack holds CLI flags for escalation notifications
type Slack struct {
	botToken string
}

// Flags returns CLI flags for Slack configuration
func (x *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack Bot User OAuth Token for escalation notifications",
			Category:    "Slack",
			Destination: &x.botToken,
			Sources:     cli.EnvVars("HERMES_SLACK_BOT_TOKEN"),
		},
	}
}

// IsConfigured returns true if a bot token is set
func (x *Slack) IsConfigured() bool {
	return x.botToken != ""
}

// LogAttrs returns log attributes for the Slack configuration
func (x *Slack) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Bool("configured", x.IsConfigured()),
	}
}

// Configure returns a Slack notifier, or nil when no token is configured
func (x *Slack) Configure() (interfaces.Notifier, error) {
	if !x.IsConfigured() {
		return nil, nil
	}

	svc, err := slack.New(x.botToken)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Slack service")
	}
	return slack.NewNotifier(svc), nil
}
