package slack

import (
	"context"

	"github.com/slack-go/slack"
)

// Service provides interface to Slack API for escalation delivery
type Service interface {
	// ListJoinedChannels retrieves the list of channels the bot has joined
	ListJoinedChannels(ctx context.Context) ([]Channel, error)

	// ResolveChannelID maps a channel name such as "#tech-support" to its ID
	// (with caching). IDs are returned as is.
	ResolveChannelID(ctx context.Context, name string) (string, error)

	// PostMessage posts a Block Kit message to a channel and returns the message timestamp.
	// The text parameter is used as a fallback for notifications.
	PostMessage(ctx context.Context, channelID string, blocks []slack.Block, text string) (string, error)
}

// Channel represents a Slack channel
type Channel struct {
	ID   string
	Name string
}
