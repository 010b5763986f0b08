package slack

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/slack-go/slack"
)

const (
	// DefaultCacheTTL is the default TTL for channel ID cache
	DefaultCacheTTL = 10 * time.Minute

	channelCacheSize = 1024
)

// client implements Service interface
type client struct {
	api      *slack.Client
	cacheTTL time.Duration
	apiURL   string

	// channel name to ID
	cache *expirable.LRU[string, string]
}

// Option is a functional option for client configuration
type Option func(*client)

// WithCacheTTL sets the TTL for channel ID cache
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *client) {
		c.cacheTTL = ttl
	}
}

// WithAPIURL points the client at another Slack API endpoint
func WithAPIURL(url string) Option {
	return func(c *client) {
		c.apiURL = url
	}
}

// New creates a new Slack service with the provided bot token
func New(token string, opts ...Option) (Service, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required", goerr.T(model.TagInput))
	}

	c := &client{
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	var apiOpts []slack.Option
	if c.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(c.apiURL))
	}
	c.api = slack.New(token, apiOpts...)
	c.cache = expirable.NewLRU[string, string](channelCacheSize, nil, c.cacheTTL)

	return c, nil
}

// ListJoinedChannels retrieves the list of channels the bot has joined
func (c *client) ListJoinedChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	var cursor string

	for {
		params := &slack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
			Limit:           200,
			Cursor:          cursor,
		}

		convs, nextCursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get conversations", goerr.T(model.TagExternal))
		}

		for _, conv := range convs {
			// Only include channels the bot is a member of
			if conv.IsMember {
				channels = append(channels, Channel{
					ID:   conv.ID,
					Name: conv.Name,
				})
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	return channels, nil
}

// IsChannelID reports whether s looks like a Slack channel ID
func IsChannelID(s string) bool {
	if len(s) < 9 || (s[0] != 'C' && s[0] != 'G') {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// ResolveChannelID maps a channel name to its ID with caching
func (c *client) ResolveChannelID(ctx context.Context, name string) (string, error) {
	if IsChannelID(name) {
		return name, nil
	}
	key := NormalizeChannelName(strings.TrimPrefix(name, "#"))
	if key == "" {
		return "", goerr.New("channel name is empty", goerr.T(model.TagInput))
	}

	if id, ok := c.cache.Get(key); ok {
		return id, nil
	}

	channels, err := c.ListJoinedChannels(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve channel", goerr.V("channel", name))
	}

	resolved := ""
	for _, ch := range channels {
		c.cache.Add(ch.Name, ch.ID)
		if ch.Name == key {
			resolved = ch.ID
		}
	}
	if resolved != "" {
		return resolved, nil
	}
	return "", goerr.New("bot has not joined the channel", goerr.T(model.TagNotFound), goerr.V("channel", name))
}

// PostMessage posts a Block Kit message to a channel
func (c *client) PostMessage(ctx context.Context, channelID string, blocks []slack.Block, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to post Slack message", goerr.V("channelID", channelID), goerr.T(model.TagExternal))
	}
	return ts, nil
}
