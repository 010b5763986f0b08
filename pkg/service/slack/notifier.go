package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/slack-go/slack"
)

const (
	maxHeaderBytes  = 150
	maxSectionBytes = 3000
	maxFieldBytes   = 2000
	maxFields       = 10
)

// Notifier posts escalation notifications to Slack
type Notifier struct {
	svc Service
}

var _ interfaces.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier backed by svc
func NewNotifier(svc Service) *Notifier {
	return &Notifier{svc: svc}
}

// Send posts the notification to channel. Targets that are channels
// (prefixed with "#") receive a copy of the same message.
func (x *Notifier) Send(ctx context.Context, channel string, n *model.Notification) error {
	if n == nil {
		return goerr.New("notification is nil", goerr.T(model.TagInput))
	}
	if channel == "" {
		channel = n.Channel
	}

	blocks := BuildNotificationBlocks(n)
	text := fallbackText(n)

	destinations := []string{channel}
	for _, target := range n.Targets {
		if strings.HasPrefix(target, "#") && target != channel {
			destinations = append(destinations, target)
		}
	}

	for _, dest := range destinations {
		channelID, err := x.svc.ResolveChannelID(ctx, dest)
		if err != nil {
			return goerr.Wrap(err, "failed to resolve notification channel",
				goerr.V(model.ConversationIDKey, n.ConversationID),
				goerr.V("channel", dest),
				goerr.T(model.TagExternal))
		}
		if _, err := x.svc.PostMessage(ctx, channelID, blocks, text); err != nil {
			return goerr.Wrap(err, "failed to post notification",
				goerr.V(model.ConversationIDKey, n.ConversationID),
				goerr.V("channel", dest),
				goerr.T(model.TagExternal))
		}
	}

	return nil
}

func fallbackText(n *model.Notification) string {
	if n.Tag != "" {
		return fmt.Sprintf("%s %s", n.Tag, n.Title)
	}
	return n.Title
}

// FormatMention converts a notify target to Slack mention syntax. Channel
// targets are returned unchanged.
func FormatMention(target string) string {
	switch {
	case target == "" || strings.HasPrefix(target, "#") || strings.HasPrefix(target, "<"):
		return target
	case strings.HasPrefix(target, "@"):
		return target
	case strings.HasPrefix(target, "S"):
		return fmt.Sprintf("<!subteam^%s>", target)
	case strings.HasPrefix(target, "U"), strings.HasPrefix(target, "W"):
		return fmt.Sprintf("<@%s>", target)
	default:
		return target
	}
}

func priorityEmoji(p types.EscalationPriority) string {
	switch p {
	case types.EscalationPriorityUrgent:
		return ":rotating_light:"
	case types.EscalationPriorityHigh:
		return ":red_circle:"
	case types.EscalationPriorityMedium:
		return ":large_orange_circle:"
	default:
		return ":large_blue_circle:"
	}
}

// BuildNotificationBlocks builds Slack Block Kit blocks for an escalation notification
func BuildNotificationBlocks(n *model.Notification) []slack.Block {
	title := n.Title
	if n.Tag != "" {
		title = n.Tag + " " + title
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, truncateToMaxBytes(title, maxHeaderBytes), false, false),
		),
	}

	if n.Reason != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncateToMaxBytes("*Reason:* "+n.Reason, maxSectionBytes), false, false),
			nil, nil,
		))
	}

	var fields []*slack.TextBlockObject
	for _, f := range n.Fields {
		if len(fields) >= maxFields {
			break
		}
		if f.Value == "" {
			continue
		}
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
			truncateToMaxBytes(fmt.Sprintf("*%s:*\n%s", f.Name, f.Value), maxFieldBytes), false, false))
	}
	if len(fields) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}

	var mentions []string
	for _, target := range n.Targets {
		if m := FormatMention(target); m != "" && !strings.HasPrefix(m, "#") {
			mentions = append(mentions, m)
		}
	}

	contextElems := []slack.MixedElement{
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("%s Priority: *%s*", priorityEmoji(n.Priority), n.Priority), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("Conversation: `%s`", n.ConversationID), false, false),
	}
	if len(mentions) > 0 {
		contextElems = append(contextElems, slack.NewTextBlockObject(slack.MarkdownType,
			"Notify: "+strings.Join(mentions, " "), false, false))
	}
	if n.Link != "" {
		contextElems = append(contextElems, slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("<%s|Open conversation>", n.Link), false, false))
	}
	blocks = append(blocks, slack.NewContextBlock("", contextElems...))

	return blocks
}
