package escalation

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// Router turns a decision into a notification for the category's channel
type Router struct {
	cfg    config.Escalation
	intake *Intake
}

func NewRouter(cfg config.Escalation, intake *Intake) *Router {
	return &Router{cfg: cfg, intake: intake}
}

// Link returns the deep link to a conversation
func (x *Router) Link(id model.ConversationID) string {
	return strings.TrimRight(x.cfg.BaseURL, "/") + "/conversations/" + id.String()
}

// Route builds the notification. Urgent decisions add the on-call target
// and the urgent tag.
func (x *Router) Route(id model.ConversationID, state model.ConversationState, decision model.EscalationDecision) *model.Notification {
	category := state.Category
	if category == "" {
		category = types.CategoryGeneral
	}

	n := &model.Notification{
		ConversationID: id,
		Channel:        x.cfg.ChannelFor(category),
		Priority:       decision.Priority,
		Title:          fmt.Sprintf("Escalation: %s inquiry needs a human agent", category),
		Reason:         decision.Reason,
		Link:           x.Link(id),
	}
	if decision.Priority == types.EscalationPriorityUrgent {
		n.Tag = x.cfg.UrgentTag
		if x.cfg.OnCallTarget != "" {
			n.Targets = append(n.Targets, x.cfg.OnCallTarget)
		}
		n.Title = fmt.Sprintf("[%s] %s", x.cfg.UrgentTag, n.Title)
	}

	n.Fields = []model.NotificationField{
		{Name: "category", Value: category.String()},
		{Name: "priority", Value: decision.Priority.String()},
		{Name: "urgency", Value: state.Urgency.String()},
		{Name: "ai_interaction_count", Value: strconv.Itoa(state.AIInteractionCount)},
	}
	for _, name := range x.fieldOrder(category, state.CollectedInfo) {
		n.Fields = append(n.Fields, model.NotificationField{Name: name.String(), Value: state.CollectedInfo[name]})
	}
	return n
}

// fieldOrder lists collected fields with the category's required fields
// first, in priority order, followed by the rest alphabetically.
func (x *Router) fieldOrder(category types.CategoryID, info map[types.FieldName]string) []types.FieldName {
	var ordered []types.FieldName
	if x.intake != nil {
		for _, name := range x.intake.RequiredFields(category) {
			if info[name] != "" {
				ordered = append(ordered, name)
			}
		}
	}

	var rest []types.FieldName
	for name, v := range info {
		if v != "" && !slices.Contains(ordered, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(ordered, rest...)
}
