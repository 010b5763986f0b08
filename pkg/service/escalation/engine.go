// Package escalation decides when a conversation is handed to a human agent
// and routes the notification. All state transitions go through Engine.
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/errutil"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

const defaultMaxConflicts = 5

var ErrTooManyConflicts = goerr.New("conversation state kept changing concurrently", goerr.T(model.TagConflict))

// Result is the outcome of one automated turn
type Result struct {
	Decision model.EscalationDecision
	State    model.ConversationState
	// Field and Question are set while information is still being collected
	Field    types.FieldName
	Question string
	// NotifyErr is the delivery failure of this turn, if any. The state then
	// stays ready_to_escalate and the next turn retries delivery.
	NotifyErr error
}

// Engine owns the per-conversation escalation state machine
type Engine struct {
	repo     interfaces.ConversationRepository
	notifier interfaces.Notifier
	intake   *Intake
	rules    Rules
	router   *Router

	locks        *xsync.Map[model.ConversationID, *sync.Mutex]
	maxConflicts int
	now          func() time.Time
}

type Option func(*Engine)

func WithIntake(intake *Intake) Option {
	return func(e *Engine) {
		e.intake = intake
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine
func New(repo interfaces.ConversationRepository, notifier interfaces.Notifier, cfg config.Escalation, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, goerr.New("conversation repository is required", goerr.T(model.TagInput))
	}
	if notifier == nil {
		return nil, goerr.New("notifier is required", goerr.T(model.TagInput))
	}

	e := &Engine{
		repo:         repo,
		notifier:     notifier,
		intake:       NewIntake(),
		locks:        xsync.NewMap[model.ConversationID, *sync.Mutex](),
		maxConflicts: defaultMaxConflicts,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.rules = Rules{
		MaxInteractions:        cfg.MaxInteractions,
		LowConfidenceThreshold: cfg.LowConfidenceThreshold,
		Intake:                 e.intake,
	}
	e.router = NewRouter(cfg, e.intake)
	return e, nil
}

// Intake returns the intake used by the engine
func (e *Engine) Intake() *Intake {
	return e.intake
}

func (e *Engine) lock(id model.ConversationID) func() {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// Forget drops the lock of a finished conversation
func (e *Engine) Forget(id model.ConversationID) {
	e.locks.Delete(id)
}

// Evaluate decides without changing anything
func (e *Engine) Evaluate(state model.ConversationState, in Signals) model.EscalationDecision {
	return e.rules.Decide(state, in)
}

// Advance runs one automated turn: it counts the interaction, merges the
// information found in the customer text, decides and, on escalation,
// notifies the routed channel. Turns of one conversation are serialized in
// process; the stored version guards against writers elsewhere.
func (e *Engine) Advance(ctx context.Context, id model.ConversationID, in Signals) (*Result, error) {
	unlock := e.lock(id)
	defer unlock()

	ctx = logging.With(ctx, logging.From(ctx).With(model.ConversationIDKey, id))

	var (
		state    model.ConversationState
		decision model.EscalationDecision
	)

	updated := false
	for attempt := 0; attempt < e.maxConflicts; attempt++ {
		conv, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get conversation", goerr.V(model.ConversationIDKey, id))
		}

		if conv.State.IsEscalated() {
			return &Result{
				Decision: e.rules.Decide(conv.State, in),
				State:    conv.State,
			}, nil
		}

		next := e.step(conv.State, in)
		decision = e.rules.Decide(next, in)
		if decision.ShouldEscalate {
			next.EscalationRequired = true
			next.Stage = types.StageReadyToEscalate
		}

		stored, err := e.repo.UpdateState(ctx, id, conv.State.Version, next)
		if model.IsConflictError(err) {
			logging.From(ctx).Debug("state version conflict, retry", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to update conversation state", goerr.V(model.ConversationIDKey, id))
		}
		state = *stored
		updated = true
		break
	}
	if !updated {
		return nil, goerr.Wrap(ErrTooManyConflicts, "failed to advance conversation", goerr.V(model.ConversationIDKey, id))
	}

	result := &Result{Decision: decision, State: state}
	if !decision.ShouldEscalate {
		result.Field, result.Question, _ = e.intake.NextQuestion(state)
		return result, nil
	}

	notification := e.router.Route(id, state, decision)
	result.Decision.TargetChannel = notification.Channel
	result.Decision.NotifyTargets = notification.Targets

	if err := e.notifier.Send(ctx, notification.Channel, notification); err != nil {
		result.NotifyErr = goerr.Wrap(err, "failed to send escalation notification",
			goerr.V(model.ConversationIDKey, id), goerr.V("channel", notification.Channel), goerr.T(model.TagExternal))
		errutil.Handle(ctx, result.NotifyErr, "escalation notification failed, will retry on next turn")
		return result, nil
	}

	escalated, err := e.markEscalated(ctx, id)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("conversation escalated",
		"channel", notification.Channel,
		"priority", decision.Priority,
		"reason", decision.Reason,
	)
	result.State = *escalated
	result.Decision.Triggered = true
	result.Decision.Stage = types.StageEscalated
	return result, nil
}

// step applies one automated turn to state
func (e *Engine) step(state model.ConversationState, in Signals) model.ConversationState {
	next := model.ConversationState{
		AIInteractionCount: state.AIInteractionCount + 1,
		Urgency:            in.Urgency,
		EscalationRequired: in.EscalationRequested,
	}

	category := state.Category
	if category == "" || category == types.CategoryGeneral {
		if resolved := e.intake.ResolveCategory(in.Text); resolved != types.CategoryGeneral || category == "" {
			category = resolved
		}
	}
	next.Category = category

	if state.AIInteractionCount > 0 {
		next.CollectedInfo = e.intake.ExtractFollowUp(category, in.Text)
	} else {
		next.CollectedInfo = e.intake.ExtractFields(category, in.Text)
	}
	if next.Urgency == "" {
		next.Urgency = types.UrgencyLow
	}
	return state.Merge(next)
}

func (e *Engine) markEscalated(ctx context.Context, id model.ConversationID) (*model.ConversationState, error) {
	for attempt := 0; attempt < e.maxConflicts; attempt++ {
		conv, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get conversation", goerr.V(model.ConversationIDKey, id))
		}
		if conv.State.IsEscalated() {
			return &conv.State, nil
		}

		next := conv.State.Merge(model.ConversationState{
			EscalationRequired: true,
			EscalatedAt:        e.now().UTC(),
			Stage:              types.StageEscalated,
		})
		stored, err := e.repo.UpdateState(ctx, id, conv.State.Version, next)
		if model.IsConflictError(err) {
			continue
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to mark conversation escalated", goerr.V(model.ConversationIDKey, id))
		}
		return stored, nil
	}
	return nil, goerr.Wrap(ErrTooManyConflicts, "failed to mark conversation escalated", goerr.V(model.ConversationIDKey, id))
}

// LogNotifier writes notifications to the logger. It is used when no chat
// integration is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, channel string, n *model.Notification) error {
	logging.From(ctx).Info("escalation notification",
		"channel", channel,
		"conversation_id", n.ConversationID,
		"priority", n.Priority,
		"tag", n.Tag,
		"targets", n.Targets,
		"reason", n.Reason,
		"link", n.Link,
	)
	return nil
}
