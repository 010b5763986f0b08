package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/service/escalation"
	"github.com/secmon-lab/hermes/pkg/service/feedback"
	"github.com/secmon-lab/hermes/pkg/service/rag"
	"github.com/secmon-lab/hermes/pkg/service/resolution"
	"github.com/secmon-lab/hermes/pkg/utils/errutil"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

const (
	// HandoffMessage replaces the automated answer once a human takes over
	HandoffMessage = "担当者におつなぎします。恐れ入りますが、このままお待ちください。"
)

type ConversationUseCase struct {
	repo       interfaces.Repository
	engine     *escalation.Engine
	aggregator *rag.Aggregator
	tracker    *resolution.Tracker
	feedback   *feedback.Loop
	indexer    *indexer
	analysis   *analysisRunner
	now        func() time.Time
}

// Reply is the outcome of one received message
type Reply struct {
	ConversationID model.ConversationID
	// Message is the stored incoming message
	Message *model.Message
	// Answer is the stored automated reply. It is nil for non-customer turns.
	Answer *model.Message

	Text string
	// Field and Question ask for missing information while collecting
	Field           types.FieldName
	Question        string
	Decision        model.EscalationDecision
	References      []rag.Source
	ResolutionSteps []string
	Confidence      float64
	Analysis        model.Analysis
	// NotifyErr is set when the escalation notification could not be delivered
	NotifyErr error
	// IndexErr is set when a message embedding could not be scheduled
	IndexErr error

	indexing []interfaces.JobHandle
}

func (r *Reply) track(handle interfaces.JobHandle, err error) {
	if err != nil {
		r.IndexErr = errors.Join(r.IndexErr, err)
		return
	}
	r.indexing = append(r.indexing, handle)
}

// WaitIndexed blocks until the embeddings of the stored messages are written
// and returns the terminal errors of the embedding jobs together with IndexErr
func (r *Reply) WaitIndexed(ctx context.Context) error {
	errs := []error{r.IndexErr}
	for _, h := range r.indexing {
		errs = append(errs, h.Wait(ctx))
	}
	return errors.Join(errs...)
}

// ReceiveMessage stores a message and, for a customer turn, runs the
// automated pipeline: analysis, retrieval, response generation and the
// escalation state machine. Unknown conversations are created on their first
// message.
func (uc *ConversationUseCase) ReceiveMessage(ctx context.Context, id model.ConversationID, role types.Role, content string) (*Reply, error) {
	if id == "" {
		return nil, goerr.New("conversation ID is required", goerr.T(model.TagInput))
	}
	if !role.IsValid() {
		return nil, goerr.Wrap(ErrInvalidRole, "cannot receive message", goerr.V("role", role))
	}
	if textutil.IsBlank(content) {
		return nil, goerr.Wrap(ErrEmptyMessage, "cannot receive message", goerr.V(model.ConversationIDKey, id))
	}

	ctx = logging.With(ctx, logging.From(ctx).With(model.ConversationIDKey, id))

	if _, err := uc.open(ctx, id); err != nil {
		return nil, err
	}

	msg, err := uc.repo.Conversation().AppendMessage(ctx, id, &model.Message{
		Role:      role,
		Content:   content,
		CreatedAt: uc.now().UTC(),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store message", goerr.V(model.ConversationIDKey, id))
	}
	reply := &Reply{ConversationID: id, Message: msg}
	reply.track(uc.indexer.scheduleMessage(ctx, msg))
	if !role.IsCustomer() {
		return reply, nil
	}

	conv, err := uc.repo.Conversation().Get(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V(model.ConversationIDKey, id))
	}

	reply.Analysis = uc.analysis.run(ctx, conv, "analyze:"+id.String()+":"+msg.ID.String())

	resp := uc.aggregator.GenerateResponse(ctx, conv, content)
	reply.References = resp.References
	reply.ResolutionSteps = resp.ResolutionSteps
	reply.Confidence = resp.Confidence

	result, err := uc.engine.Advance(ctx, id, escalation.Signals{
		Text:                content,
		Urgency:             reply.Analysis.Urgency,
		EscalationRequested: reply.Analysis.EscalationRequired,
		RetrievalConfidence: resp.Confidence,
		HasRetrieval:        !resp.Fallback,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to advance escalation", goerr.V(model.ConversationIDKey, id))
	}
	reply.Decision = result.Decision
	reply.NotifyErr = result.NotifyErr

	answer := resp.Text
	if result.Decision.ShouldEscalate {
		answer = HandoffMessage
	} else if result.Question != "" {
		reply.Field = result.Field
		reply.Question = result.Question
		answer = answer + "\n\n" + result.Question
	}
	reply.Text = answer

	stored, err := uc.repo.Conversation().AppendMessage(ctx, id, &model.Message{
		Role:      types.RoleAssistant,
		Content:   answer,
		CreatedAt: uc.now().UTC(),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store reply", goerr.V(model.ConversationIDKey, id))
	}
	reply.Answer = stored
	reply.track(uc.indexer.scheduleMessage(ctx, stored))

	return reply, nil
}

// open returns the conversation, creating it when it does not exist yet
func (uc *ConversationUseCase) open(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	conv, err := uc.repo.Conversation().Get(ctx, id)
	if model.IsNotFoundError(err) {
		conv, err = uc.repo.Conversation().Create(ctx, &model.Conversation{
			ID:        id,
			State:     model.NewConversationState(),
			Status:    types.ConversationStatusOpen,
			CreatedAt: uc.now().UTC(),
		})
		if model.IsConflictError(err) {
			// created concurrently by another turn
			conv, err = uc.repo.Conversation().Get(ctx, id)
		}
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open conversation", goerr.V(model.ConversationIDKey, id))
	}
	if conv.Status == types.ConversationStatusClosed {
		return nil, goerr.Wrap(ErrConversationClosed, "cannot receive message", goerr.V(model.ConversationIDKey, id))
	}
	return conv, nil
}

// CloseResult is the outcome of closing a conversation
type CloseResult struct {
	Conversation *model.Conversation
	// Path is nil when the conversation had no customer turn
	Path         *model.ResolutionPath
	Evaluation   *feedback.Evaluation
	Pattern      *model.KnowledgeEntry
	Inefficiency *resolution.Inefficiency
}

// CloseConversation closes a conversation, records and indexes its resolution
// path and feeds it to the success pattern loop
func (uc *ConversationUseCase) CloseConversation(ctx context.Context, id model.ConversationID) (*CloseResult, error) {
	ctx = logging.With(ctx, logging.From(ctx).With(model.ConversationIDKey, id))
	logger := logging.From(ctx)

	conv, err := uc.repo.Conversation().Get(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V(model.ConversationIDKey, id))
	}
	if conv.Status == types.ConversationStatusClosed {
		return nil, goerr.Wrap(ErrConversationClosed, "cannot close conversation", goerr.V(model.ConversationIDKey, id))
	}

	closed, err := uc.repo.Conversation().MarkClosed(ctx, id, uc.now().UTC())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to close conversation", goerr.V(model.ConversationIDKey, id))
	}
	defer uc.engine.Forget(id)

	result := &CloseResult{
		Conversation: closed,
		Inefficiency: resolution.DetectInefficiencies(closed),
	}

	path, err := resolution.Extract(closed)
	switch {
	case errors.Is(err, resolution.ErrNoCustomerTurn):
		logger.Info("conversation has no customer turn, no resolution path recorded")
		return result, nil
	case err != nil:
		return nil, goerr.Wrap(err, "failed to extract resolution path", goerr.V(model.ConversationIDKey, id))
	}

	recorded, err := uc.tracker.Record(ctx, path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to record resolution path", goerr.V(model.ConversationIDKey, id))
	}
	result.Path = recorded

	if err := uc.indexer.indexPath(ctx, recorded); err != nil {
		errutil.Handle(ctx, err, "resolution path recorded but not indexed")
	}

	saved, err := uc.feedback.Save(ctx, closed)
	switch {
	case errors.Is(err, feedback.ErrDuplicatePattern):
		logger.Info("success pattern already saved")
		result.Evaluation = feedback.Evaluate(closed)
	case err != nil:
		errutil.Handle(ctx, err, "failed to save success pattern")
		result.Evaluation = feedback.Evaluate(closed)
	default:
		result.Evaluation = saved.Evaluation
		result.Pattern = saved.Entry
	}

	logger.Info("conversation closed",
		"problem_type", recorded.ProblemType,
		"successful", recorded.Successful,
		"score", result.Evaluation.Score,
	)
	return result, nil
}
