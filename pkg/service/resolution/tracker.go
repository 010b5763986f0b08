// Package resolution records how conversations were resolved and mines the
// recorded paths for the fastest, most reliable and simplest solutions.
package resolution

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

var (
	ErrNoCustomerTurn = goerr.New("conversation has no customer turn", goerr.T(model.TagInput))
	ErrNoPath         = goerr.New("no successful resolution path", goerr.T(model.TagNotFound))
	ErrInvalidWeights = goerr.New("invalid path weights", goerr.T(model.TagInput))
)

const keyStepLength = 200

// Tracker records resolution paths and answers statistics queries
type Tracker struct {
	repo interfaces.ResolutionPathRepository
	now  func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func New(repo interfaces.ResolutionPathRepository, opts ...Option) *Tracker {
	t := &Tracker{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func isAgent(role types.Role) bool {
	return role == types.RoleAssistant || role == types.RoleCompany
}

// Extract derives the resolution path of a finished conversation
func Extract(conv *model.Conversation) (*model.ResolutionPath, error) {
	first := conv.FirstUserMessage()
	if first == nil {
		return nil, goerr.Wrap(ErrNoCustomerTurn, "cannot extract resolution path", goerr.V(model.ConversationIDKey, conv.ID))
	}

	var customerText []string
	for _, msg := range conv.UserMessages() {
		customerText = append(customerText, msg.Content)
	}

	path := &model.ResolutionPath{
		ID:             model.NewResolutionPathID(),
		ConversationID: conv.ID,
		ProblemType:    Classify(strings.Join(customerText, "\n")),
		Problem:        first.Content,
		Solution:       solutionOf(conv),
		ResolutionTime: conv.Duration(),
		Successful:     IsSuccessful(conv),
	}

	for i := 0; i+1 < len(conv.Messages); i++ {
		cur, next := conv.Messages[i], conv.Messages[i+1]
		if cur.Role == types.RoleUser && isAgent(next.Role) {
			path.StepsCount++
		}
		if isAgent(cur.Role) && next.Role == types.RoleUser {
			path.KeySteps = append(path.KeySteps, model.KeyStep{
				Action: textutil.Truncate(cur.Content, keyStepLength),
				Result: textutil.Truncate(next.Content, keyStepLength),
			})
		}
	}
	return path, nil
}

// solutionOf returns the last agent turn preceding the customer's
// acknowledgement, or the last agent turn when there is none.
func solutionOf(conv *model.Conversation) string {
	resolvedAt := len(conv.Messages)
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.Role == types.RoleUser && textutil.ContainsAny(msg.Content, acknowledgementKeywords) {
			resolvedAt = i
			break
		}
	}

	for i := resolvedAt - 1; i >= 0; i-- {
		if isAgent(conv.Messages[i].Role) {
			return conv.Messages[i].Content
		}
	}
	return ""
}

// Record stores a path. A missing ID or creation time is filled in.
func (t *Tracker) Record(ctx context.Context, path *model.ResolutionPath) (*model.ResolutionPath, error) {
	if path.ProblemType == "" {
		return nil, goerr.New("problem type is required", goerr.T(model.TagInput), goerr.V(model.ConversationIDKey, path.ConversationID))
	}
	stored := path.Copy()
	if stored.ID == "" {
		stored.ID = model.NewResolutionPathID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = t.now().UTC()
	}

	created, err := t.repo.Create(ctx, stored)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to record resolution path", goerr.V(model.ConversationIDKey, path.ConversationID))
	}
	return created, nil
}

// Stats aggregates the recorded paths of a problem type
type Stats struct {
	ProblemType           string
	Count                 int
	SuccessCount          int
	SuccessRate           float64
	AverageSteps          float64
	AverageResolutionTime time.Duration
	MostCommonSolution    string
}

// Stats computes statistics for problemType. Averages cover successful
// paths only.
func (t *Tracker) Stats(ctx context.Context, problemType string) (*Stats, error) {
	paths, err := t.repo.ListByProblemType(ctx, problemType)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list resolution paths", goerr.V("problem_type", problemType))
	}

	stats := &Stats{ProblemType: problemType, Count: len(paths)}
	var steps int
	var elapsed time.Duration
	var successful []*model.ResolutionPath
	for _, p := range paths {
		if !p.Successful {
			continue
		}
		stats.SuccessCount++
		steps += p.StepsCount
		elapsed += p.ResolutionTime
		successful = append(successful, p)
	}

	if stats.Count > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.Count)
	}
	if stats.SuccessCount > 0 {
		stats.AverageSteps = float64(steps) / float64(stats.SuccessCount)
		stats.AverageResolutionTime = elapsed / time.Duration(stats.SuccessCount)
	}

	groups := groupSolutions(successful)
	if len(groups) > 0 {
		best := groups[0]
		for _, g := range groups[1:] {
			if len(g.paths) > len(best.paths) {
				best = g
			}
		}
		stats.MostCommonSolution = best.solution
	}
	return stats, nil
}

type solutionGroup struct {
	solution string
	paths    []*model.ResolutionPath
}

// sameSolution treats two solutions as one when their normalized edit
// distance is at most a fifth of the longer text.
func sameSolution(a, b string) bool {
	na, nb := textutil.Normalize(a), textutil.Normalize(b)
	if na == nb {
		return true
	}
	longest := max(len([]rune(na)), len([]rune(nb)))
	if longest == 0 {
		return true
	}
	return float64(levenshtein.ComputeDistance(na, nb)) <= 0.2*float64(longest)
}

// groupSolutions groups paths by near-identical solution text in first-seen order
func groupSolutions(paths []*model.ResolutionPath) []*solutionGroup {
	var groups []*solutionGroup
	for _, p := range paths {
		var found *solutionGroup
		for _, g := range groups {
			if sameSolution(g.solution, p.Solution) {
				found = g
				break
			}
		}
		if found == nil {
			found = &solutionGroup{solution: p.Solution}
			groups = append(groups, found)
		}
		found.paths = append(found.paths, p)
	}
	return groups
}

func successfulPaths(paths []*model.ResolutionPath) []*model.ResolutionPath {
	var out []*model.ResolutionPath
	for _, p := range paths {
		if p.Successful {
			out = append(out, p)
		}
	}
	return out
}

// FindShortestPath returns the successful path with the fewest steps. Ties
// are broken by resolution time, then by recording order.
func (t *Tracker) FindShortestPath(ctx context.Context, problemType string) (*model.ResolutionPath, error) {
	paths, err := t.repo.ListByProblemType(ctx, problemType)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list resolution paths", goerr.V("problem_type", problemType))
	}

	candidates := successfulPaths(paths)
	if len(candidates) == 0 {
		return nil, goerr.Wrap(ErrNoPath, "no path to choose from", goerr.V("problem_type", problemType))
	}

	best := slices.MinFunc(candidates, func(a, b *model.ResolutionPath) int {
		if c := cmp.Compare(a.StepsCount, b.StepsCount); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ResolutionTime, b.ResolutionTime); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return best, nil
}

// Weights balances the criteria of FindOptimalPath
type Weights struct {
	Speed       float64
	Reliability float64
	Simplicity  float64
}

var (
	Balanced     = Weights{Speed: 1, Reliability: 1, Simplicity: 1}
	Fastest      = Weights{Speed: 0.6, Reliability: 0.2, Simplicity: 0.2}
	MostReliable = Weights{Speed: 0.2, Reliability: 0.6, Simplicity: 0.2}
	Simplest     = Weights{Speed: 0.2, Reliability: 0.2, Simplicity: 0.6}
)

// StrategyWeights returns the preset named balanced, fastest, reliable or simplest
func StrategyWeights(name string) (Weights, error) {
	switch strings.ToLower(name) {
	case "", "balanced":
		return Balanced, nil
	case "fastest":
		return Fastest, nil
	case "reliable":
		return MostReliable, nil
	case "simplest":
		return Simplest, nil
	}
	return Weights{}, goerr.Wrap(ErrInvalidWeights, "unknown strategy", goerr.V("strategy", name))
}

func (w Weights) validate() error {
	if w.Speed < 0 || w.Reliability < 0 || w.Simplicity < 0 {
		return goerr.Wrap(ErrInvalidWeights, "weights must not be negative", goerr.V("weights", w))
	}
	if w.Speed+w.Reliability+w.Simplicity == 0 {
		return goerr.Wrap(ErrInvalidWeights, "at least one weight must be positive")
	}
	return nil
}

// ScoredPath is a candidate of FindOptimalPath with its criteria in [0, 1]
type ScoredPath struct {
	Path        *model.ResolutionPath
	Score       float64
	Speed       float64
	Reliability float64
	Simplicity  float64
}

// FindOptimalPath scores successful paths by speed (fastest relative to the
// others), reliability (historical success rate of the same solution) and
// simplicity (fewest steps relative to the others) and returns the best.
func (t *Tracker) FindOptimalPath(ctx context.Context, problemType string, w Weights) (*ScoredPath, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}

	paths, err := t.repo.ListByProblemType(ctx, problemType)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list resolution paths", goerr.V("problem_type", problemType))
	}

	ranked := rankPaths(paths, w)
	if len(ranked) == 0 {
		return nil, goerr.Wrap(ErrNoPath, "no path to choose from", goerr.V("problem_type", problemType))
	}
	return ranked[0], nil
}

func rankPaths(paths []*model.ResolutionPath, w Weights) []*ScoredPath {
	candidates := successfulPaths(paths)
	if len(candidates) == 0 {
		return nil
	}

	minSteps, minTime := candidates[0].StepsCount, candidates[0].ResolutionTime
	for _, p := range candidates[1:] {
		minSteps = min(minSteps, p.StepsCount)
		minTime = min(minTime, p.ResolutionTime)
	}

	groups := groupSolutions(paths)
	reliability := func(p *model.ResolutionPath) float64 {
		for _, g := range groups {
			if !slices.Contains(g.paths, p) {
				continue
			}
			return float64(len(successfulPaths(g.paths))) / float64(len(g.paths))
		}
		return 0
	}

	total := w.Speed + w.Reliability + w.Simplicity
	scored := make([]*ScoredPath, 0, len(candidates))
	for _, p := range candidates {
		s := &ScoredPath{
			Path:        p,
			Speed:       ratio(float64(minTime), float64(p.ResolutionTime)),
			Reliability: reliability(p),
			Simplicity:  ratio(float64(minSteps), float64(p.StepsCount)),
		}
		s.Score = (w.Speed*s.Speed + w.Reliability*s.Reliability + w.Simplicity*s.Simplicity) / total
		scored = append(scored, s)
	}

	slices.SortStableFunc(scored, func(a, b *ScoredPath) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return a.Path.CreatedAt.Compare(b.Path.CreatedAt)
	})
	return scored
}

// ratio returns best/value in [0, 1]; a zero value is the best possible
func ratio(best, value float64) float64 {
	if value <= 0 {
		return 1
	}
	return best / value
}
