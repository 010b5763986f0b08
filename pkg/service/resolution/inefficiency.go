package resolution

import (
	"fmt"
	"math"

	"github.com/agnivade/levenshtein"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
	"github.com/secmon-lab/hermes/pkg/utils/textutil"
)

// Loop is a topic the customer returned to after the conversation moved on
type Loop struct {
	Topic       string
	FirstIndex  int
	ReturnIndex int
}

// Inefficiency summarizes wasted exchanges of a conversation
type Inefficiency struct {
	Loops              []Loop
	RepeatedQuestions  int
	WastedInteractions int
	// EfficiencyLoss is the share of exchanges that were wasted, in [0, 1]
	EfficiencyLoss float64
	Suggestions    []string
}

// DetectInefficiencies finds topic loops (A, then B, then A again) in the
// customer turns and agent turns that repeat an earlier agent turn.
func DetectInefficiencies(conv *model.Conversation) *Inefficiency {
	result := &Inefficiency{}

	// topic of each customer turn, general turns do not change the topic
	lastSeen := map[string]int{}
	current := ""
	for i, msg := range conv.Messages {
		if msg.Role != types.RoleUser {
			continue
		}
		topic := Classify(msg.Content)
		if topic == ProblemGeneral || topic == current {
			continue
		}
		if first, ok := lastSeen[topic]; ok {
			result.Loops = append(result.Loops, Loop{Topic: topic, FirstIndex: first, ReturnIndex: i})
		} else {
			lastSeen[topic] = i
		}
		current = topic
	}

	var agentTurns []string
	for _, msg := range conv.Messages {
		if !isAgent(msg.Role) {
			continue
		}
		text := textutil.Normalize(msg.Content)
		for _, prev := range agentTurns {
			if nearDuplicate(prev, text) {
				result.RepeatedQuestions++
				break
			}
		}
		agentTurns = append(agentTurns, text)
	}

	exchanges := 0
	for i := 0; i+1 < len(conv.Messages); i++ {
		if conv.Messages[i].Role == types.RoleUser && isAgent(conv.Messages[i+1].Role) {
			exchanges++
		}
	}

	result.WastedInteractions = len(result.Loops) + result.RepeatedQuestions
	if exchanges > 0 {
		result.EfficiencyLoss = math.Min(1, float64(result.WastedInteractions)/float64(exchanges))
	}

	seenTopic := map[string]bool{}
	for _, loop := range result.Loops {
		if seenTopic[loop.Topic] {
			continue
		}
		seenTopic[loop.Topic] = true
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("Resolve the %s topic in one pass instead of returning to it later", loop.Topic))
	}
	if result.RepeatedQuestions > 0 {
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("Reuse collected information instead of repeating %d earlier answer(s) or question(s)", result.RepeatedQuestions))
	}
	if exchanges > 6 && result.WastedInteractions > 0 {
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("Ask for all required details up front; this conversation took %d exchanges", exchanges))
	}
	return result
}

func nearDuplicate(a, b string) bool {
	if a == b {
		return a != ""
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest < 8 {
		return false
	}
	return float64(levenshtein.ComputeDistance(a, b)) <= 0.15*float64(longest)
}
