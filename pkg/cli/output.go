package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/usecase"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	warnColor    = color.New(color.FgYellow)
	alertColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
	dimColor     = color.New(color.Faint)
)

func printReply(w io.Writer, reply *usecase.Reply) {
	fmt.Fprintln(w, reply.Text)

	d := reply.Decision
	switch {
	case d.Triggered:
		alertColor.Fprintf(w, "[escalated] priority=%s channel=%s reason=%q\n", d.Priority, d.TargetChannel, d.Reason)
	case d.ShouldEscalate:
		warnColor.Fprintf(w, "[escalated] waiting for %s\n", d.TargetChannel)
	}
	if reply.NotifyErr != nil {
		alertColor.Fprintf(w, "[notify failed] %v\n", reply.NotifyErr)
	}

	var refs []string
	for _, r := range reply.References {
		refs = append(refs, string(r))
	}
	dimColor.Fprintf(w, "stage=%s confidence=%.2f sources=%s\n",
		d.Stage, reply.Confidence, strings.Join(refs, ","))
}

func printAnalysis(w io.Writer, a model.Analysis) {
	fmt.Fprintf(w, "  sentiment=%s urgency=%s priority=%s\n", a.Sentiment, a.Urgency, a.Priority)
	for _, n := range a.Needs {
		fmt.Fprintf(w, "  - %s (%.2f, %s) %s\n", n.Type, n.Confidence, n.Priority, n.Suggestion)
	}
}

func printClose(w io.Writer, result *usecase.CloseResult) {
	headerColor.Fprintf(w, "Closed %s\n", result.Conversation.ID)
	if result.Path == nil {
		dimColor.Fprintln(w, "  no customer turn, nothing recorded")
		return
	}
	fmt.Fprintf(w, "  problem=%s steps=%d successful=%t\n",
		result.Path.ProblemType, result.Path.StepsCount, result.Path.Successful)
	if e := result.Evaluation; e != nil {
		fmt.Fprintf(w, "  score=%d band=%s\n", e.Score, e.Band)
	}
	if result.Pattern != nil {
		successColor.Fprintf(w, "  saved success pattern %s\n", result.Pattern.ID)
	}
	if ie := result.Inefficiency; ie != nil && ie.WastedInteractions > 0 {
		warnColor.Fprintf(w, "  wasted interactions=%d loss=%.2f\n", ie.WastedInteractions, ie.EfficiencyLoss)
	}
}

func printBatch(w io.Writer, report *usecase.BatchReport) {
	for _, r := range report.Conversations {
		if r.Err != nil {
			alertColor.Fprintf(w, "%s: %v\n", r.ConversationID, r.Err)
			continue
		}
		headerColor.Fprintln(w, r.ConversationID)
		printAnalysis(w, r.Analysis)
		if r.Inefficiency != nil {
			for _, s := range r.Inefficiency.Suggestions {
				warnColor.Fprintf(w, "  ! %s\n", s)
			}
		}
		if r.Anomaly.IsAnomaly {
			alertColor.Fprintf(w, "  anomaly score=%.2f\n", r.Anomaly.Score)
		}
	}

	if len(report.Clusters) > 0 {
		headerColor.Fprintln(w, "Clusters")
		for _, g := range report.Clusters {
			fmt.Fprintf(w, "  %s (cohesion %.2f): %s\n", g.Label, g.Cohesion, strings.Join(g.Members, ", "))
		}
	}
}
