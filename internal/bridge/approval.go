package bridge

import (
	"fmt"
	"strings"

	"github.com/majordomo-sh/majordomo/internal/store"
)

// Approval is the three-state outcome of classifying a reply in a thread
// with an awaiting pending execution.
type Approval int

const (
	// ApprovalApprove executes the plan as proposed.
	ApprovalApprove Approval = iota
	// ApprovalDecline discards the plan.
	ApprovalDecline
	// ApprovalModify executes the plan with the reply text appended as a
	// modification. Any reply that is neither a clear yes nor a clear no
	// lands here: the gate deliberately avoids rigid confirmation syntax.
	ApprovalModify
)

func (a Approval) String() string {
	switch a {
	case ApprovalApprove:
		return "approve"
	case ApprovalDecline:
		return "decline"
	case ApprovalModify:
		return "modify"
	default:
		return fmt.Sprintf("approval(%d)", int(a))
	}
}

// ApprovalClassifier decides what an inbound reply means for an awaiting
// pending execution. Isolated behind an interface so the pattern-based
// default can be swapped for a stricter confirmation UI without touching
// the execution pipeline.
type ApprovalClassifier interface {
	Classify(text string) Approval
}

// PatternClassifier is the default classifier: short decline and approval
// phrase lists, everything else treated as approval-with-modifications.
type PatternClassifier struct{}

var declinePhrases = map[string]bool{
	"no":          true,
	"nope":        true,
	"nah":         true,
	"don't":       true,
	"dont":        true,
	"decline":     true,
	"declined":    true,
	"no thanks":   true,
	"not now":     true,
	"skip it":     true,
	"leave it":    true,
	"don't do it": true,
	"cancel":      true,
	"stop":        true,
	"forget it":   true,
	"nevermind":   true,
	"never mind":  true,
}

var approvePhrases = map[string]bool{
	"yes":         true,
	"yep":         true,
	"yeah":        true,
	"y":           true,
	"ok":          true,
	"okay":        true,
	"sure":        true,
	"go ahead":    true,
	"go for it":   true,
	"do it":       true,
	"please do":   true,
	"approve":     true,
	"approved":    true,
	"sounds good": true,
	"lgtm":        true,
	"proceed":     true,
	"make it so":  true,
}

func (PatternClassifier) Classify(text string) Approval {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.TrimRight(norm, "!.?, ")
	if declinePhrases[norm] {
		return ApprovalDecline
	}
	if approvePhrases[norm] {
		return ApprovalApprove
	}
	return ApprovalModify
}

// ExecutionPrompt builds the prompt for an approved pending execution. It
// enumerates every agent-owned item explicitly and instructs sequential,
// failure-tolerant execution; modification holds the user's reply text for
// the ApprovalModify path.
func ExecutionPrompt(plan string, items []store.ActionItem, modification string) string {
	var b strings.Builder
	b.WriteString("During a recent voice call you agreed to handle the follow-ups below. " +
		"Execute them now, one at a time, in order. If an item is blocked, say why " +
		"and continue with the next one — do not stop at the first failure.\n\n")

	n := 0
	for _, it := range items {
		if !strings.EqualFold(it.Owner, "agent") {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s", n, it.Description)
		if it.Context != "" {
			fmt.Fprintf(&b, " (%s)", it.Context)
		}
		b.WriteString("\n")
	}

	if plan != "" {
		fmt.Fprintf(&b, "\nPlan from the call: %s\n", plan)
	}
	if modification != "" {
		fmt.Fprintf(&b, "\nThe user replied with changes — apply them: %s\n", modification)
	}
	return b.String()
}
