// Package approval defines the approval-provider contract and the gate
// service that sits between every content-producing action and the state
// transition it would otherwise commit.
//
// Three strategies exist: auto (fixed approve, never blocks), manual (the
// external approve command is the approval; content is never separately
// evaluated), and delegated (an agent judges the content and its free-form
// answer is parsed leniently).
package approval

import (
	"context"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// Decision is the outcome of an approval evaluation.
type Decision string

const (
	Approved Decision = "APPROVED"
	Rejected Decision = "REJECTED"
)

// Result carries an approval decision. Feedback and SuggestedContent are
// meaningful only on rejection. A nil *Result from Evaluate is reserved to
// mean "defer to external interaction" (the manual strategy).
type Result struct {
	Decision         Decision
	Feedback         string
	SuggestedContent string
}

// Evaluation is the input to an approval provider: the content just
// produced for (phase, stage), plus the session's domain parameters.
type Evaluation struct {
	Phase   state.Phase
	Stage   state.Stage
	Content string
	Context map[string]string
}

// Provider judges produced content. Evaluate returns a nil Result to defer
// the decision to an external actor.
type Provider interface {
	Name() string
	Evaluate(ctx context.Context, ev Evaluation) (*Result, error)
}

// decisionMarker matches the explicit machine-readable marker a delegated
// evaluator is instructed to emit.
var decisionMarker = regexp.MustCompile(`(?im)^\s*DECISION:\s*(APPROVED|REJECTED)\b`)

// feedbackMarker matches an optional structured feedback line.
var feedbackMarker = regexp.MustCompile(`(?im)^\s*FEEDBACK:\s*(.+)$`)

// ParseDecision extracts an approval decision from a free-form answer.
// Preference order: the explicit DECISION marker, then a keyword search.
// An ambiguous answer (both keywords, or neither) defaults to REJECTED with
// a "could not parse decision" feedback rather than silently approving.
func ParseDecision(answer string) Result {
	if m := decisionMarker.FindStringSubmatch(answer); m != nil {
		decision := Decision(strings.ToUpper(m[1]))
		if decision == Approved {
			return Result{Decision: Approved}
		}
		return Result{Decision: Rejected, Feedback: extractFeedback(answer)}
	}

	lower := strings.ToLower(answer)
	hasApproved := strings.Contains(lower, "approved")
	hasRejected := strings.Contains(lower, "rejected")

	switch {
	case hasApproved && !hasRejected:
		return Result{Decision: Approved}
	case hasRejected && !hasApproved:
		return Result{Decision: Rejected, Feedback: extractFeedback(answer)}
	default:
		return Result{
			Decision: Rejected,
			Feedback: "could not parse decision from evaluator answer",
		}
	}
}

// extractFeedback pulls the structured FEEDBACK line when present, and
// otherwise returns the whole trimmed answer so the rejection reason is
// never lost.
func extractFeedback(answer string) string {
	if m := feedbackMarker.FindStringSubmatch(answer); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(answer)
}
