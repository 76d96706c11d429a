package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftflow/internal/logging"
	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// GateOutcome reports how a gate run resolved.
type GateOutcome string

const (
	// GateApproved allows the transition to commit.
	GateApproved GateOutcome = "approved"

	// GatePending means the decision is deferred to an external approve
	// command; no content evaluation happens when that command arrives.
	GatePending GateOutcome = "pending"

	// GatePaused means the content was rejected and automatic retries are
	// exhausted or unavailable. The workflow stays IN_PROGRESS with the
	// rejection feedback recorded; manual recovery remains possible.
	GatePaused GateOutcome = "paused"
)

// RegenerateFunc re-invokes the response provider with rejection feedback
// folded into its input and returns the regenerated content. A nil
// RegenerateFunc in the request means no automatic regeneration path exists
// for the gated stage.
type RegenerateFunc func(ctx context.Context, feedback, suggested string) (string, error)

// GateRequest carries one gate run.
type GateRequest struct {
	// State is the session state; retry bookkeeping is recorded on it.
	State *state.WorkflowState

	// Phase and Stage identify the content being gated (the transition's
	// target position).
	Phase state.Phase
	Stage state.Stage

	// Content is the text produced for the gated stage.
	Content string

	// Regenerate, when non-nil, is the automatic retry path.
	Regenerate RegenerateFunc
}

// Resolver returns the approval provider configured for (phase, stage).
type Resolver func(phase state.Phase, stage state.Stage) (Provider, error)

// Gate orchestrates approval-provider invocation, bounded retry, and
// rejection handling around every content-producing action.
type Gate struct {
	resolve    Resolver
	maxRetries int
	log        *logging.Logger
}

// NewGate creates a gate with the given provider resolver and retry bound.
func NewGate(resolve Resolver, maxRetries int, log *logging.Logger) *Gate {
	if log == nil {
		log = logging.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Gate{resolve: resolve, maxRetries: maxRetries, log: log}
}

// Run gates freshly produced content. The retry loop is explicit and hard
// bounded: it never re-invokes the response provider more than maxRetries
// times regardless of provider behavior. Rejection is a first-class
// outcome, not an error; the returned error is reserved for provider
// failures.
func (g *Gate) Run(ctx context.Context, req GateRequest) (GateOutcome, error) {
	prov, err := g.resolve(req.Phase, req.Stage)
	if err != nil {
		return "", fmt.Errorf("failed to resolve approval provider for %s[%s]: %w", req.Phase, req.Stage, err)
	}

	content := req.Content
	for {
		result, err := prov.Evaluate(ctx, Evaluation{
			Phase:   req.Phase,
			Stage:   req.Stage,
			Content: content,
			Context: req.State.Context,
		})
		if err != nil {
			return "", fmt.Errorf("approval evaluation failed: %w", err)
		}

		if result == nil {
			g.log.Debug(ctx, "approval deferred to external interaction",
				zap.String("provider", prov.Name()),
				zap.String("phase", string(req.Phase)),
				zap.String("stage", string(req.Stage)),
			)
			return GatePending, nil
		}

		if result.Decision == Approved {
			return GateApproved, nil
		}

		// Rejected: record the reason and bump the retry counter.
		req.State.RetryCount++
		req.State.ApprovalFeedback = result.Feedback
		req.State.SuggestedContent = result.SuggestedContent
		g.log.Info(ctx, "content rejected by approval provider",
			zap.String("provider", prov.Name()),
			zap.String("phase", string(req.Phase)),
			zap.String("stage", string(req.Stage)),
			zap.Int("retry_count", req.State.RetryCount),
			zap.String("feedback", result.Feedback),
		)

		if req.Regenerate == nil {
			// No automatic regeneration path; pause for manual
			// edit-and-retry.
			return GatePaused, nil
		}
		if req.State.RetryCount > g.maxRetries {
			// Exhausting retries is a deliberate non-fatal pause.
			return GatePaused, nil
		}

		content, err = req.Regenerate(ctx, result.Feedback, result.SuggestedContent)
		if err != nil {
			return "", fmt.Errorf("automatic regeneration failed: %w", err)
		}
	}
}

// MaxRetries returns the configured retry bound.
func (g *Gate) MaxRetries() int {
	return g.maxRetries
}
