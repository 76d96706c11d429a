package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/draftflow/internal/provider"
)

// AutoProvider is the fixed-approve strategy. It never blocks and never
// inspects content.
type AutoProvider struct{}

// NewAutoProvider creates the fixed-approve strategy.
func NewAutoProvider() *AutoProvider {
	return &AutoProvider{}
}

// Name returns the registry key for the fixed-approve strategy.
func (p *AutoProvider) Name() string { return "auto" }

// Evaluate approves unconditionally.
func (p *AutoProvider) Evaluate(ctx context.Context, ev Evaluation) (*Result, error) {
	return &Result{Decision: Approved}, nil
}

// ManualProvider defers every decision: the external approve command
// succeeding for this (phase, stage) IS the approval, and the gate never
// separately evaluates content for this strategy.
type ManualProvider struct{}

// NewManualProvider creates the manual strategy.
func NewManualProvider() *ManualProvider {
	return &ManualProvider{}
}

// Name returns the registry key for the manual strategy.
func (p *ManualProvider) Name() string { return "manual" }

// Evaluate returns a nil Result, the reserved "defer" signal.
func (p *ManualProvider) Evaluate(ctx context.Context, ev Evaluation) (*Result, error) {
	return nil, nil
}

// DelegatedProvider wraps a response-generating provider and asks it to
// judge produced content. The evaluator's free-form answer is parsed with
// ParseDecision.
type DelegatedProvider struct {
	responder provider.ResponseProvider
}

// NewDelegatedProvider creates the delegated strategy around the given
// evaluator.
func NewDelegatedProvider(responder provider.ResponseProvider) *DelegatedProvider {
	return &DelegatedProvider{responder: responder}
}

// Name returns the registry key for the delegated strategy.
func (p *DelegatedProvider) Name() string { return "delegated" }

// Evaluate builds an evaluation prompt from the produced content plus the
// session context and parses the evaluator's answer. A deferred answer from
// the wrapped responder is treated as a defer of the decision itself.
func (p *DelegatedProvider) Evaluate(ctx context.Context, ev Evaluation) (*Result, error) {
	resp, err := p.responder.Generate(ctx, provider.Request{
		Prompt:  buildEvaluationPrompt(ev),
		Context: ev.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("delegated evaluation failed: %w", err)
	}
	if resp.IsDeferred() {
		return nil, nil
	}
	result := ParseDecision(resp.Content)
	return &result, nil
}

// buildEvaluationPrompt assembles the judging prompt. The explicit marker
// instruction keeps ParseDecision's preferred path available.
func buildEvaluationPrompt(ev Evaluation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing %s-stage output of the %s phase of a content workflow.\n\n", ev.Stage, ev.Phase)
	keys := make([]string, 0, len(ev.Context))
	for k := range ev.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, ev.Context[k])
	}
	b.WriteString("\nContent under review:\n---\n")
	b.WriteString(ev.Content)
	b.WriteString("\n---\n\n")
	b.WriteString("Judge whether this content is acceptable to proceed. Answer with a line\n")
	b.WriteString("`DECISION: APPROVED` or `DECISION: REJECTED`, and on rejection a line\n")
	b.WriteString("`FEEDBACK: <what must change>`.")
	return b.String()
}
