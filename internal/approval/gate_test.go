package approval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/draftflow/internal/logging"
	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// scriptedApprover plays back a fixed sequence of results.
type scriptedApprover struct {
	results []*Result
	calls   int
}

func (s *scriptedApprover) Name() string { return "scripted" }
func (s *scriptedApprover) Evaluate(ctx context.Context, ev Evaluation) (*Result, error) {
	s.calls++
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r, nil
}

func fixedResolver(p Provider) Resolver {
	return func(phase state.Phase, stage state.Stage) (Provider, error) {
		return p, nil
	}
}

func newGateState() *state.WorkflowState {
	s := state.NewWorkflowState("sess-1", "generic", nil)
	s.EnterStage(state.PhaseGenerate, state.StageResponse)
	return s
}

func TestGate_Approved(t *testing.T) {
	gate := NewGate(fixedResolver(NewAutoProvider()), 3, logging.NewNop())
	s := newGateState()

	outcome, err := gate.Run(context.Background(), GateRequest{
		State: s, Phase: state.PhaseGenerate, Stage: state.StageResponse, Content: "fine",
	})
	require.NoError(t, err)
	assert.Equal(t, GateApproved, outcome)
	assert.Equal(t, 0, s.RetryCount)
}

func TestGate_ManualDefers(t *testing.T) {
	gate := NewGate(fixedResolver(NewManualProvider()), 3, logging.NewNop())
	s := newGateState()

	outcome, err := gate.Run(context.Background(), GateRequest{
		State: s, Phase: state.PhaseGenerate, Stage: state.StageResponse, Content: "whatever",
	})
	require.NoError(t, err)
	assert.Equal(t, GatePending, outcome)
	assert.Equal(t, 0, s.RetryCount, "deferral is not a rejection")
}

func TestGate_BoundedRetryThenPause(t *testing.T) {
	// max_retries = 1, provider rejects twice: exactly one automatic retry,
	// then a paused state with retry_count = 2 and the second rejection's
	// feedback recorded.
	approver := &scriptedApprover{results: []*Result{
		{Decision: Rejected, Feedback: "first complaint"},
		{Decision: Rejected, Feedback: "second complaint", SuggestedContent: "try this instead"},
	}}
	gate := NewGate(fixedResolver(approver), 1, logging.NewNop())
	s := newGateState()

	var regenerations int
	regen := func(ctx context.Context, feedback, suggested string) (string, error) {
		regenerations++
		assert.Equal(t, "first complaint", feedback)
		return "attempt two", nil
	}

	outcome, err := gate.Run(context.Background(), GateRequest{
		State: s, Phase: state.PhaseGenerate, Stage: state.StageResponse,
		Content: "attempt one", Regenerate: regen,
	})
	require.NoError(t, err)
	assert.Equal(t, GatePaused, outcome)
	assert.Equal(t, 1, regenerations)
	assert.Equal(t, 2, s.RetryCount)
	assert.Equal(t, "second complaint", s.ApprovalFeedback)
	assert.Equal(t, "try this instead", s.SuggestedContent)
}

func TestGate_RetrySucceeds(t *testing.T) {
	approver := &scriptedApprover{results: []*Result{
		{Decision: Rejected, Feedback: "tighten it up"},
		{Decision: Approved},
	}}
	gate := NewGate(fixedResolver(approver), 2, logging.NewNop())
	s := newGateState()

	outcome, err := gate.Run(context.Background(), GateRequest{
		State: s, Phase: state.PhaseGenerate, Stage: state.StageResponse,
		Content: "v1",
		Regenerate: func(ctx context.Context, feedback, suggested string) (string, error) {
			return "v2", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, GateApproved, outcome)
	assert.Equal(t, 2, approver.calls)
	// Retry bookkeeping from the failed attempt stays until the stage
	// change resets it.
	assert.Equal(t, 1, s.RetryCount)
}

func TestGate_NoRegenerationPathPausesImmediately(t *testing.T) {
	approver := &scriptedApprover{results: []*Result{
		{Decision: Rejected, Feedback: "prompt needs work"},
	}}
	gate := NewGate(fixedResolver(approver), 5, logging.NewNop())
	s := newGateState()

	outcome, err := gate.Run(context.Background(), GateRequest{
		State: s, Phase: state.PhasePlan, Stage: state.StagePrompt,
		Content: "prompt text", Regenerate: nil,
	})
	require.NoError(t, err)
	assert.Equal(t, GatePaused, outcome)
	assert.Equal(t, 1, approver.calls, "no retry without a regeneration path")
	assert.Equal(t, "prompt needs work", s.ApprovalFeedback)
}

func TestGate_NeverExceedsMaxRetries(t *testing.T) {
	// A provider that rejects forever must not loop beyond the bound.
	always := &scriptedApprover{results: []*Result{{Decision: Rejected, Feedback: "no"}}}
	gate := NewGate(fixedResolver(always), 3, logging.NewNop())
	s := newGateState()

	regenerations := 0
	outcome, err := gate.Run(context.Background(), GateRequest{
		State: s, Phase: state.PhaseGenerate, Stage: state.StageResponse,
		Content: "v1",
		Regenerate: func(ctx context.Context, feedback, suggested string) (string, error) {
			regenerations++
			return fmt.Sprintf("v%d", regenerations+1), nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, GatePaused, outcome)
	assert.Equal(t, 3, regenerations)
	assert.Equal(t, 4, s.RetryCount)
}

func TestGate_RegenerationErrorPropagates(t *testing.T) {
	approver := &scriptedApprover{results: []*Result{{Decision: Rejected, Feedback: "no"}}}
	gate := NewGate(fixedResolver(approver), 2, logging.NewNop())
	s := newGateState()

	boom := errors.New("provider crashed")
	_, err := gate.Run(context.Background(), GateRequest{
		State: s, Phase: state.PhaseGenerate, Stage: state.StageResponse,
		Content: "v1",
		Regenerate: func(ctx context.Context, feedback, suggested string) (string, error) {
			return "", boom
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestGate_ResolverErrorPropagates(t *testing.T) {
	gate := NewGate(func(phase state.Phase, stage state.Stage) (Provider, error) {
		return nil, errors.New("unknown provider key")
	}, 1, logging.NewNop())

	_, err := gate.Run(context.Background(), GateRequest{
		State: newGateState(), Phase: state.PhaseGenerate, Stage: state.StageResponse,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider key")
}
