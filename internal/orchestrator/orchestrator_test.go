package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/draftflow/internal/approval"
	"github.com/fyrsmithlabs/draftflow/internal/config"
	"github.com/fyrsmithlabs/draftflow/internal/profile"
	"github.com/fyrsmithlabs/draftflow/internal/provider"
	"github.com/fyrsmithlabs/draftflow/internal/registry"
	"github.com/fyrsmithlabs/draftflow/internal/state"
	"github.com/fyrsmithlabs/draftflow/internal/transition"
)

// scriptedResponder returns queued responses in order, repeating the last
// one when the queue runs dry.
type scriptedResponder struct {
	responses   []*provider.Response
	calls       int
	requests    []provider.Request
	validateErr error
}

func (s *scriptedResponder) Name() string { return "scripted" }

func (s *scriptedResponder) Capabilities() provider.Capabilities {
	return provider.Capabilities{FSAccess: provider.FSAccessNone}
}

func (s *scriptedResponder) Validate(ctx context.Context) error { return s.validateErr }

func (s *scriptedResponder) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	s.requests = append(s.requests, req)
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

type fixture struct {
	orch      *Orchestrator
	store     *state.Store
	responder *scriptedResponder
	evaluator *scriptedResponder
	cfg       *config.Config
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	root := t.TempDir()
	store, err := state.NewStore(root)
	require.NoError(t, err)

	cfg := &config.Config{
		Sessions: config.SessionsConfig{Root: root},
		Provider: config.ProviderConfig{Default: "scripted"},
		Claude:   config.ClaudeConfig{Binary: "claude", Timeout: time.Minute},
		Approval: config.ApprovalConfig{Prompt: config.StrategyAuto, Response: config.StrategyManual},
		Workflow: config.WorkflowConfig{Profile: "generic", MaxRetries: 3},
	}
	if mutate != nil {
		mutate(cfg)
	}

	responder := &scriptedResponder{responses: []*provider.Response{provider.Produced("content")}}
	evaluator := &scriptedResponder{responses: []*provider.Response{provider.Produced("DECISION: APPROVED")}}

	reg := registry.NewRegistry()
	require.NoError(t, reg.RegisterResponse("scripted", responder))
	require.NoError(t, reg.RegisterApproval(config.StrategyAuto, approval.NewAutoProvider()))
	require.NoError(t, reg.RegisterApproval(config.StrategyManual, approval.NewManualProvider()))
	require.NoError(t, reg.RegisterApproval(config.StrategyDelegated, approval.NewDelegatedProvider(evaluator)))
	require.NoError(t, reg.RegisterProfile(profile.NewGenericProfile()))

	return &fixture{
		orch:      NewOrchestrator(store, reg, cfg, nil),
		store:     store,
		responder: responder,
		evaluator: evaluator,
		cfg:       cfg,
	}
}

func (f *fixture) sessionDir(t *testing.T, id string) string {
	t.Helper()
	dir, err := f.store.SessionDir(id)
	require.NoError(t, err)
	return dir
}

const sessionID = "sess-1"

func initSession(t *testing.T, f *fixture) *state.WorkflowState {
	t.Helper()
	ws, err := f.orch.Init(context.Background(), sessionID, "generic", map[string]string{"topic": "limiter"})
	require.NoError(t, err)
	return ws
}

func handle(t *testing.T, f *fixture, cmd state.Command) *state.WorkflowState {
	t.Helper()
	ws, err := f.orch.Handle(context.Background(), sessionID, cmd, CommandOptions{})
	require.NoError(t, err)
	return ws
}

func TestInit_FailsFastOnUnknownKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown profile", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.orch.Init(ctx, sessionID, "bespoke", nil)
		assert.ErrorIs(t, err, registry.ErrUnknownProfile)
	})

	t.Run("unknown response provider", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.Provider.Default = "missing" })
		_, err := f.orch.Init(ctx, sessionID, "generic", nil)
		assert.ErrorIs(t, err, registry.ErrUnknownResponseProvider)
	})

	t.Run("provider pre-flight failure", func(t *testing.T) {
		f := newFixture(t, nil)
		f.responder.validateErr = os.ErrNotExist
		_, err := f.orch.Init(ctx, sessionID, "generic", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pre-flight")
	})
}

func TestInit_WritesStandardsBundle(t *testing.T) {
	f := newFixture(t, nil)
	ws := initSession(t, f)

	assert.Equal(t, state.PhaseInit, ws.Phase)
	assert.Equal(t, state.StageNone, ws.Stage)
	assert.Equal(t, 1, ws.Iteration)

	data, err := os.ReadFile(filepath.Join(f.sessionDir(t, sessionID), "standards.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Standards")
}

func TestHandle_FirstStepYieldsPlanPrompt(t *testing.T) {
	f := newFixture(t, nil)
	initSession(t, f)

	ws := handle(t, f, state.CommandStep)
	assert.Equal(t, state.PhasePlan, ws.Phase)
	assert.Equal(t, state.StagePrompt, ws.Stage)
	assert.True(t, sessionFileExists(f.sessionDir(t, sessionID), "iterations/001/plan_prompt.md"))
}

func TestHandle_InvalidCommandRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t, nil)
	initSession(t, f)
	handle(t, f, state.CommandStep)

	before, err := f.store.Load(sessionID)
	require.NoError(t, err)

	_, err = f.orch.Handle(context.Background(), sessionID, state.CommandReject, CommandOptions{})
	assert.ErrorIs(t, err, transition.ErrInvalidCommand)

	after, err := f.store.Load(sessionID)
	require.NoError(t, err)
	assert.Equal(t, before.Phase, after.Phase)
	assert.Equal(t, before.Stage, after.Stage)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestHandle_HappyPathToComplete(t *testing.T) {
	f := newFixture(t, nil)
	f.responder.responses = []*provider.Response{
		provider.Produced("1. Build the limiter."),
		provider.Produced("Implementation.\n\n```go path=code/main.go\npackage main\n```\n"),
		provider.Produced("Looks correct.\nVERDICT: PASS\n"),
	}
	initSession(t, f)
	dir := f.sessionDir(t, sessionID)

	ws := handle(t, f, state.CommandStep)
	assert.Equal(t, state.PhasePlan, ws.Phase)
	assert.Equal(t, state.StagePrompt, ws.Stage)

	// Prompt approved: responder produces the plan, manual gate defers.
	ws = handle(t, f, state.CommandApprove)
	assert.Equal(t, state.StageResponse, ws.Stage)

	// Plan response approved: session-root plan promoted, GENERATE opens.
	ws = handle(t, f, state.CommandApprove)
	assert.Equal(t, state.PhaseGenerate, ws.Phase)
	assert.Equal(t, state.StagePrompt, ws.Stage)
	plan, err := os.ReadFile(filepath.Join(dir, "plan.md"))
	require.NoError(t, err)
	assert.Equal(t, "1. Build the limiter.", string(plan))

	ws = handle(t, f, state.CommandApprove)
	assert.Equal(t, state.StageResponse, ws.Stage)
	assert.True(t, sessionFileExists(dir, "iterations/001/code/main.go"))

	// Generate response approved: extracted file is hashed at approval.
	ws = handle(t, f, state.CommandApprove)
	assert.Equal(t, state.PhaseReview, ws.Phase)
	var hashed bool
	for _, a := range ws.Artifacts {
		if a.Path == "iterations/001/code/main.go" {
			hashed = a.Hash != ""
		}
	}
	assert.True(t, hashed, "extracted file should carry an approval-time hash")

	ws = handle(t, f, state.CommandApprove)
	assert.Equal(t, state.StageResponse, ws.Stage)

	ws = handle(t, f, state.CommandApprove)
	assert.Equal(t, state.PhaseComplete, ws.Phase)
	assert.Equal(t, state.StageNone, ws.Stage)
	assert.Equal(t, state.StatusSuccess, ws.Status)
	assert.Equal(t, 1, ws.Iteration)
}

func driveToReviewResponse(t *testing.T, f *fixture) {
	t.Helper()
	initSession(t, f)
	handle(t, f, state.CommandStep)
	for i := 0; i < 5; i++ {
		handle(t, f, state.CommandApprove)
	}
}

func TestHandle_ReviewFailOpensRevision(t *testing.T) {
	f := newFixture(t, nil)
	f.responder.responses = []*provider.Response{
		provider.Produced("plan"),
		provider.Produced("```go path=code/main.go\npackage main\n```\n"),
		provider.Produced("Missing burst handling.\nVERDICT: FAIL\n"),
	}
	driveToReviewResponse(t, f)

	ws := handle(t, f, state.CommandApprove)
	assert.Equal(t, state.PhaseRevise, ws.Phase)
	assert.Equal(t, state.StagePrompt, ws.Stage)
	assert.Equal(t, 2, ws.Iteration)

	prompt, err := os.ReadFile(filepath.Join(f.sessionDir(t, sessionID), "iterations/002/revise_prompt.md"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), "Missing burst handling.")
}

func TestHandle_UnparsableVerdictPausesInPlace(t *testing.T) {
	f := newFixture(t, nil)
	f.responder.responses = []*provider.Response{
		provider.Produced("plan"),
		provider.Produced("```go path=code/main.go\npackage main\n```\n"),
		provider.Produced("Hard to say."),
	}
	driveToReviewResponse(t, f)

	ws := handle(t, f, state.CommandApprove)
	assert.Equal(t, state.PhaseReview, ws.Phase)
	assert.Equal(t, state.StageResponse, ws.Stage)
	assert.Equal(t, state.StatusInProgress, ws.Status)
	assert.Contains(t, ws.LastError, "could not parse verdict")
	assert.Equal(t, 1, ws.Iteration)
}

func TestHandle_CancelIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	initSession(t, f)
	handle(t, f, state.CommandStep)
	handle(t, f, state.CommandApprove)
	handle(t, f, state.CommandApprove)
	handle(t, f, state.CommandApprove) // GENERATE[RESPONSE]

	ws := handle(t, f, state.CommandCancel)
	assert.Equal(t, state.PhaseCancelled, ws.Phase)
	assert.Equal(t, state.StageNone, ws.Stage)
	assert.Equal(t, state.StatusCancelled, ws.Status)

	for _, cmd := range []state.Command{state.CommandStep, state.CommandApprove} {
		_, err := f.orch.Handle(context.Background(), sessionID, cmd, CommandOptions{})
		assert.ErrorIs(t, err, transition.ErrInvalidCommand)
	}
}

func TestHandle_StageChangeClearsApprovalBookkeeping(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Workflow.MaxRetries = 0 })
	initSession(t, f)
	handle(t, f, state.CommandStep)
	handle(t, f, state.CommandApprove) // PLAN[RESPONSE]

	ws, err := f.orch.Handle(context.Background(), sessionID, state.CommandReject, CommandOptions{Feedback: "thin plan"})
	require.NoError(t, err)
	assert.Equal(t, 1, ws.RetryCount)
	assert.Equal(t, "thin plan", ws.ApprovalFeedback)

	ws = handle(t, f, state.CommandApprove) // to GENERATE[PROMPT]
	assert.Equal(t, state.PhaseGenerate, ws.Phase)
	assert.Zero(t, ws.RetryCount)
	assert.Empty(t, ws.ApprovalFeedback)
	assert.Empty(t, ws.SuggestedContent)
}

func TestHandle_DelegatedRejectionBoundedRetryThenPause(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Approval.Response = config.StrategyDelegated
		c.Approval.Evaluator = "scripted"
		c.Workflow.MaxRetries = 1
	})
	f.responder.responses = []*provider.Response{
		provider.Produced("plan"),
		provider.Produced("first attempt"),
		provider.Produced("second attempt"),
	}
	f.evaluator.responses = []*provider.Response{
		provider.Produced("DECISION: APPROVED"),
		provider.Produced("DECISION: REJECTED\nFEEDBACK: too vague"),
		provider.Produced("DECISION: REJECTED\nFEEDBACK: still too vague"),
	}
	initSession(t, f)
	handle(t, f, state.CommandStep)
	handle(t, f, state.CommandApprove) // plan response, evaluator approves
	handle(t, f, state.CommandApprove) // GENERATE[PROMPT]

	// Responder produces, evaluator rejects twice: exactly one automatic
	// retry, then a paused IN_PROGRESS state.
	ws := handle(t, f, state.CommandApprove)
	assert.Equal(t, state.PhaseGenerate, ws.Phase)
	assert.Equal(t, state.StageResponse, ws.Stage)
	assert.Equal(t, state.StatusInProgress, ws.Status)
	assert.Equal(t, 2, ws.RetryCount)
	assert.Equal(t, "still too vague", ws.ApprovalFeedback)
	assert.Equal(t, 3, f.responder.calls, "plan + first attempt + one automatic retry")

	// The retry request folded the first rejection's feedback in.
	assert.Equal(t, "too vague", f.responder.requests[2].Feedback)
}

func TestHandle_RejectCommandRegeneratesWithinBound(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Workflow.MaxRetries = 1 })
	f.responder.responses = []*provider.Response{
		provider.Produced("plan"),
		provider.Produced("first attempt"),
		provider.Produced("second attempt"),
	}
	initSession(t, f)
	handle(t, f, state.CommandStep)
	handle(t, f, state.CommandApprove) // PLAN[RESPONSE]

	calls := f.responder.calls
	ws, err := f.orch.Handle(context.Background(), sessionID, state.CommandReject, CommandOptions{Feedback: "rework"})
	require.NoError(t, err)
	assert.Equal(t, 1, ws.RetryCount)
	assert.Equal(t, calls+1, f.responder.calls)
	assert.Equal(t, "rework", f.responder.requests[len(f.responder.requests)-1].Feedback)
	assert.Equal(t, state.StageResponse, ws.Stage)

	// Second rejection exhausts the bound: no further regeneration.
	calls = f.responder.calls
	ws, err = f.orch.Handle(context.Background(), sessionID, state.CommandReject, CommandOptions{Feedback: "still wrong"})
	require.NoError(t, err)
	assert.Equal(t, 2, ws.RetryCount)
	assert.Equal(t, "still wrong", ws.ApprovalFeedback)
	assert.Equal(t, calls, f.responder.calls)
	assert.Equal(t, state.StatusInProgress, ws.Status)
}

func TestHandle_RetryCommandReinvokesInPlace(t *testing.T) {
	f := newFixture(t, nil)
	f.responder.responses = []*provider.Response{
		provider.Produced("plan"),
		provider.Produced("plan v2"),
	}
	initSession(t, f)
	handle(t, f, state.CommandStep)
	handle(t, f, state.CommandApprove) // PLAN[RESPONSE]

	ws := handle(t, f, state.CommandRetry)
	assert.Equal(t, state.PhasePlan, ws.Phase)
	assert.Equal(t, state.StageResponse, ws.Stage)
	assert.Zero(t, ws.RetryCount)

	text, err := os.ReadFile(filepath.Join(f.sessionDir(t, sessionID), "iterations/001/plan_response.md"))
	require.NoError(t, err)
	assert.Equal(t, "plan v2", string(text))
}

func TestHandle_DeferredProviderBlocksUntilArtifactSupplied(t *testing.T) {
	f := newFixture(t, nil)
	f.responder.responses = []*provider.Response{provider.Deferred()}
	initSession(t, f)
	handle(t, f, state.CommandStep)

	// The workflow advances to RESPONSE but reports blocked.
	ws, err := f.orch.Handle(context.Background(), sessionID, state.CommandApprove, CommandOptions{})
	assert.ErrorIs(t, err, ErrAwaitingContent)
	assert.Equal(t, state.PhasePlan, ws.Phase)
	assert.Equal(t, state.StageResponse, ws.Stage)
	assert.True(t, ws.AwaitingContent)

	// Still blocked while the artifact is missing.
	_, err = f.orch.Handle(context.Background(), sessionID, state.CommandApprove, CommandOptions{})
	assert.ErrorIs(t, err, ErrAwaitingContent)

	// Supplying the response unblocks the next command.
	dir := f.sessionDir(t, sessionID)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "iterations/001/plan_response.md"), []byte("external plan"), 0600))

	ws, err = f.orch.Handle(context.Background(), sessionID, state.CommandApprove, CommandOptions{})
	require.NoError(t, err)
	assert.False(t, ws.AwaitingContent)
	assert.Equal(t, state.PhaseGenerate, ws.Phase)
	assert.Equal(t, state.StagePrompt, ws.Stage)

	plan, err := os.ReadFile(filepath.Join(dir, "plan.md"))
	require.NoError(t, err)
	assert.Equal(t, "external plan", string(plan))
}
