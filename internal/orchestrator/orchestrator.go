// Package orchestrator is the facade over the workflow engine: given a
// session id and a command, it loads state, consults the transition table
// before any side effect, runs the action executor, runs the approval
// gate, persists state, and returns the new state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftflow/internal/approval"
	"github.com/fyrsmithlabs/draftflow/internal/artifact"
	"github.com/fyrsmithlabs/draftflow/internal/config"
	"github.com/fyrsmithlabs/draftflow/internal/logging"
	"github.com/fyrsmithlabs/draftflow/internal/profile"
	"github.com/fyrsmithlabs/draftflow/internal/provider"
	"github.com/fyrsmithlabs/draftflow/internal/registry"
	"github.com/fyrsmithlabs/draftflow/internal/state"
	"github.com/fyrsmithlabs/draftflow/internal/transition"
)

// ErrAwaitingContent marks a session blocked until an external actor
// supplies the current stage's response artifact. Callers map it to the
// blocked exit code.
var ErrAwaitingContent = errors.New("session is awaiting an externally supplied response artifact")

// CommandOptions carries optional per-command input.
type CommandOptions struct {
	// Feedback is the rejection reason attached to a reject command.
	Feedback string
}

// Orchestrator coordinates one command per invocation against one session.
// It is not safe for concurrent use; the tool is single-operator and
// strictly sequential.
type Orchestrator struct {
	store     *state.Store
	reg       *registry.Registry
	cfg       *config.Config
	gate      *approval.Gate
	artifacts *artifact.Service
	log       *logging.Logger
}

// NewOrchestrator wires the engine together. The registry must already
// hold the configured providers and profiles.
func NewOrchestrator(store *state.Store, reg *registry.Registry, cfg *config.Config, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NewNop()
	}
	o := &Orchestrator{
		store:     store,
		reg:       reg,
		cfg:       cfg,
		artifacts: artifact.NewService(log.Named("artifact")),
		log:       log,
	}
	o.gate = approval.NewGate(o.resolveApproval, cfg.Workflow.MaxRetries, log.Named("gate"))
	return o
}

// resolveApproval maps a (phase, stage) position to the approval provider
// for its configured strategy.
func (o *Orchestrator) resolveApproval(phase state.Phase, stage state.Stage) (approval.Provider, error) {
	key := o.cfg.Approval.Prompt
	if stage == state.StageResponse {
		key = o.cfg.Approval.Response
	}
	return o.reg.ResolveApproval(key)
}

func (o *Orchestrator) responder() (provider.ResponseProvider, error) {
	return o.reg.ResolveResponse(o.cfg.Provider.Default)
}

// Init creates a new session: validates configuration keys and provider
// pre-flight before any state exists, then persists the initial state and
// writes the session's immutable standards bundle.
func (o *Orchestrator) Init(ctx context.Context, sessionID, profileID string, contextMap map[string]string) (*state.WorkflowState, error) {
	prof, err := o.reg.ResolveProfile(profileID)
	if err != nil {
		return nil, err
	}
	resp, err := o.responder()
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(ctx); err != nil {
		return nil, fmt.Errorf("response provider %s failed pre-flight validation: %w", resp.Name(), err)
	}
	// The strategy keys must resolve now, not at the first gate run.
	for _, stage := range []state.Stage{state.StagePrompt, state.StageResponse} {
		if _, err := o.resolveApproval(state.PhasePlan, stage); err != nil {
			return nil, err
		}
	}

	ws := state.NewWorkflowState(sessionID, profileID, contextMap)
	if err := o.store.Create(ws); err != nil {
		return nil, err
	}

	sessionDir, err := o.store.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	standards, err := prof.StandardsBundle(profile.Input{Context: ws.Context})
	if err != nil {
		return nil, fmt.Errorf("failed to build standards bundle: %w", err)
	}
	if err := writeSessionFile(sessionDir, standardsFile, standards); err != nil {
		return nil, err
	}

	o.log.Info(ctx, "session initialized",
		zap.String("session_id", sessionID),
		zap.String("profile", profileID),
		zap.String("provider", resp.Name()),
	)
	return ws, nil
}

// Handle runs one command against one session. An invalid command for the
// current state is rejected before any side effect. The returned state is
// the persisted state after the command, also on recoverable failures.
func (o *Orchestrator) Handle(ctx context.Context, sessionID string, cmd state.Command, opts CommandOptions) (*state.WorkflowState, error) {
	ctx = logging.WithSessionID(logging.WithCommand(ctx, string(cmd)), sessionID)

	ws, err := o.store.Load(sessionID)
	if err != nil {
		return nil, err
	}

	tr, err := transition.Lookup(ws.Phase, ws.Stage, cmd)
	if err != nil {
		return ws, err
	}

	sessionDir, err := o.store.SessionDir(sessionID)
	if err != nil {
		return ws, err
	}

	prof, err := o.reg.ResolveProfile(ws.ProfileID)
	if err != nil {
		return ws, err
	}

	// An externally supplied response must be present before any command
	// other than cancel can proceed.
	if ws.AwaitingContent && tr.Action != transition.ActionCancel {
		if !sessionFileExists(sessionDir, responseRel(ws.Phase, ws.Iteration)) {
			return ws, fmt.Errorf("%w: expected %s", ErrAwaitingContent, responseRel(ws.Phase, ws.Iteration))
		}
		outcome, err := o.intakeExternalResponse(ctx, sessionDir, ws, prof)
		if err != nil {
			return o.failCommand(ctx, ws, err)
		}
		if outcome == approval.GatePaused {
			// The supplied content was rejected; pause here instead of
			// running the command's action against it.
			if err := o.store.Save(ws); err != nil {
				return ws, err
			}
			return ws, nil
		}
	}

	var cmdErr error
	switch tr.Action {
	case transition.ActionCancel:
		ws.EnterTerminal(state.PhaseCancelled, state.StatusCancelled)
		o.log.Info(ctx, "session cancelled")

	case transition.ActionCreatePrompt:
		cmdErr = o.execCreatePrompt(ctx, sessionDir, ws, prof, tr.Next)

	case transition.ActionCallResponder:
		cmdErr = o.execCallResponder(ctx, sessionDir, ws, prof, tr.Next)

	case transition.ActionCheckVerdict:
		cmdErr = o.execCheckVerdict(ctx, sessionDir, ws, prof, tr)

	case transition.ActionRejectResponse:
		cmdErr = o.execReject(ctx, sessionDir, ws, prof, opts.Feedback)

	case transition.ActionRetryResponse:
		cmdErr = o.execRetry(ctx, sessionDir, ws, prof)

	default:
		cmdErr = fmt.Errorf("no executor for action %q", tr.Action)
	}

	if cmdErr != nil {
		return o.failCommand(ctx, ws, cmdErr)
	}

	if err := o.store.Save(ws); err != nil {
		return ws, err
	}
	if ws.AwaitingContent {
		return ws, fmt.Errorf("%w: supply %s and re-run", ErrAwaitingContent, responseRel(ws.Phase, ws.Iteration))
	}
	return ws, nil
}

// failCommand records a provider or executor failure on state without
// corrupting the session's position, persists it, and propagates the error.
func (o *Orchestrator) failCommand(ctx context.Context, ws *state.WorkflowState, cmdErr error) (*state.WorkflowState, error) {
	ws.RecordError(cmdErr.Error())
	o.log.Error(ctx, "command failed", zap.Error(cmdErr))
	if err := o.store.Save(ws); err != nil {
		return ws, errors.Join(cmdErr, err)
	}
	return ws, cmdErr
}

// approveCurrent performs the approval-time bookkeeping for the content at
// the session's current position: artifact hashes are computed now, never
// at creation time.
func (o *Orchestrator) approveCurrent(ctx context.Context, sessionDir string, ws *state.WorkflowState) error {
	if ws.Stage == state.StageNone {
		return nil
	}
	return o.artifacts.HashIteration(ctx, sessionDir, ws, ws.Iteration)
}

// promptInput assembles the profile input for prompt construction from the
// session's durable files.
func (o *Orchestrator) promptInput(sessionDir string, ws *state.WorkflowState, review string) (profile.Input, error) {
	plan, err := readSessionFileIfExists(sessionDir, planFile)
	if err != nil {
		return profile.Input{}, err
	}
	standards, err := readSessionFileIfExists(sessionDir, standardsFile)
	if err != nil {
		return profile.Input{}, err
	}
	return profile.Input{
		Context:   ws.Context,
		Iteration: ws.Iteration,
		Plan:      plan,
		Standards: standards,
		Review:    review,
	}, nil
}

// recordArtifact registers a session-relative path once; retries rewrite
// content in place without duplicating the record.
func (o *Orchestrator) recordArtifact(ws *state.WorkflowState, rel string) {
	for _, a := range ws.Artifacts {
		if a.Path == rel && a.Iteration == ws.Iteration {
			return
		}
	}
	ws.AddArtifact(rel)
}

// execCreatePrompt handles the approve command out of a RESPONSE stage (and
// the initial step): the current content is approved and hashed, the
// session-root plan is promoted if this approval is the plan response, and
// the next phase's prompt is produced and gated.
func (o *Orchestrator) execCreatePrompt(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile, next transition.Target) error {
	if err := o.approveCurrent(ctx, sessionDir, ws); err != nil {
		return err
	}

	// The approved plan response becomes the session-root plan, written
	// once and never regenerated.
	if ws.Phase == state.PhasePlan && ws.Stage == state.StageResponse && !sessionFileExists(sessionDir, planFile) {
		planText, err := readSessionFile(sessionDir, responseRel(state.PhasePlan, ws.Iteration))
		if err != nil {
			return err
		}
		if err := writeSessionFile(sessionDir, planFile, planText); err != nil {
			return err
		}
	}

	return o.producePrompt(ctx, sessionDir, ws, prof, next.Phase, "")
}

// producePrompt renders, writes, and gates the prompt for the given phase,
// committing the stage change before the gate runs so rejection feedback
// lands on the new stage's cleared bookkeeping.
func (o *Orchestrator) producePrompt(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile, phase state.Phase, review string) error {
	in, err := o.promptInput(sessionDir, ws, review)
	if err != nil {
		return err
	}
	text, err := prof.PromptFor(phase, in)
	if err != nil {
		return err
	}

	rel := promptRel(phase, ws.Iteration)
	if err := writeSessionFile(sessionDir, rel, text); err != nil {
		return err
	}

	ws.EnterStage(phase, state.StagePrompt)
	ws.Status = state.StatusInProgress
	ws.LastError = ""
	o.recordArtifact(ws, rel)

	var regen approval.RegenerateFunc
	if prof.Capabilities().RegeneratePrompts {
		regen = func(ctx context.Context, feedback, suggested string) (string, error) {
			text, err := prof.PromptFor(phase, in)
			if err != nil {
				return "", err
			}
			if err := writeSessionFile(sessionDir, rel, text); err != nil {
				return "", err
			}
			return text, nil
		}
	}

	outcome, err := o.gate.Run(ctx, approval.GateRequest{
		State:      ws,
		Phase:      phase,
		Stage:      state.StagePrompt,
		Content:    text,
		Regenerate: regen,
	})
	if err != nil {
		return err
	}
	o.log.Info(ctx, "prompt produced",
		zap.String("phase", string(phase)),
		zap.String("path", rel),
		zap.String("gate", string(outcome)),
	)
	return nil
}

// execCallResponder handles the approve command out of a PROMPT stage:
// the prompt is approved and hashed, the response provider is invoked, and
// the produced response is written and gated.
func (o *Orchestrator) execCallResponder(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile, next transition.Target) error {
	if err := o.approveCurrent(ctx, sessionDir, ws); err != nil {
		return err
	}

	resp, err := o.responder()
	if err != nil {
		return err
	}

	promptText, err := readSessionFile(sessionDir, promptRel(ws.Phase, ws.Iteration))
	if err != nil {
		return err
	}

	req := provider.Request{
		Prompt:  promptText,
		Context: ws.Context,
		WorkDir: filepath.Join(sessionDir, iterationRel(ws.Iteration)),
		Timeout: o.cfg.Claude.Timeout,
	}

	result, err := resp.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("response provider %s: %w", resp.Name(), err)
	}

	if result.IsDeferred() {
		// The workflow still advances to RESPONSE; an external actor must
		// supply the response file before the next command can succeed.
		ws.EnterStage(next.Phase, state.StageResponse)
		ws.Status = state.StatusInProgress
		ws.LastError = ""
		ws.AwaitingContent = true
		o.log.Info(ctx, "response deferred to external actor",
			zap.String("phase", string(next.Phase)),
			zap.String("expected", responseRel(next.Phase, ws.Iteration)),
		)
		return nil
	}

	return o.acceptResponse(ctx, sessionDir, ws, prof, next.Phase, resp, req, result)
}

// acceptResponse writes a produced response and its extracted files,
// commits the stage change, and runs the gate with an automatic
// regeneration path through the same provider.
func (o *Orchestrator) acceptResponse(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile, phase state.Phase, resp provider.ResponseProvider, req provider.Request, result *provider.Response) error {
	ws.EnterStage(phase, state.StageResponse)
	ws.Status = state.StatusInProgress
	ws.LastError = ""
	ws.AwaitingContent = false

	if err := o.writeResponse(ctx, sessionDir, ws, prof, result); err != nil {
		return err
	}

	regen := func(ctx context.Context, feedback, suggested string) (string, error) {
		r := req
		r.Feedback = feedback
		r.SuggestedContent = suggested
		next, err := resp.Generate(ctx, r)
		if err != nil {
			return "", err
		}
		if next.IsDeferred() {
			return "", fmt.Errorf("provider %s deferred during automatic regeneration", resp.Name())
		}
		if err := o.writeResponse(ctx, sessionDir, ws, prof, next); err != nil {
			return "", err
		}
		return next.Content, nil
	}

	outcome, err := o.gate.Run(ctx, approval.GateRequest{
		State:      ws,
		Phase:      phase,
		Stage:      state.StageResponse,
		Content:    result.Content,
		Regenerate: regen,
	})
	if err != nil {
		return err
	}

	// Content approved at production time is locked into the audit trail
	// immediately; pending content is hashed when the external approve
	// command lands.
	if outcome == approval.GateApproved {
		if err := o.artifacts.HashIteration(ctx, sessionDir, ws, ws.Iteration); err != nil {
			return err
		}
	}
	o.log.Info(ctx, "response produced",
		zap.String("phase", string(phase)),
		zap.String("provider", resp.Name()),
		zap.String("gate", string(outcome)),
	)
	return nil
}

// writeResponse persists response text, extracts any declared files into
// the iteration directory, and records artifacts. Confirmed provider
// writes are recorded too; attempted-but-unconfirmed writes are logged.
func (o *Orchestrator) writeResponse(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile, result *provider.Response) error {
	rel := responseRel(ws.Phase, ws.Iteration)
	if err := writeSessionFile(sessionDir, rel, result.Content); err != nil {
		return err
	}
	o.recordArtifact(ws, rel)

	parsed, err := prof.ParseResponse(ws.Phase, result.Content)
	if err != nil {
		return fmt.Errorf("failed to parse %s response: %w", ws.Phase, err)
	}
	for _, f := range parsed.Files {
		fileRel := filepath.Join(iterationRel(ws.Iteration), f.Path)
		if err := writeSessionFile(sessionDir, fileRel, f.Content); err != nil {
			return err
		}
		o.recordArtifact(ws, fileRel)
	}

	for _, w := range result.Files {
		fileRel := filepath.Join(iterationRel(ws.Iteration), w.Path)
		if !w.Confirmed {
			o.log.Warn(ctx, "provider write attempted but not confirmed",
				zap.String("path", fileRel),
			)
		}
		if sessionFileExists(sessionDir, fileRel) {
			o.recordArtifact(ws, fileRel)
		}
	}
	return nil
}

// intakeExternalResponse absorbs a response file supplied by an external
// actor while the session was awaiting content, then gates it under the
// stage's configured strategy.
func (o *Orchestrator) intakeExternalResponse(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile) (approval.GateOutcome, error) {
	rel := responseRel(ws.Phase, ws.Iteration)
	text, err := readSessionFile(sessionDir, rel)
	if err != nil {
		return "", err
	}

	ws.AwaitingContent = false
	o.recordArtifact(ws, rel)

	parsed, err := prof.ParseResponse(ws.Phase, text)
	if err != nil {
		return "", fmt.Errorf("failed to parse supplied %s response: %w", ws.Phase, err)
	}
	for _, f := range parsed.Files {
		fileRel := filepath.Join(iterationRel(ws.Iteration), f.Path)
		if err := writeSessionFile(sessionDir, fileRel, f.Content); err != nil {
			return "", err
		}
		o.recordArtifact(ws, fileRel)
	}

	// No regeneration path exists for externally supplied content.
	outcome, err := o.gate.Run(ctx, approval.GateRequest{
		State:   ws,
		Phase:   ws.Phase,
		Stage:   ws.Stage,
		Content: text,
	})
	if err != nil {
		return "", err
	}
	o.log.Info(ctx, "external response absorbed",
		zap.String("path", rel),
		zap.String("gate", string(outcome)),
	)
	return outcome, nil
}

// execCheckVerdict resolves the review branch: the review response is
// approved and hashed, then its verdict decides completion or another
// iteration. An unparsable verdict is recorded on state and leaves the
// session paused in place.
func (o *Orchestrator) execCheckVerdict(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile, tr transition.Transition) error {
	if err := o.approveCurrent(ctx, sessionDir, ws); err != nil {
		return err
	}

	review, err := readSessionFile(sessionDir, responseRel(state.PhaseReview, ws.Iteration))
	if err != nil {
		return err
	}
	parsed, err := prof.ParseResponse(state.PhaseReview, review)
	if err != nil {
		return err
	}
	if parsed.Verdict == nil {
		// Recoverable: stay in place, record the failure, await manual
		// intervention. Not an error.
		ws.LastError = "could not parse verdict from review response"
		ws.Status = state.StatusInProgress
		o.log.Warn(ctx, "review verdict unparsable, pausing for manual intervention")
		return nil
	}

	if *parsed.Verdict == profile.VerdictPass {
		ws.EnterTerminal(state.PhaseComplete, state.StatusSuccess)
		ws.LastError = ""
		o.log.Info(ctx, "review passed, session complete",
			zap.Int("iteration", ws.Iteration),
		)
		return nil
	}

	// Failed review opens the next iteration. An iteration whose content
	// is identical to the previous one is worth flagging before more work
	// is spent on it.
	if o.artifacts.IterationUnchanged(ws, ws.Iteration) {
		o.log.Warn(ctx, "iteration content identical to previous iteration",
			zap.Int("iteration", ws.Iteration),
		)
	}
	if tr.IncrementIteration {
		ws.Iteration++
	}
	o.log.Info(ctx, "review failed, opening revision",
		zap.Int("iteration", ws.Iteration),
	)
	return o.producePrompt(ctx, sessionDir, ws, prof, tr.OnFail.Phase, review)
}

// execReject handles an external rejection of the current response: the
// retry counter advances, feedback is recorded, and regeneration is
// attempted while the bound allows.
func (o *Orchestrator) execReject(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile, feedback string) error {
	if feedback == "" {
		feedback = "rejected by operator"
	}
	ws.RetryCount++
	ws.ApprovalFeedback = feedback
	ws.SuggestedContent = ""
	ws.Status = state.StatusInProgress
	ws.LastError = ""

	if ws.RetryCount > o.gate.MaxRetries() {
		o.log.Info(ctx, "rejection recorded, retries exhausted, pausing",
			zap.Int("retry_count", ws.RetryCount),
		)
		return nil
	}
	return o.regenerateInPlace(ctx, sessionDir, ws, prof)
}

// execRetry re-invokes the response provider in place, folding any
// recorded feedback into the request. The retry counter is untouched; an
// operator-driven retry is not an automatic one.
func (o *Orchestrator) execRetry(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile) error {
	ws.Status = state.StatusInProgress
	ws.LastError = ""
	return o.regenerateInPlace(ctx, sessionDir, ws, prof)
}

// regenerateInPlace re-invokes the responder for the current RESPONSE
// stage and gates the fresh content without a stage change, so recorded
// retry bookkeeping survives.
func (o *Orchestrator) regenerateInPlace(ctx context.Context, sessionDir string, ws *state.WorkflowState, prof profile.Profile) error {
	resp, err := o.responder()
	if err != nil {
		return err
	}
	promptText, err := readSessionFile(sessionDir, promptRel(ws.Phase, ws.Iteration))
	if err != nil {
		return err
	}

	req := provider.Request{
		Prompt:           promptText,
		Context:          ws.Context,
		WorkDir:          filepath.Join(sessionDir, iterationRel(ws.Iteration)),
		Feedback:         ws.ApprovalFeedback,
		SuggestedContent: ws.SuggestedContent,
		Timeout:          o.cfg.Claude.Timeout,
	}
	result, err := resp.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("response provider %s: %w", resp.Name(), err)
	}
	if result.IsDeferred() {
		ws.AwaitingContent = true
		o.log.Info(ctx, "regeneration deferred to external actor",
			zap.String("expected", responseRel(ws.Phase, ws.Iteration)),
		)
		return nil
	}

	if err := o.writeResponse(ctx, sessionDir, ws, prof, result); err != nil {
		return err
	}

	outcome, err := o.gate.Run(ctx, approval.GateRequest{
		State:   ws,
		Phase:   ws.Phase,
		Stage:   ws.Stage,
		Content: result.Content,
	})
	if err != nil {
		return err
	}
	if outcome == approval.GateApproved {
		if err := o.artifacts.HashIteration(ctx, sessionDir, ws, ws.Iteration); err != nil {
			return err
		}
	}
	o.log.Info(ctx, "response regenerated in place",
		zap.String("gate", string(outcome)),
	)
	return nil
}
