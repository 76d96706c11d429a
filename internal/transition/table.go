// Package transition encodes the workflow transition table: a pure, total
// function over (phase, stage, command) with no side effects. The
// orchestrator consults it before any action runs, so malformed commands
// are rejected without touching state or the filesystem.
package transition

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// ErrInvalidCommand marks a command with no table entry for the current
// (phase, stage) pair.
var ErrInvalidCommand = errors.New("command not valid for current workflow state")

// Action names the work an executor performs for a transition.
type Action string

const (
	// ActionCreatePrompt asks the profile for prompt text and writes it.
	ActionCreatePrompt Action = "create_prompt"

	// ActionCallResponder invokes the configured response provider.
	ActionCallResponder Action = "call_response_provider"

	// ActionCheckVerdict parses the review response for pass/fail and
	// resolves the REVIEW[RESPONSE] branch.
	ActionCheckVerdict Action = "check_verdict"

	// ActionFinalize performs terminal bookkeeping for COMPLETE.
	ActionFinalize Action = "finalize"

	// ActionCancel performs terminal bookkeeping for CANCELLED.
	ActionCancel Action = "cancel"

	// ActionRejectResponse records an external rejection of the current
	// response and hands it to the approval gate's retry handling.
	ActionRejectResponse Action = "reject_response"

	// ActionRetryResponse re-invokes the response provider in place.
	ActionRetryResponse Action = "retry_response"
)

// Target is a (phase, stage) position.
type Target struct {
	Phase state.Phase
	Stage state.Stage
}

// Transition is one table entry. For the verdict branch (REVIEW[RESPONSE]
// approve), Next is unset and OnPass/OnFail carry the two outcomes; the
// fail branch increments the iteration.
type Transition struct {
	Command state.Command
	Action  Action

	Next   Target
	OnPass *Target
	OnFail *Target

	// IncrementIteration applies to the OnFail branch only.
	IncrementIteration bool
}

// Branching reports whether the transition resolves through a verdict.
func (t Transition) Branching() bool {
	return t.OnPass != nil && t.OnFail != nil
}

type key struct {
	phase state.Phase
	stage state.Stage
}

// table holds every legal transition. Commands absent for a key are invalid
// for that (phase, stage).
var table = map[key]map[state.Command]Transition{
	{state.PhaseInit, state.StageNone}: {
		state.CommandStep: {
			Command: state.CommandStep,
			Action:  ActionCreatePrompt,
			Next:    Target{state.PhasePlan, state.StagePrompt},
		},
		state.CommandCancel: cancelTransition(),
	},

	{state.PhasePlan, state.StagePrompt}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCallResponder,
			Next:    Target{state.PhasePlan, state.StageResponse},
		},
		state.CommandCancel: cancelTransition(),
	},
	{state.PhasePlan, state.StageResponse}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCreatePrompt,
			Next:    Target{state.PhaseGenerate, state.StagePrompt},
		},
		state.CommandReject: rejectTransition(state.PhasePlan),
		state.CommandRetry:  retryTransition(state.PhasePlan),
		state.CommandCancel: cancelTransition(),
	},

	{state.PhaseGenerate, state.StagePrompt}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCallResponder,
			Next:    Target{state.PhaseGenerate, state.StageResponse},
		},
		state.CommandCancel: cancelTransition(),
	},
	{state.PhaseGenerate, state.StageResponse}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCreatePrompt,
			Next:    Target{state.PhaseReview, state.StagePrompt},
		},
		state.CommandReject: rejectTransition(state.PhaseGenerate),
		state.CommandRetry:  retryTransition(state.PhaseGenerate),
		state.CommandCancel: cancelTransition(),
	},

	{state.PhaseReview, state.StagePrompt}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCallResponder,
			Next:    Target{state.PhaseReview, state.StageResponse},
		},
		state.CommandCancel: cancelTransition(),
	},
	{state.PhaseReview, state.StageResponse}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCheckVerdict,
			OnPass:  &Target{state.PhaseComplete, state.StageNone},
			OnFail:  &Target{state.PhaseRevise, state.StagePrompt},
			// A failed review opens the next iteration.
			IncrementIteration: true,
		},
		state.CommandReject: rejectTransition(state.PhaseReview),
		state.CommandRetry:  retryTransition(state.PhaseReview),
		state.CommandCancel: cancelTransition(),
	},

	{state.PhaseRevise, state.StagePrompt}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCallResponder,
			Next:    Target{state.PhaseRevise, state.StageResponse},
		},
		state.CommandCancel: cancelTransition(),
	},
	{state.PhaseRevise, state.StageResponse}: {
		state.CommandApprove: {
			Command: state.CommandApprove,
			Action:  ActionCreatePrompt,
			// Revised content goes back to review; iteration unchanged.
			Next: Target{state.PhaseReview, state.StagePrompt},
		},
		state.CommandReject: rejectTransition(state.PhaseRevise),
		state.CommandRetry:  retryTransition(state.PhaseRevise),
		state.CommandCancel: cancelTransition(),
	},
}

func cancelTransition() Transition {
	return Transition{
		Command: state.CommandCancel,
		Action:  ActionCancel,
		Next:    Target{state.PhaseCancelled, state.StageNone},
	}
}

func rejectTransition(phase state.Phase) Transition {
	return Transition{
		Command: state.CommandReject,
		Action:  ActionRejectResponse,
		Next:    Target{phase, state.StageResponse},
	}
}

func retryTransition(phase state.Phase) Transition {
	return Transition{
		Command: state.CommandRetry,
		Action:  ActionRetryResponse,
		Next:    Target{phase, state.StageResponse},
	}
}

// Lookup returns the transition for (phase, stage, cmd), or ErrInvalidCommand
// when no entry exists. Terminal phases have no entries at all.
func Lookup(phase state.Phase, stage state.Stage, cmd state.Command) (Transition, error) {
	cmds, ok := table[key{phase, stage}]
	if !ok {
		return Transition{}, fmt.Errorf("%w: no commands accepted in %s", ErrInvalidCommand, describe(phase, stage))
	}
	tr, ok := cmds[cmd]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %q not accepted in %s (valid: %v)",
			ErrInvalidCommand, cmd, describe(phase, stage), ValidCommands(phase, stage))
	}
	return tr, nil
}

// ValidCommands returns the commands with a table entry for (phase, stage),
// in the canonical command order. Terminal phases return nil.
func ValidCommands(phase state.Phase, stage state.Stage) []state.Command {
	cmds, ok := table[key{phase, stage}]
	if !ok {
		return nil
	}
	var out []state.Command
	for _, c := range state.AllCommands() {
		if _, ok := cmds[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func describe(phase state.Phase, stage state.Stage) string {
	if stage == state.StageNone {
		return string(phase)
	}
	return fmt.Sprintf("%s[%s]", phase, stage)
}
