package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// pair is a (phase, stage) position used to sweep the full table.
type pair struct {
	phase state.Phase
	stage state.Stage
}

func allPairs() []pair {
	return []pair{
		{state.PhaseInit, state.StageNone},
		{state.PhasePlan, state.StagePrompt},
		{state.PhasePlan, state.StageResponse},
		{state.PhaseGenerate, state.StagePrompt},
		{state.PhaseGenerate, state.StageResponse},
		{state.PhaseReview, state.StagePrompt},
		{state.PhaseReview, state.StageResponse},
		{state.PhaseRevise, state.StagePrompt},
		{state.PhaseRevise, state.StageResponse},
		{state.PhaseComplete, state.StageNone},
		{state.PhaseError, state.StageNone},
		{state.PhaseCancelled, state.StageNone},
	}
}

// TestLookup_FullCoverage sweeps every (phase, stage, command) triple and
// pins the expected outcome, so any table edit shows up here.
func TestLookup_FullCoverage(t *testing.T) {
	type expect struct {
		action Action
		next   Target
	}
	// Expected non-branching entries; the verdict branch is pinned separately.
	valid := map[pair]map[state.Command]expect{
		{state.PhaseInit, state.StageNone}: {
			state.CommandStep:   {ActionCreatePrompt, Target{state.PhasePlan, state.StagePrompt}},
			state.CommandCancel: {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhasePlan, state.StagePrompt}: {
			state.CommandApprove: {ActionCallResponder, Target{state.PhasePlan, state.StageResponse}},
			state.CommandCancel:  {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhasePlan, state.StageResponse}: {
			state.CommandApprove: {ActionCreatePrompt, Target{state.PhaseGenerate, state.StagePrompt}},
			state.CommandReject:  {ActionRejectResponse, Target{state.PhasePlan, state.StageResponse}},
			state.CommandRetry:   {ActionRetryResponse, Target{state.PhasePlan, state.StageResponse}},
			state.CommandCancel:  {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhaseGenerate, state.StagePrompt}: {
			state.CommandApprove: {ActionCallResponder, Target{state.PhaseGenerate, state.StageResponse}},
			state.CommandCancel:  {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhaseGenerate, state.StageResponse}: {
			state.CommandApprove: {ActionCreatePrompt, Target{state.PhaseReview, state.StagePrompt}},
			state.CommandReject:  {ActionRejectResponse, Target{state.PhaseGenerate, state.StageResponse}},
			state.CommandRetry:   {ActionRetryResponse, Target{state.PhaseGenerate, state.StageResponse}},
			state.CommandCancel:  {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhaseReview, state.StagePrompt}: {
			state.CommandApprove: {ActionCallResponder, Target{state.PhaseReview, state.StageResponse}},
			state.CommandCancel:  {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhaseReview, state.StageResponse}: {
			state.CommandReject: {ActionRejectResponse, Target{state.PhaseReview, state.StageResponse}},
			state.CommandRetry:  {ActionRetryResponse, Target{state.PhaseReview, state.StageResponse}},
			state.CommandCancel: {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhaseRevise, state.StagePrompt}: {
			state.CommandApprove: {ActionCallResponder, Target{state.PhaseRevise, state.StageResponse}},
			state.CommandCancel:  {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
		{state.PhaseRevise, state.StageResponse}: {
			state.CommandApprove: {ActionCreatePrompt, Target{state.PhaseReview, state.StagePrompt}},
			state.CommandReject:  {ActionRejectResponse, Target{state.PhaseRevise, state.StageResponse}},
			state.CommandRetry:   {ActionRetryResponse, Target{state.PhaseRevise, state.StageResponse}},
			state.CommandCancel:  {ActionCancel, Target{state.PhaseCancelled, state.StageNone}},
		},
	}

	for _, p := range allPairs() {
		for _, cmd := range state.AllCommands() {
			tr, err := Lookup(p.phase, p.stage, cmd)

			// REVIEW[RESPONSE] approve is the branching entry.
			if p.phase == state.PhaseReview && p.stage == state.StageResponse && cmd == state.CommandApprove {
				require.NoError(t, err)
				assert.Equal(t, ActionCheckVerdict, tr.Action)
				require.True(t, tr.Branching())
				assert.Equal(t, Target{state.PhaseComplete, state.StageNone}, *tr.OnPass)
				assert.Equal(t, Target{state.PhaseRevise, state.StagePrompt}, *tr.OnFail)
				assert.True(t, tr.IncrementIteration)
				continue
			}

			want, ok := valid[p][cmd]
			if !ok {
				assert.ErrorIs(t, err, ErrInvalidCommand, "%s[%s] %s should be invalid", p.phase, p.stage, cmd)
				continue
			}
			require.NoError(t, err, "%s[%s] %s", p.phase, p.stage, cmd)
			assert.Equal(t, want.action, tr.Action, "%s[%s] %s", p.phase, p.stage, cmd)
			assert.Equal(t, want.next, tr.Next, "%s[%s] %s", p.phase, p.stage, cmd)
			assert.False(t, tr.Branching())
		}
	}
}

func TestValidCommands_MatchesLookup(t *testing.T) {
	for _, p := range allPairs() {
		valid := ValidCommands(p.phase, p.stage)
		seen := make(map[state.Command]bool)
		for _, c := range valid {
			seen[c] = true
		}
		for _, cmd := range state.AllCommands() {
			_, err := Lookup(p.phase, p.stage, cmd)
			if seen[cmd] {
				assert.NoError(t, err, "%s[%s] %s listed valid but lookup fails", p.phase, p.stage, cmd)
			} else {
				assert.Error(t, err, "%s[%s] %s not listed but lookup succeeds", p.phase, p.stage, cmd)
			}
		}
	}
}

func TestValidCommands_TerminalPhasesEmpty(t *testing.T) {
	assert.Nil(t, ValidCommands(state.PhaseComplete, state.StageNone))
	assert.Nil(t, ValidCommands(state.PhaseError, state.StageNone))
	assert.Nil(t, ValidCommands(state.PhaseCancelled, state.StageNone))
}

func TestValidCommands_RejectRetryOnlyInResponse(t *testing.T) {
	for _, p := range allPairs() {
		for _, cmd := range []state.Command{state.CommandReject, state.CommandRetry} {
			_, err := Lookup(p.phase, p.stage, cmd)
			if p.stage == state.StageResponse {
				assert.NoError(t, err, "%s[%s] %s", p.phase, p.stage, cmd)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCommand, "%s[%s] %s", p.phase, p.stage, cmd)
			}
		}
	}
}

func TestValidCommands_CancelFromAnyNonTerminal(t *testing.T) {
	for _, p := range allPairs() {
		_, err := Lookup(p.phase, p.stage, state.CommandCancel)
		if p.phase.Terminal() {
			assert.ErrorIs(t, err, ErrInvalidCommand, "%s", p.phase)
		} else {
			assert.NoError(t, err, "%s[%s]", p.phase, p.stage)
		}
	}
}

func TestLookup_InvalidCommandMessageListsValid(t *testing.T) {
	_, err := Lookup(state.PhasePlan, state.StagePrompt, state.CommandRetry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approve")
	assert.Contains(t, err.Error(), "PLAN[PROMPT]")
}
