// Package profile defines the capability the workflow core consumes from a
// domain profile: produce prompt text for a phase, parse response text into
// files to write and/or a verdict, and declare expected output files. The
// core never parses domain content itself.
package profile

import (
	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// Verdict is the pass/fail outcome extracted from a REVIEW response. It
// governs the REVIEW → {COMPLETE, REVISE} branch.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// Input carries the session material a profile may draw on when building a
// prompt or the standards bundle.
type Input struct {
	// Context is the session's opaque domain parameter map.
	Context map[string]string

	// Iteration is the current iteration number.
	Iteration int

	// Plan is the approved plan content; empty until the plan response is
	// approved.
	Plan string

	// Standards is the session's immutable standards bundle.
	Standards string

	// Review is the latest review response, used by REVISE prompts.
	Review string
}

// ExtractedFile is one (relative file name, content) pair parsed from a
// response.
type ExtractedFile struct {
	Path    string
	Content string
}

// ParsedResponse is the structured result of parsing response text.
// A nil Verdict on a REVIEW response means the verdict could not be
// parsed; the caller records that as a recoverable condition.
type ParsedResponse struct {
	Files   []ExtractedFile
	Verdict *Verdict
}

// Capabilities is the declarative metadata a profile exposes.
type Capabilities struct {
	// RegeneratePrompts reports whether rejected prompt-stage content may
	// be regenerated automatically. Without it, a prompt rejection pauses
	// for manual edit-and-retry.
	RegeneratePrompts bool
}

// Profile is the external collaborator supplying domain content handling.
type Profile interface {
	ID() string
	Capabilities() Capabilities

	// PromptFor produces the prompt text for a phase.
	PromptFor(phase state.Phase, in Input) (string, error)

	// ParseResponse parses response text for a phase.
	ParseResponse(phase state.Phase, text string) (*ParsedResponse, error)

	// ExpectedFiles declares the output file names a phase should produce,
	// or nil when the phase has no fixed expectation.
	ExpectedFiles(phase state.Phase) []string

	// StandardsBundle renders the immutable standards document written
	// once at session initialization and referenced by later phases.
	StandardsBundle(in Input) (string, error)
}
