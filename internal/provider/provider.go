// Package provider defines the response-provider contract: a strategy that
// turns an assembled prompt into content, or signals that an external actor
// will supply the content instead.
//
// Providers are selected by name through the registry at session
// initialization; unknown names fail configuration validation before any
// phase work begins.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FSAccess is the declared filesystem-access level of a provider. It
// determines how an assembled prompt instructs content delivery.
type FSAccess string

const (
	// FSAccessNone means the provider cannot touch the workspace; content
	// must come back inline.
	FSAccessNone FSAccess = "none"

	// FSAccessReadOnly means the provider can read the workspace but must
	// return new content inline.
	FSAccessReadOnly FSAccess = "read-only"

	// FSAccessDirectWrite means the provider writes files into the
	// workspace itself and reports what it wrote.
	FSAccessDirectWrite FSAccess = "direct-write"
)

// DeliveryInstruction returns the prompt fragment describing how produced
// content should be delivered for this access level.
func (a FSAccess) DeliveryInstruction() string {
	switch a {
	case FSAccessDirectWrite:
		return "Write output files directly into the working directory at the paths given above."
	case FSAccessReadOnly:
		return "You may read the working directory, but return all produced content inline in your reply."
	default:
		return "Return all produced content inline in your reply."
	}
}

// Capabilities is the declarative metadata a provider exposes.
type Capabilities struct {
	// FSAccess is the provider's filesystem-access level.
	FSAccess FSAccess

	// AcceptsFeedback reports whether rejection feedback folded into the
	// request influences regeneration.
	AcceptsFeedback bool

	// ReportsWrites reports whether the provider tracks which files it
	// wrote during a call.
	ReportsWrites bool
}

// Outcome tags a Response as produced content or a deferred completion.
type Outcome string

const (
	OutcomeProduced Outcome = "produced"
	OutcomeDeferred Outcome = "deferred"
)

// FileWrite records one file the provider touched during a call.
// Confirmed distinguishes a write the agent attempted from one the agent's
// own tooling acknowledged as applied.
type FileWrite struct {
	Path      string `json:"path"`
	Confirmed bool   `json:"confirmed"`
}

// Response is the tagged result of a Generate call: either produced content
// (possibly with tracked file writes), or a deferred completion meaning an
// external actor must supply the content.
type Response struct {
	Outcome Outcome
	Content string
	Files   []FileWrite
}

// Produced returns a response carrying inline content.
func Produced(content string) *Response {
	return &Response{Outcome: OutcomeProduced, Content: content}
}

// ProducedFiles returns a response carrying content plus tracked writes.
func ProducedFiles(content string, files []FileWrite) *Response {
	return &Response{Outcome: OutcomeProduced, Content: content, Files: files}
}

// Deferred returns a response signaling manual completion.
func Deferred() *Response {
	return &Response{Outcome: OutcomeDeferred}
}

// IsDeferred reports whether the response defers to external completion.
func (r *Response) IsDeferred() bool {
	return r.Outcome == OutcomeDeferred
}

// Request carries everything a provider needs for one Generate call.
type Request struct {
	// Prompt is the phase prompt text produced by the profile.
	Prompt string

	// Context is the session's opaque domain parameter map.
	Context map[string]string

	// WorkDir is the iteration directory the provider may read or write,
	// subject to its access level.
	WorkDir string

	// Feedback is the last rejection reason, folded in on retries.
	Feedback string

	// SuggestedContent is an optional replacement hint from an approval
	// provider, folded in on retries.
	SuggestedContent string

	// Timeout bounds the call. Zero means the provider's own default.
	Timeout time.Duration
}

// AssemblePrompt builds the full prompt text for a call: the phase prompt,
// any retry feedback, and the delivery instruction for the given access
// level.
func (r Request) AssemblePrompt(access FSAccess) string {
	var b strings.Builder
	b.WriteString(r.Prompt)
	if r.Feedback != "" {
		b.WriteString("\n\n## Reviewer feedback on the previous attempt\n")
		b.WriteString(r.Feedback)
		b.WriteString("\nAddress this feedback in the regenerated output.")
	}
	if r.SuggestedContent != "" {
		b.WriteString("\n\n## Suggested replacement content\n")
		b.WriteString(r.SuggestedContent)
	}
	b.WriteString("\n\n")
	b.WriteString(access.DeliveryInstruction())
	return b.String()
}

// ResponseProvider turns a prompt into content or defers to an external
// actor. Validate runs once at session initialization to fail fast on
// missing credentials or binaries.
type ResponseProvider interface {
	Name() string
	Capabilities() Capabilities
	Validate(ctx context.Context) error
	Generate(ctx context.Context, req Request) (*Response, error)
}

// TimeoutError marks a provider call that exceeded its timeout. Callers
// treat it as a recoverable failure, never a silent hang.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Provider, e.Timeout)
}
