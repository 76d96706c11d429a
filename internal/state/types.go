package state

import (
	"fmt"
	"time"
)

// Phase is the coarse position of a session in the workflow.
type Phase string

const (
	PhaseInit      Phase = "INIT"
	PhasePlan      Phase = "PLAN"
	PhaseGenerate  Phase = "GENERATE"
	PhaseReview    Phase = "REVIEW"
	PhaseRevise    Phase = "REVISE"
	PhaseComplete  Phase = "COMPLETE"
	PhaseError     Phase = "ERROR"
	PhaseCancelled Phase = "CANCELLED"
)

// AllPhases returns every phase in workflow order, terminal phases last.
func AllPhases() []Phase {
	return []Phase{
		PhaseInit, PhasePlan, PhaseGenerate, PhaseReview, PhaseRevise,
		PhaseComplete, PhaseError, PhaseCancelled,
	}
}

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseError, PhaseCancelled:
		return true
	}
	return false
}

// Valid reports whether p is a member of the closed phase set.
func (p Phase) Valid() bool {
	switch p {
	case PhaseInit, PhasePlan, PhaseGenerate, PhaseReview, PhaseRevise,
		PhaseComplete, PhaseError, PhaseCancelled:
		return true
	}
	return false
}

// Stage is the position within a working phase: a prompt awaiting
// completion, or a response awaiting approval. Terminal phases and INIT
// carry no stage.
type Stage string

const (
	StageNone     Stage = ""
	StagePrompt   Stage = "PROMPT"
	StageResponse Stage = "RESPONSE"
)

// Status describes the outcome of the last operation on the session.
// It is orthogonal to Phase.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusError      Status = "ERROR"
	StatusCancelled  Status = "CANCELLED"
)

// Command is one of the workflow commands accepted by the orchestrator.
type Command string

const (
	CommandStep    Command = "step"
	CommandApprove Command = "approve"
	CommandReject  Command = "reject"
	CommandRetry   Command = "retry"
	CommandCancel  Command = "cancel"
)

// AllCommands returns the closed command set.
func AllCommands() []Command {
	return []Command{CommandStep, CommandApprove, CommandReject, CommandRetry, CommandCancel}
}

// Valid reports whether c is a member of the closed command set.
func (c Command) Valid() bool {
	switch c {
	case CommandStep, CommandApprove, CommandReject, CommandRetry, CommandCancel:
		return true
	}
	return false
}

// Artifact records one tracked output file. Hash is empty until an approval
// action computes it; deferred hashing lets content be edited before it is
// locked into the audit trail.
type Artifact struct {
	Path      string    `json:"path"`
	Phase     Phase     `json:"phase"`
	Iteration int       `json:"iteration"`
	Hash      string    `json:"hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowState is the durable record of one session. It is created once at
// INIT and mutated only by the orchestrator.
type WorkflowState struct {
	SessionID string            `json:"session_id"`
	ProfileID string            `json:"profile_id"`
	Context   map[string]string `json:"context,omitempty"`

	Phase     Phase  `json:"phase"`
	Stage     Stage  `json:"stage,omitempty"`
	Iteration int    `json:"iteration"`
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`

	// Approval bookkeeping. The three fields below are cleared together,
	// atomically, whenever the stage changes.
	RetryCount       int    `json:"retry_count"`
	ApprovalFeedback string `json:"approval_feedback,omitempty"`
	SuggestedContent string `json:"suggested_content,omitempty"`

	// AwaitingContent marks a RESPONSE stage whose content must be supplied
	// by an external actor before the next command can succeed.
	AwaitingContent bool `json:"awaiting_content,omitempty"`

	Artifacts []Artifact `json:"artifacts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates the initial state for a session at (INIT, no stage).
func NewWorkflowState(sessionID, profileID string, context map[string]string) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		SessionID: sessionID,
		ProfileID: profileID,
		Context:   context,
		Phase:     PhaseInit,
		Stage:     StageNone,
		Iteration: 1,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EnterStage moves the session to (phase, stage) and clears the approval
// bookkeeping as a unit. All stage changes go through here so the reset
// invariant holds regardless of the path taken.
func (s *WorkflowState) EnterStage(phase Phase, stage Stage) {
	s.Phase = phase
	s.Stage = stage
	s.ClearApprovalBookkeeping()
}

// ClearApprovalBookkeeping resets retry count, feedback, and suggested
// content together.
func (s *WorkflowState) ClearApprovalBookkeeping() {
	s.RetryCount = 0
	s.ApprovalFeedback = ""
	s.SuggestedContent = ""
}

// EnterTerminal moves the session to a terminal phase, dropping the stage.
func (s *WorkflowState) EnterTerminal(phase Phase, status Status) {
	s.Phase = phase
	s.Stage = StageNone
	s.Status = status
	s.ClearApprovalBookkeeping()
	s.AwaitingContent = false
}

// RecordError marks the last operation failed without corrupting position.
func (s *WorkflowState) RecordError(msg string) {
	s.Status = StatusError
	s.LastError = msg
}

// AddArtifact appends an artifact record for the current phase and iteration.
func (s *WorkflowState) AddArtifact(path string) {
	s.Artifacts = append(s.Artifacts, Artifact{
		Path:      path,
		Phase:     s.Phase,
		Iteration: s.Iteration,
		CreatedAt: time.Now().UTC(),
	})
}

// ArtifactsForIteration returns the artifact records created in the given
// iteration, in insertion order.
func (s *WorkflowState) ArtifactsForIteration(iteration int) []Artifact {
	var out []Artifact
	for _, a := range s.Artifacts {
		if a.Iteration == iteration {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks the structural invariants of the state record.
// Stage is defined iff the phase is a non-terminal working phase.
func (s *WorkflowState) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.Iteration < 1 {
		return fmt.Errorf("iteration must be >= 1, got %d", s.Iteration)
	}
	switch {
	case s.Phase.Terminal() || s.Phase == PhaseInit:
		if s.Stage != StageNone {
			return fmt.Errorf("phase %s must not carry a stage, got %q", s.Phase, s.Stage)
		}
	default:
		if s.Stage != StagePrompt && s.Stage != StageResponse {
			return fmt.Errorf("phase %s requires a stage, got %q", s.Phase, s.Stage)
		}
	}
	return nil
}
