package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/draftflow/internal/orchestrator"
	"github.com/fyrsmithlabs/draftflow/internal/state"
)

var (
	profileFlag  string
	contextFlags []string
	feedbackFlag string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&profileFlag, "profile", "generic", "profile id")
	initCmd.Flags().StringArrayVarP(&contextFlags, "context", "c", nil, "context entry as key=value (repeatable)")

	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(approveCmd)

	rootCmd.AddCommand(rejectCmd)
	rejectCmd.Flags().StringVarP(&feedbackFlag, "feedback", "f", "", "rejection reason fed back into regeneration")

	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(cancelCmd)
}

// initCmd creates a new session.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new workflow session",
	Long: `Create a new workflow session at INIT. When --session is
omitted a random id is generated.

Provider keys and the profile are validated now, and the response
provider runs its pre-flight check, so a misconfigured session fails
before any phase work begins.

Examples:
  # Start a session with domain parameters
  draftflow init -s article-42 -c topic="rate limiting" -c language=Go

  # Use a different profile
  draftflow init -s article-42 --profile generic`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	sessionID := sessionFlag
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := state.ValidateSessionID(sessionID); err != nil {
		return err
	}
	contextMap, err := parseContext(contextFlags)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ws, err := a.orch.Init(context.Background(), sessionID, profileFlag, contextMap)
	if err != nil {
		return err
	}
	cmd.Printf("session %s created\n", ws.SessionID)
	reportState(cmd, ws)
	return nil
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Advance a new session into the planning phase",
	Long: `Advance a session from INIT to PLAN[PROMPT], producing the
planning prompt.

Examples:
  draftflow step -s article-42`,
	RunE: workflowCommand(state.CommandStep),
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the current stage's content and advance",
	Long: `Approve the content at the current stage and advance the
workflow. Approving a prompt invokes the response provider; approving a
response opens the next phase. For manually gated stages this command is
the approval itself.

Examples:
  draftflow approve -s article-42`,
	RunE: workflowCommand(state.CommandApprove),
}

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject the current response with feedback",
	Long: `Reject the current response. The retry counter advances and,
while the configured bound allows, the response provider is re-invoked
with the feedback folded in. Exhausting the bound pauses the workflow
rather than failing it.

Examples:
  draftflow reject -s article-42 -f "missing error handling"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflowCommand(cmd, state.CommandReject, orchestrator.CommandOptions{Feedback: feedbackFlag})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-invoke the response provider in place",
	Long: `Re-invoke the response provider for the current response stage
without advancing, folding any recorded rejection feedback into the
request.

Examples:
  draftflow retry -s article-42`,
	RunE: workflowCommand(state.CommandRetry),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the session",
	Long: `Move the session to CANCELLED. No further commands are accepted.
An in-flight provider call is not interrupted; cancellation only prevents
further transitions.

Examples:
  draftflow cancel -s article-42`,
	RunE: workflowCommand(state.CommandCancel),
}

func workflowCommand(c state.Command) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return runWorkflowCommand(cmd, c, orchestrator.CommandOptions{})
	}
}

func runWorkflowCommand(cmd *cobra.Command, c state.Command, opts orchestrator.CommandOptions) error {
	sessionID, err := requireSession()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ws, err := a.orch.Handle(context.Background(), sessionID, c, opts)
	if err != nil {
		if ws != nil {
			reportState(cmd, ws)
		}
		if errors.Is(err, orchestrator.ErrAwaitingContent) {
			return fmt.Errorf("blocked: %w", err)
		}
		return err
	}

	reportState(cmd, ws)
	if ws.Status == state.StatusCancelled {
		exitStatus = exitCancelled
	}
	return nil
}
