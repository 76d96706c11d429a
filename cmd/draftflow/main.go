// Package main implements the draftflow CLI: one workflow command per
// invocation against one session.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/draftflow/internal/approval"
	"github.com/fyrsmithlabs/draftflow/internal/config"
	"github.com/fyrsmithlabs/draftflow/internal/logging"
	"github.com/fyrsmithlabs/draftflow/internal/orchestrator"
	"github.com/fyrsmithlabs/draftflow/internal/profile"
	"github.com/fyrsmithlabs/draftflow/internal/provider"
	"github.com/fyrsmithlabs/draftflow/internal/registry"
	"github.com/fyrsmithlabs/draftflow/internal/state"
	"github.com/fyrsmithlabs/draftflow/internal/transition"
)

// Exit codes expected by callers.
const (
	exitOK        = 0
	exitError     = 1
	exitBlocked   = 2
	exitCancelled = 3
)

var (
	configPath  string
	sessionFlag string
	rootFlag    string
	// version information
	version = "dev"
)

// exitStatus carries a non-error exit code set by a command (cancelled).
var exitStatus = exitOK

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
	os.Exit(exitStatus)
}

// exitCode maps an error to the command-level exit code contract.
func exitCode(err error) int {
	if errors.Is(err, orchestrator.ErrAwaitingContent) {
		return exitBlocked
	}
	return exitError
}

var rootCmd = &cobra.Command{
	Use:   "draftflow",
	Short: "Phase-gated content generation workflow",
	Long: `draftflow drives a multi-step content-generation workflow through
plan, generate, review, and revise phases. Each phase has a prompt stage
and a response stage, and every produced piece of content passes an
approval gate before the workflow advances.

Exit codes: 0 advanced, 1 unrecoverable error, 2 blocked awaiting an
external artifact, 3 cancelled.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/draftflow/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "session id")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "sessions root directory (overrides config)")
}

// app is the wired engine behind every command.
type app struct {
	cfg   *config.Config
	log   *logging.Logger
	store *state.Store
	orch  *orchestrator.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if rootFlag != "" {
		cfg.Sessions.Root = rootFlag
	}

	log, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := state.NewStore(cfg.Sessions.Root)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		orch:  orchestrator.NewOrchestrator(store, reg, cfg, log),
	}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

// buildRegistry constructs the explicit component registry passed into the
// orchestrator: the configured response providers, the three approval
// strategies, and the built-in profile.
func buildRegistry(cfg *config.Config, log *logging.Logger) (*registry.Registry, error) {
	reg := registry.NewRegistry()

	claude := provider.NewClaudeProvider(provider.ClaudeOptions{
		Binary:  cfg.Claude.Binary,
		Model:   cfg.Claude.Model,
		Timeout: cfg.Claude.Timeout,
	}, log.Named("claude"))
	if err := reg.RegisterResponse("claude", claude); err != nil {
		return nil, err
	}
	if err := reg.RegisterResponse("manual", provider.NewManualProvider()); err != nil {
		return nil, err
	}

	if err := reg.RegisterApproval(config.StrategyAuto, approval.NewAutoProvider()); err != nil {
		return nil, err
	}
	if err := reg.RegisterApproval(config.StrategyManual, approval.NewManualProvider()); err != nil {
		return nil, err
	}
	if cfg.Approval.Evaluator != "" {
		evaluator, err := reg.ResolveResponse(cfg.Approval.Evaluator)
		if err != nil {
			return nil, fmt.Errorf("approval.evaluator: %w", err)
		}
		if err := reg.RegisterApproval(config.StrategyDelegated, approval.NewDelegatedProvider(evaluator)); err != nil {
			return nil, err
		}
	}

	if err := reg.RegisterProfile(profile.NewGenericProfile()); err != nil {
		return nil, err
	}
	return reg, nil
}

func requireSession() (string, error) {
	if sessionFlag == "" {
		return "", fmt.Errorf("--session is required")
	}
	if err := state.ValidateSessionID(sessionFlag); err != nil {
		return "", err
	}
	return sessionFlag, nil
}

// parseContext turns key=value arguments into the session context map.
func parseContext(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := splitPair(p)
		if !ok {
			return nil, fmt.Errorf("context values must be key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func splitPair(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			if i == 0 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// describePosition renders a (phase, stage) pair for messages.
func describePosition(ws *state.WorkflowState) string {
	if ws.Stage == state.StageNone {
		return string(ws.Phase)
	}
	return fmt.Sprintf("%s[%s]", ws.Phase, ws.Stage)
}

// reportState prints the post-command position and the commands now valid.
func reportState(cmd *cobra.Command, ws *state.WorkflowState) {
	cmd.Printf("%s  status=%s iteration=%d\n", describePosition(ws), ws.Status, ws.Iteration)
	if valid := transition.ValidCommands(ws.Phase, ws.Stage); len(valid) > 0 {
		cmd.Printf("valid commands: %v\n", valid)
	}
	if ws.ApprovalFeedback != "" {
		cmd.Printf("feedback: %s\n", ws.ApprovalFeedback)
	}
	if ws.LastError != "" {
		cmd.Printf("last error: %s\n", ws.LastError)
	}
}
