// Package config provides configuration loading for draftflow.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/draftflow/internal/logging"
)

// Approval strategy keys accepted in configuration.
const (
	StrategyAuto      = "auto"
	StrategyManual    = "manual"
	StrategyDelegated = "delegated"
)

// SessionsConfig controls where workflow sessions are persisted.
type SessionsConfig struct {
	// Root is the directory that holds one subdirectory per session.
	Root string `koanf:"root"`
}

// ClaudeConfig configures the claude CLI response provider.
type ClaudeConfig struct {
	// Binary is the executable looked up on PATH.
	Binary string `koanf:"binary"`
	// Model is passed through to the CLI when non-empty.
	Model string `koanf:"model"`
	// Timeout bounds a single generation call.
	Timeout time.Duration `koanf:"timeout"`
}

// ProviderConfig selects the response provider used for content stages.
type ProviderConfig struct {
	// Default is the registry key of the response provider ("claude" or
	// "manual").
	Default string `koanf:"default"`
}

// ApprovalConfig maps each stage kind to an approval strategy.
//
// Prompts default to auto-approval: they are deterministic renderings of
// approved inputs. Responses default to manual approval: they are the
// expensive, fallible half of every phase.
type ApprovalConfig struct {
	Prompt   string `koanf:"prompt"`
	Response string `koanf:"response"`
	// Evaluator is the response provider key used when a strategy is
	// "delegated".
	Evaluator string `koanf:"evaluator"`
}

// WorkflowConfig holds engine-level knobs.
type WorkflowConfig struct {
	// Profile is the registry key of the domain profile.
	Profile string `koanf:"profile"`
	// MaxRetries bounds automatic regeneration after a gate rejection.
	MaxRetries int `koanf:"max_retries"`
}

// Config is the root configuration.
type Config struct {
	Sessions SessionsConfig `koanf:"sessions"`
	Provider ProviderConfig `koanf:"provider"`
	Claude   ClaudeConfig   `koanf:"claude"`
	Approval ApprovalConfig `koanf:"approval"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Logging  logging.Config `koanf:"logging"`
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Sessions.Root == "" {
		return fmt.Errorf("sessions.root must not be empty")
	}
	if c.Provider.Default == "" {
		return fmt.Errorf("provider.default must not be empty")
	}
	for name, strategy := range map[string]string{
		"approval.prompt":   c.Approval.Prompt,
		"approval.response": c.Approval.Response,
	} {
		switch strategy {
		case StrategyAuto, StrategyManual, StrategyDelegated:
		default:
			return fmt.Errorf("%s: unknown strategy %q (want %s, %s, or %s)",
				name, strategy, StrategyAuto, StrategyManual, StrategyDelegated)
		}
	}
	if (c.Approval.Prompt == StrategyDelegated || c.Approval.Response == StrategyDelegated) &&
		c.Approval.Evaluator == "" {
		return fmt.Errorf("approval.evaluator must be set when a delegated strategy is configured")
	}
	if c.Workflow.MaxRetries < 0 {
		return fmt.Errorf("workflow.max_retries must not be negative: %d", c.Workflow.MaxRetries)
	}
	if c.Claude.Timeout <= 0 {
		return fmt.Errorf("claude.timeout must be positive: %v", c.Claude.Timeout)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
