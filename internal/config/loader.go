package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/draftflow/internal/logging"
	"github.com/fyrsmithlabs/draftflow/internal/provider"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "DRAFTFLOW_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DRAFTFLOW_SESSIONS_ROOT, DRAFTFLOW_CLAUDE_MODEL, ...)
//  2. YAML config file (~/.config/draftflow/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter names the YAML file to load. If empty, the
// default path ~/.config/draftflow/config.yaml is used; a missing file is
// not an error.
//
// # Security Considerations
//
// The configuration file must be owner-only readable (0600 or 0400) and
// live under ~/.config/draftflow/ or /etc/draftflow/. Files larger than
// 1MB are rejected.
//
// # Environment Variable Mapping
//
// Variables use the DRAFTFLOW_ prefix; the first underscore after the
// prefix separates the section from the field:
//
//	DRAFTFLOW_SESSIONS_ROOT         -> sessions.root
//	DRAFTFLOW_WORKFLOW_MAX_RETRIES  -> workflow.max_retries
//	DRAFTFLOW_CLAUDE_BINARY         -> claude.binary
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "draftflow", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the file descriptor to avoid a
		// TOCTOU race between the permission check and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// DRAFTFLOW_SECTION_FIELD_NAME -> section.field_name. Fields keep
		// their underscores; only the first one becomes the separator.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the draftflow config directory if it doesn't
// exist, with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "draftflow")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks the path is in an allowed directory. The check
// runs even when the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Symlink evaluation fails for paths that don't exist yet.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "draftflow"),
		"/etc/draftflow",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/draftflow/ or /etc/draftflow/")
}

// validateConfigFileProperties checks permissions and size using FileInfo
// from an already-opened file descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Sessions.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Sessions.Root = filepath.Join(home, ".config", "draftflow", "sessions")
		}
	}

	if cfg.Provider.Default == "" {
		cfg.Provider.Default = "claude"
	}

	if cfg.Claude.Binary == "" {
		cfg.Claude.Binary = "claude"
	}
	if cfg.Claude.Timeout == 0 {
		cfg.Claude.Timeout = provider.DefaultClaudeTimeout
	}

	if cfg.Approval.Prompt == "" {
		cfg.Approval.Prompt = StrategyAuto
	}
	if cfg.Approval.Response == "" {
		cfg.Approval.Response = StrategyManual
	}

	if cfg.Workflow.Profile == "" {
		cfg.Workflow.Profile = "generic"
	}
	if cfg.Workflow.MaxRetries == 0 {
		cfg.Workflow.MaxRetries = 3
	}

	if cfg.Logging.Level == "" || cfg.Logging.Format == "" {
		def := logging.NewDefaultConfig()
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = def.Level
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = def.Format
		}
	}
}
