package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// Session directory layout. All paths stored on state are relative to the
// session directory.
//
//	<session>/
//	├── session.json
//	├── plan.md          approved plan, written once
//	├── standards.md     immutable standards bundle, written at init
//	└── iterations/
//	    └── 001/
//	        ├── plan_prompt.md
//	        ├── plan_response.md
//	        ├── ...
//	        └── code/    extracted files for GENERATE/REVISE
const (
	planFile      = "plan.md"
	standardsFile = "standards.md"
	iterationsDir = "iterations"
)

func phaseSlug(phase state.Phase) string {
	return strings.ToLower(string(phase))
}

// iterationRel returns the iteration directory path relative to the
// session directory.
func iterationRel(iteration int) string {
	return filepath.Join(iterationsDir, fmt.Sprintf("%03d", iteration))
}

// promptRel returns the relative path of a phase's prompt file.
func promptRel(phase state.Phase, iteration int) string {
	return filepath.Join(iterationRel(iteration), phaseSlug(phase)+"_prompt.md")
}

// responseRel returns the relative path of a phase's response file.
func responseRel(phase state.Phase, iteration int) string {
	return filepath.Join(iterationRel(iteration), phaseSlug(phase)+"_response.md")
}

// writeSessionFile writes content at the given session-relative path,
// creating parent directories as needed. Session files are owner-only.
func writeSessionFile(sessionDir, rel, content string) error {
	abs := filepath.Join(sessionDir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// readSessionFile reads a session-relative file.
func readSessionFile(sessionDir, rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, rel))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return string(data), nil
}

// readSessionFileIfExists reads a session-relative file, returning empty
// content when the file is absent.
func readSessionFileIfExists(sessionDir, rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, rel))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return string(data), nil
}

// sessionFileExists reports whether a session-relative file is present.
func sessionFileExists(sessionDir, rel string) bool {
	_, err := os.Stat(filepath.Join(sessionDir, rel))
	return err == nil
}
