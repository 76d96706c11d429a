// Package artifact computes per-file content hashes at approval time and
// detects duplicate iterations.
//
// Hashing is deliberately deferred: files are hashed only when an approval
// locks them into the audit trail, so content may be edited freely before
// that point. Hashes are always per file, never an aggregate over a
// directory.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftflow/internal/logging"
	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// iterationPrefix strips the per-iteration directory from an artifact path
// so files can be compared across iterations by their stable name.
var iterationPrefix = regexp.MustCompile(`^iterations/\d+/`)

// Service hashes artifacts and compares iterations.
type Service struct {
	log *logging.Logger
}

// NewService creates an artifact service.
func NewService(log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{log: log}
}

// HashFile computes the sha256 hex digest of one file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashIteration computes content hashes for every artifact record of the
// given iteration, storing them on the state. A freshly computed hash that
// disagrees with a previously recorded one (post-approval edits) is logged
// as a warning only and never blocks progression.
func (s *Service) HashIteration(ctx context.Context, sessionDir string, ws *state.WorkflowState, iteration int) error {
	for i := range ws.Artifacts {
		a := &ws.Artifacts[i]
		if a.Iteration != iteration {
			continue
		}

		sum, err := HashFile(filepath.Join(sessionDir, a.Path))
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", a.Path, err)
		}

		if a.Hash != "" && a.Hash != sum {
			s.log.Warn(ctx, "artifact content changed after its hash was recorded",
				zap.String("path", a.Path),
				zap.String("recorded", a.Hash),
				zap.String("computed", sum),
			)
		}
		a.Hash = sum
	}
	return nil
}

// StableName returns an artifact path with its iteration directory removed,
// the name used to match files across iterations.
func StableName(path string) string {
	return iterationPrefix.ReplaceAllString(filepath.ToSlash(path), "")
}

// IterationUnchanged reports whether the given iteration's hashed file set
// is identical to the immediately preceding iteration's: the stable name
// sets match exactly and every corresponding hash matches. Any rename,
// addition, removal, or content change counts as changed. The first
// iteration has no predecessor and is never "unchanged".
func (s *Service) IterationUnchanged(ws *state.WorkflowState, iteration int) bool {
	if iteration <= 1 {
		return false
	}

	current := hashesByName(ws.ArtifactsForIteration(iteration))
	previous := hashesByName(ws.ArtifactsForIteration(iteration - 1))
	if len(current) == 0 || len(current) != len(previous) {
		return false
	}
	for name, hash := range current {
		prev, ok := previous[name]
		if !ok || hash == "" || prev != hash {
			return false
		}
	}
	return true
}

func hashesByName(artifacts []state.Artifact) map[string]string {
	m := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		m[StableName(a.Path)] = a.Hash
	}
	return m
}
