package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// Errors for store operations.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCorrupted = errors.New("session record corrupted")
	ErrSessionExists    = errors.New("session already exists")
	ErrInvalidSessionID = errors.New("invalid session id: must be alphanumeric with hyphens/underscores")
)

// sessionFile is the name of the per-session state document.
const sessionFile = "session.json"

// idPattern validates session ids for filesystem safety.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateSessionID checks that an id is safe to use as a directory name.
func ValidateSessionID(id string) error {
	if id == "" || len(id) > 255 {
		return ErrInvalidSessionID
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidSessionID
	}
	if id == "." || id == ".." || filepath.Clean(id) != id {
		return ErrInvalidSessionID
	}
	return nil
}

// Store persists one WorkflowState document per session id under a
// session-scoped root directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at root, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		root = filepath.Join(home, ".config", "draftflow", "sessions")
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the sessions root directory.
func (st *Store) Root() string {
	return st.root
}

// SessionDir returns the directory holding a session's record and artifacts.
func (st *Store) SessionDir(sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(st.root, sessionID), nil
}

// Create persists a brand-new session record. It fails if the session
// already exists.
func (st *Store) Create(s *WorkflowState) error {
	dir, err := st.SessionDir(s.SessionID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, sessionFile)); err == nil {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.SessionID)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return st.Save(s)
}

// Save writes the session record atomically: the document is written to a
// temporary file in the same directory and renamed over the previous record.
func (st *Store) Save(s *WorkflowState) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid state: %w", err)
	}
	dir, err := st.SessionDir(s.SessionID)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := filepath.Join(dir, sessionFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename session record: %w", err)
	}
	return nil
}

// Load reads the session record for the given id.
func (st *Store) Load(sessionID string) (*WorkflowState, error) {
	dir, err := st.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupted, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupted, err)
	}
	return &s, nil
}

// List returns the ids of all sessions with a readable record, sorted.
// Corrupted records are skipped rather than failing the listing.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions root: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(st.root, entry.Name(), sessionFile)); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}
