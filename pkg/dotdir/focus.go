package dotdir

import (
	"encoding/json/v2"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	focusFile = "focus.json"
)

// FocusState is the persisted "current path" of a workspace: the path name
// and the head digest observed when the path was last touched through the
// CLI.
type FocusState struct {
	// Path is the normalized name of the focused path.
	Path string `json:"path"`

	// Head is the head digest last observed on the focused path.
	Head string `json:"head,omitempty"`
}

// LoadFocus loads the focus state from a target .engram/focus.json.
// Returns nil, nil if no focus exists (fresh workspace).
// If overrideDir is non-empty, it is used instead of the default ~/.engram/
// location.
func (m *Manager) LoadFocus(overrideDir string) (*FocusState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, focusFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading focus state: %w", err)
	}

	state := &FocusState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing focus state: %w", err)
	}

	return state, nil
}

// SaveFocus persists the focus state to a target .engram/focus.json.
func (m *Manager) SaveFocus(state *FocusState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil focus state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling focus state: %w", err)
	}

	path := filepath.Join(dir, focusFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing focus state: %w", err)
	}

	return nil
}

// ClearFocus removes the focus state file so the next CLI invocation falls
// back to the canonical path. Returns nil if the file doesn't exist.
func (m *Manager) ClearFocus(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, focusFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing focus state: %w", err)
	}

	return nil
}
