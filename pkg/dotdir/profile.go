package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	profileFile = "profile.json"
)

// Profile represents the persisted CLI profile state.
// It names the journal user that commands act on by default, so a single-user
// installation never has to pass --user.
type Profile struct {
	// UserID is the default journal user.
	UserID string `json:"user_id"`

	// Timezone is an optional IANA zone name used when initializing prefs
	// for a new user (e.g. "Pacific/Auckland").
	Timezone string `json:"timezone,omitempty"`
}

// LoadProfile loads the profile state from a target .murmur/profile.json.
// Returns nil, nil if no profile exists (fresh installation).
// If overrideDir is non-empty, it is used instead of the default ~/.murmur/ location.
func (m *Manager) LoadProfile(overrideDir string) (*Profile, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, profileFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	profile := &Profile{}
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	return profile, nil
}

// SaveProfile persists the profile state to a target .murmur/profile.json.
func (m *Manager) SaveProfile(profile *Profile, overrideDir string) error {
	if profile == nil {
		return errors.New("cannot save nil profile")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}

	path := filepath.Join(dir, profileFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}

	return nil
}

// ClearProfile removes the profile state file.
// If overrideDir is non-empty, it is used instead of the default ~/.murmur/ location.
// Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearProfile(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, profileFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing profile: %w", err)
	}

	return nil
}
