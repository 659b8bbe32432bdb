package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
)

// Document is the JSON document persisted at rest: the ordered profile
// list plus the flags spec §6 names, mirroring the teacher's
// GlobalConfig shape generalized to a profile list instead of one active
// server.
type Document struct {
	Profiles []*Profile `json:"profiles"`

	SelectedProfileID       string `json:"selected_profile_id"`
	LastConnectedProfileID  string `json:"last_connected_profile_id"`
	AutoConnectEnabled      bool   `json:"auto_connect_enabled"`
	ManuallyDisconnected    bool   `json:"manually_disconnected"`
	AutomationSessionActive bool   `json:"automation_session_active"`
}

// Store loads, mutates, and persists Document, matching the teacher's
// (*GlobalConfig).Save() idiom of rewriting the whole file on every edit.
type Store struct {
	mu   sync.Mutex
	path string
	doc  *Document
}

// Open loads path if it exists, or starts from an empty Document.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: &Document{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, &gwerrors.ConfigError{Path: path, Err: err}
	}
	if err := json.Unmarshal(b, s.doc); err != nil {
		return nil, &gwerrors.ConfigError{Path: path, Err: err}
	}
	return s, nil
}

// Save rewrites the JSON document to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return &gwerrors.ConfigError{Path: s.path, Err: err}
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return &gwerrors.ConfigError{Path: s.path, Err: err}
		}
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return &gwerrors.ConfigError{Path: s.path, Err: err}
	}
	return nil
}

// AddProfile appends a new profile with a freshly generated ID.
func (s *Store) AddProfile(p *Profile) error {
	if err := p.Validate(); err != nil {
		return &gwerrors.ConfigError{Path: s.path, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.NewString()
	s.doc.Profiles = append(s.doc.Profiles, p)
	return s.saveLocked()
}

// RemoveProfile deletes the profile with id, clearing SelectedProfileID if
// it pointed at the removed profile.
func (s *Store) RemoveProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.doc.Profiles[:0]
	found := false
	for _, p := range s.doc.Profiles {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return &gwerrors.ConfigError{Path: s.path, Err: fmt.Errorf("profile not found: %s", id)}
	}
	s.doc.Profiles = kept
	if s.doc.SelectedProfileID == id {
		s.doc.SelectedProfileID = ""
	}
	return s.saveLocked()
}

// Profiles returns the ordered profile list.
func (s *Store) Profiles() []*Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Profile(nil), s.doc.Profiles...)
}

// ByID returns the profile with the given id, or nil.
func (s *Store) ByID(id string) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.doc.Profiles {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ByNameOrIndex resolves either a 1-based index or an exact profile name,
// following the teacher's cmd/outline-ws connect-by-name-or-index idiom.
func (s *Store) ByNameOrIndex(arg string) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.doc.Profiles {
		if fmt.Sprintf("%d", i+1) == arg || p.Name == arg {
			return p
		}
	}
	return nil
}

// SetSelected switches the active profile.
func (s *Store) SetSelected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.SelectedProfileID = id
	return s.saveLocked()
}

// Selected returns the currently selected profile, or nil.
func (s *Store) Selected() *Profile {
	s.mu.Lock()
	id := s.doc.SelectedProfileID
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	return s.ByID(id)
}

// SetManuallyDisconnected records whether the user stopped the session by
// hand; while set, the daemon neither auto-starts the selected profile nor
// auto-reconnects a dead session.
func (s *Store) SetManuallyDisconnected(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ManuallyDisconnected = v
	return s.saveLocked()
}

// ManuallyDisconnected reports the current flag value.
func (s *Store) ManuallyDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ManuallyDisconnected
}

// AutomationSessionActive reports whether a soft stop must be refused.
func (s *Store) AutomationSessionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.AutomationSessionActive
}

// SetAutomationSessionActive updates the automation-protected flag.
func (s *Store) SetAutomationSessionActive(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.AutomationSessionActive = v
	return s.saveLocked()
}

// SetLastConnected records the most recently connected profile id, used by
// auto-reconnect.
func (s *Store) SetLastConnected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LastConnectedProfileID = id
	return s.saveLocked()
}

func errInvalidProfile(format string, args ...any) error {
	return fmt.Errorf("invalid profile: "+format, args...)
}
