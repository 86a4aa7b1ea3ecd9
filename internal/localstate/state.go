package localstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"sessiontrack/internal/models"
)

const (
	KeyCurrentUser = "currentUser"
	KeyLogoutCode  = "logoutCode"

	KeyThemePreference      = "themePreference"
	KeyLanguage             = "language"
	KeyNotificationsEnabled = "notificationsEnabled"
)

// Preferences survive every session clear.
var Preferences = []string{KeyThemePreference, KeyLanguage, KeyNotificationsEnabled}

// SessionKeys are removed from the local scope when a session is cleared.
var SessionKeys = []string{
	KeyCurrentUser,
	"userYears",
	"verified",
	"profilePic",
	"userData",
	"pendingPhone",
	"tempUserData",
	"codeTimestamp",
	KeyLogoutCode,
	"isAdmin",
	"lastLogin",
	"userSession",
}

// State groups the three scopes a page persists into.
type State struct {
	Local   Storage
	Session Storage
	Cookies Storage
}

func NewMemoryState() *State {
	return &State{Local: NewMemory(), Session: NewMemory(), Cookies: NewMemory()}
}

// OpenDir opens file-backed scopes under dir. The session scope is kept in
// memory since it should not outlive the process.
func OpenDir(dir string) (*State, error) {
	local, err := OpenFile(filepath.Join(dir, "local.json"))
	if err != nil {
		return nil, err
	}
	cookies, err := OpenFile(filepath.Join(dir, "cookies.json"))
	if err != nil {
		return nil, err
	}
	return &State{Local: local, Session: NewMemory(), Cookies: cookies}, nil
}

// LoadUser returns the cached session snapshot. ok is false when there is
// none; a corrupt snapshot is reported as an error.
func (s *State) LoadUser() (user models.UserRecord, ok bool, err error) {
	raw, found := s.Local.Get(KeyCurrentUser)
	if !found || raw == "" {
		return models.UserRecord{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return models.UserRecord{}, false, fmt.Errorf("parse cached user: %w", err)
	}
	if user.ID == "" {
		return models.UserRecord{}, false, nil
	}
	return user, true, nil
}

// SaveUser replaces the cached snapshot as a whole.
func (s *State) SaveUser(user models.UserRecord) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode cached user: %w", err)
	}
	return s.Local.Set(KeyCurrentUser, string(raw))
}

func (s *State) PendingLogoutCode() (string, bool) {
	v, ok := s.Local.Get(KeyLogoutCode)
	return v, ok && v != ""
}

func (s *State) SetPendingLogoutCode(hash string) error {
	return s.Local.Set(KeyLogoutCode, hash)
}

func (s *State) ClearPendingLogoutCode() error {
	return s.Local.Remove(KeyLogoutCode)
}

func (s *State) Preference(key string) (string, bool) {
	return s.Local.Get(key)
}

func (s *State) SetPreference(key, value string) error {
	return s.Local.Set(key, value)
}

// ClearSession removes the session keys from the local scope, except the
// ones listed in keep. Preferences are never touched.
func (s *State) ClearSession(keep ...string) error {
	kept := make(map[string]struct{}, len(keep)+len(Preferences))
	for _, k := range keep {
		kept[k] = struct{}{}
	}
	for _, k := range Preferences {
		kept[k] = struct{}{}
	}
	var errs []error
	for _, key := range SessionKeys {
		if _, ok := kept[key]; ok {
			continue
		}
		if err := s.Local.Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// ClearAll wipes every scope, preferences included.
func (s *State) ClearAll() error {
	var errs []error
	for name, scope := range map[string]Storage{"local": s.Local, "session": s.Session, "cookies": s.Cookies} {
		if scope == nil {
			continue
		}
		if err := scope.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
