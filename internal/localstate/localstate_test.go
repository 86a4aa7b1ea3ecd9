package localstate

import (
	"path/filepath"
	"testing"

	"sessiontrack/internal/models"
)

func TestClearSessionKeepsPreferences(t *testing.T) {
	s := NewMemoryState()
	for _, key := range SessionKeys {
		if err := s.Local.Set(key, "x"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	for _, key := range Preferences {
		if err := s.SetPreference(key, "pref"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := s.Local.Set("unrelated", "y"); err != nil {
		t.Fatalf("set unrelated: %v", err)
	}

	if err := s.ClearSession(); err != nil {
		t.Fatalf("clear session: %v", err)
	}

	for _, key := range SessionKeys {
		if _, ok := s.Local.Get(key); ok {
			t.Fatalf("expected %s to be removed", key)
		}
	}
	for _, key := range Preferences {
		if v, ok := s.Preference(key); !ok || v != "pref" {
			t.Fatalf("expected preference %s to survive, got %q", key, v)
		}
	}
	if _, ok := s.Local.Get("unrelated"); !ok {
		t.Fatal("expected keys outside the session list to survive")
	}
}

func TestClearSessionHonoursKeep(t *testing.T) {
	s := NewMemoryState()
	_ = s.SetPendingLogoutCode("hash")
	_ = s.SaveUser(models.UserRecord{ID: "u1"})

	if err := s.ClearSession(KeyLogoutCode); err != nil {
		t.Fatalf("clear session: %v", err)
	}
	if _, ok := s.PendingLogoutCode(); !ok {
		t.Fatal("expected pending logout code to be kept")
	}
	if _, ok, _ := s.LoadUser(); ok {
		t.Fatal("expected cached user to be removed")
	}
}

func TestClearAllWipesEveryScope(t *testing.T) {
	s := NewMemoryState()
	_ = s.SetPreference(KeyLanguage, "en")
	_ = s.Session.Set("enteredFromHome", "yes")
	_ = s.Cookies.Set("sid", "abc")

	if err := s.ClearAll(); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	for name, scope := range map[string]Storage{"local": s.Local, "session": s.Session, "cookies": s.Cookies} {
		if keys := scope.Keys(); len(keys) != 0 {
			t.Fatalf("expected %s scope to be empty, got %v", name, keys)
		}
	}
}

func TestUserRoundTripAndCorruption(t *testing.T) {
	s := NewMemoryState()
	if _, ok, err := s.LoadUser(); ok || err != nil {
		t.Fatalf("expected empty cache, got ok=%v err=%v", ok, err)
	}

	end := int64(42)
	in := models.UserRecord{ID: "u1", Status: models.UserStatusVerified, RegisteredYears: []string{"1"}, TrialEndDate: &end}
	if err := s.SaveUser(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, ok, err := s.LoadUser()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if out.ID != "u1" || out.TrialEndDate == nil || *out.TrialEndDate != 42 {
		t.Fatalf("unexpected user %+v", out)
	}

	_ = s.Local.Set(KeyCurrentUser, "{not json")
	if _, _, err := s.LoadUser(); err == nil {
		t.Fatal("expected corrupt snapshot to fail")
	}
}

func TestFilePersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveUser(models.UserRecord{ID: "u1", Name: "Ada"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Cookies.Set("sid", "abc"); err != nil {
		t.Fatalf("cookie: %v", err)
	}

	reopened, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, ok, err := reopened.LoadUser()
	if err != nil || !ok || u.Name != "Ada" {
		t.Fatalf("expected persisted user, got %+v ok=%v err=%v", u, ok, err)
	}
	if v, _ := reopened.Cookies.Get("sid"); v != "abc" {
		t.Fatalf("expected persisted cookie, got %q", v)
	}

	if _, err := OpenFile(filepath.Join(dir, "missing", "state.json")); err != nil {
		t.Fatalf("expected missing file to open empty: %v", err)
	}
}
