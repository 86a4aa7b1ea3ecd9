package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/device"
	"sessiontrack/internal/jobs/jobstest"
	"sessiontrack/internal/localstate"
	"sessiontrack/internal/models"
	"sessiontrack/internal/notify"
	"sessiontrack/internal/store/memstore"
	"sessiontrack/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pageFixture struct {
	mem    *memstore.Store
	local  *localstate.State
	hub    *EventHub
	engine *gin.Engine
}

func newPageFixture(t *testing.T, pingers ...Pinger) *pageFixture {
	t.Helper()
	mem := memstore.New(memstore.WithAppendOnly(models.CollectionBroadcasts))
	local := localstate.NewMemoryState()
	hub := NewEventHub(zerolog.Nop())
	cfg := &config.AppConfig{
		Environment: "test",
		Tracker: config.TrackerConfig{
			HeartbeatInterval:      2 * time.Minute,
			ActivityThrottle:       30 * time.Second,
			SessionRefreshInterval: time.Minute,
			RevalidateInterval:     5 * time.Minute,
			BroadcastWindow:        24 * time.Hour,
			OnlineWindow:           5 * time.Minute,
			RemoteTimeout:          5 * time.Second,
			LoginPath:              "register.html",
		},
	}
	tr := tracker.New(cfg.Tracker, tracker.Deps{
		Store:     mem,
		Notify:    notify.Noop{},
		Local:     local,
		Presenter: hub,
		Timers:    jobstest.New(),
		Signals:   device.Signals{UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", Platform: "Linux"},
		Log:       zerolog.Nop(),
	})
	t.Cleanup(func() { tr.Destroy(context.Background()) })

	engine := gin.New()
	NewPageHandlers(zerolog.Nop(), cfg, tr, local, hub, pingers...).Register(engine.Group("/api"))
	return &pageFixture{mem: mem, local: local, hub: hub, engine: engine}
}

func (f *pageFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPageSessionLifecycle(t *testing.T) {
	f := newPageFixture(t)
	f.mem.Put(models.CollectionUsers, "u1", map[string]any{
		"name":            "Ann",
		"phone":           "+100",
		"status":          "verified",
		"plan":            "basic",
		"registeredYears": []any{"1", "3"},
	})

	if w := f.do(t, http.MethodPut, "/api/v1/session/cache", map[string]string{"userId": "u1"}); w.Code != http.StatusNoContent {
		t.Fatalf("seed cache: %d %s", w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodPost, "/api/v1/session/init", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("init: %d %s", w.Code, w.Body.String())
	}
	session := decode[sessionResponse](t, w)
	if session.State != tracker.StateValid || session.User == nil || session.User.Name != "Ann" {
		t.Fatalf("unexpected session %+v", session)
	}

	check := decode[map[string]bool](t, f.do(t, http.MethodGet, "/api/v1/auth/check", nil))
	if !check["authenticated"] {
		t.Fatal("expected authenticated session")
	}
	admin := decode[map[string]bool](t, f.do(t, http.MethodGet, "/api/v1/auth/admin", nil))
	if admin["admin"] {
		t.Fatal("expected non-admin session")
	}

	cases := []struct {
		year   string
		access bool
	}{
		{year: "1", access: true},
		{year: "2", access: false},
		{year: "3", access: true},
	}
	for _, tc := range cases {
		got := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/v1/years/"+tc.year, nil))
		if got["access"] != tc.access {
			t.Fatalf("year %s: expected access %v, got %v", tc.year, tc.access, got["access"])
		}
	}
	if w := f.do(t, http.MethodGet, "/api/v1/years/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad year, got %d", w.Code)
	}

	status := decode[tracker.HeartbeatStatus](t, f.do(t, http.MethodGet, "/api/v1/presence/status", nil))
	if !status.Running || status.UserName != "Ann" {
		t.Fatalf("unexpected presence status %+v", status)
	}
	if f.mem.Len(models.CollectionDeviceSessions) != 1 {
		t.Fatalf("expected one device session, got %d", f.mem.Len(models.CollectionDeviceSessions))
	}

	if w := f.do(t, http.MethodPost, "/api/v1/session/destroy", nil); w.Code != http.StatusNoContent {
		t.Fatalf("destroy: %d", w.Code)
	}
	doc, err := f.mem.Get(context.Background(), models.CollectionUsers, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if doc.Data["isOnline"] != false {
		t.Fatalf("expected user offline after destroy, got %v", doc.Data["isOnline"])
	}
}

func TestPageInitWithoutCacheRedirects(t *testing.T) {
	f := newPageFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/session/init", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	session := decode[sessionResponse](t, w)
	if !session.Terminated || session.Failure == nil || session.Failure.Kind != tracker.FailureNoSession {
		t.Fatalf("expected no-session termination, got %+v", session)
	}

	var redirected bool
	for _, ev := range session.Pending {
		if ev.Name == EventRedirect {
			redirected = true
		}
	}
	if !redirected {
		t.Fatalf("expected pending redirect, got %+v", session.Pending)
	}

	if w := f.do(t, http.MethodGet, "/api/v1/user", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for user, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/trial", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for trial, got %d", w.Code)
	}
}

func TestSeedCacheAfterTerminationStartsFresh(t *testing.T) {
	f := newPageFixture(t)

	if w := f.do(t, http.MethodPost, "/api/v1/session/init", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a cache, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/session/init", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected repeated init to keep failing, got %d %s", w.Code, w.Body.String())
	}

	f.mem.Put(models.CollectionUsers, "u1", map[string]any{"name": "Ann", "status": "verified", "plan": "basic"})
	if w := f.do(t, http.MethodPut, "/api/v1/session/cache", map[string]string{"userId": "u1"}); w.Code != http.StatusNoContent {
		t.Fatalf("seed cache: %d %s", w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodPost, "/api/v1/session/init", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("init after seeding: %d %s", w.Code, w.Body.String())
	}
	session := decode[sessionResponse](t, w)
	if session.State != tracker.StateValid || session.Terminated || session.User == nil || session.User.ID != "u1" {
		t.Fatalf("expected a fresh valid session, got %+v", session)
	}
	for _, ev := range session.Pending {
		if ev.Name == EventRedirect {
			t.Fatalf("expected the earlier redirect to be discarded, got %+v", session.Pending)
		}
	}
}

func TestPageLogoutAndVerify(t *testing.T) {
	f := newPageFixture(t)
	f.mem.Put(models.CollectionUsers, "u1", map[string]any{"status": "verified", "plan": "premium"})
	f.do(t, http.MethodPut, "/api/v1/session/cache", map[string]string{"userId": "u1"})
	f.do(t, http.MethodPost, "/api/v1/session/init", nil)

	if w := f.do(t, http.MethodPost, "/api/v1/logout", nil); w.Code != http.StatusAccepted {
		t.Fatalf("logout: %d %s", w.Code, w.Body.String())
	}
	if _, ok := f.local.PendingLogoutCode(); !ok {
		t.Fatal("expected pending logout code to survive logout")
	}

	if w := f.do(t, http.MethodPost, "/api/v1/logout/verify", map[string]string{"code": "000000x"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong code, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/logout/verify", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without code, got %d", w.Code)
	}
}

func TestSeedCacheRequiresUserID(t *testing.T) {
	f := newPageFixture(t)
	if w := f.do(t, http.MethodPut, "/api/v1/session/cache", map[string]string{"userId": "  "}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name    string
		pingErr error
		status  int
		dep     string
	}{
		{name: "healthy", status: http.StatusOK, dep: "ok"},
		{name: "store down", pingErr: errors.New("refused"), status: http.StatusServiceUnavailable, dep: "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPageFixture(t, Pinger{Name: "store", Ping: func(context.Context) error { return tc.pingErr }})
			w := f.do(t, http.MethodGet, "/api/healthz", nil)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			resp := decode[healthResponse](t, w)
			if resp.Dependencies["store"] != tc.dep || resp.Environment != "test" {
				t.Fatalf("unexpected health %+v", resp)
			}
		})
	}
}

func TestEventHubReplaysTermination(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	hub.ShowBanner("hello", models.NoticeInfo)
	hub.ShowLogoutMessage("bye")
	hub.Redirect("register.html")

	events, cancel := hub.Subscribe()
	defer cancel()

	for _, want := range []string{EventLogout, EventRedirect} {
		select {
		case ev := <-events:
			if ev.Name != want {
				t.Fatalf("expected %s, got %s", want, ev.Name)
			}
		default:
			t.Fatalf("expected replayed %s", want)
		}
	}

	hub.Emit(tracker.EventUserUpdated, nil)
	select {
	case ev := <-events:
		if ev.Name != string(tracker.EventUserUpdated) {
			t.Fatalf("unexpected event %s", ev.Name)
		}
	default:
		t.Fatal("expected live event")
	}

	hub.Reset()
	if len(hub.Pending()) != 0 {
		t.Fatal("expected reset to clear pending events")
	}
	cancel()
	hub.ShowBanner("after cancel", models.NoticeInfo)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after cancel: %+v", ev)
	default:
	}
}
