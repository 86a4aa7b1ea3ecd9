package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"sessiontrack/internal/models"
)

func TestActivityThrottleLeadingEdge(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.init()
	ctx := context.Background()

	online := func() int { return h.store.writes(models.CollectionUsers, "isOnline", true) }
	base := online()
	if base != 1 {
		t.Fatalf("expected one presence write at start, got %d", base)
	}

	if !h.c.Activity(ctx, "click") {
		t.Fatal("expected first event of a window to write")
	}
	for i := 0; i < 4; i++ {
		if h.c.Activity(ctx, "mousemove") {
			t.Fatal("expected events inside the window to be dropped")
		}
	}
	h.clock.Advance(29 * time.Second)
	if h.c.Activity(ctx, "keypress") {
		t.Fatal("expected window to still be open at 29s")
	}
	if online() != base+1 {
		t.Fatalf("expected one throttled write, got %d", online()-base)
	}

	h.clock.Advance(2 * time.Second)
	if !h.c.Activity(ctx, "scroll") {
		t.Fatal("expected a new window after the throttle interval")
	}
	if !h.c.Resume(ctx) {
		t.Fatal("expected resume to bypass the throttle")
	}
	if h.timers.Fire(TimerHeartbeat) != 1 {
		t.Fatal("expected one heartbeat ticker")
	}
	if online() != base+4 {
		t.Fatalf("expected %d presence writes, got %d", base+4, online())
	}
}

func TestHeartbeatRefreshesCache(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.init()

	h.clock.Advance(time.Minute)
	h.c.Resume(context.Background())

	cached, ok, _ := h.local.LoadUser()
	if !ok || !cached.IsOnline || cached.LastActive != h.clock.Now().UnixMilli() {
		t.Fatalf("expected cache to carry the latest presence, got %+v", cached)
	}
	status := h.c.PresenceStatus()
	if !status.Running || status.UserName != "Ada" || !status.LastActivity.Equal(h.clock.Now()) {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.SessionID == "" || status.Fingerprint != h.c.registry.Fingerprint() {
		t.Fatalf("expected session details in status, got %+v", status)
	}
}

func TestHeartbeatWriteFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.init()
	before, _, _ := h.local.LoadUser()

	h.store.mu.Lock()
	h.store.updateErr = errors.New("offline")
	h.store.mu.Unlock()
	h.clock.Advance(time.Minute)

	if !h.c.Resume(context.Background()) {
		t.Fatal("expected resume to run while presence is active")
	}
	h.timers.Fire(TimerHeartbeat)

	after, _, _ := h.local.LoadUser()
	if after.LastActive != before.LastActive {
		t.Fatal("expected failed writes not to touch the cache")
	}
	if _, terminated := h.c.Terminated(); terminated {
		t.Fatal("expected presence failures not to terminate")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.init()
	ctx := context.Background()

	h.c.Destroy(ctx)
	h.c.Destroy(ctx)

	if n := h.store.writes(models.CollectionUsers, "isOnline", false); n != 1 {
		t.Fatalf("expected one offline write, got %d", n)
	}
	if n := h.store.writes(models.CollectionDeviceSessions, "isActive", false); n != 1 {
		t.Fatalf("expected one session end, got %d", n)
	}
	for _, name := range []string{TimerHeartbeat, TimerSessionRefresh, TimerRevalidate} {
		if h.timers.Active(name) != 0 {
			t.Fatalf("expected timer %s to be cancelled", name)
		}
	}
	if h.c.Activity(ctx, "click") {
		t.Fatal("expected activity to be ignored after destroy")
	}
	if h.c.GuardState() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated state, got %s", h.c.GuardState())
	}
	sessions := h.sessions()
	if len(sessions) != 1 || sessions[0].IsActive {
		t.Fatalf("expected session to be ended, got %+v", sessions)
	}
	if len(h.presenter.snapshot().logouts) != 0 {
		t.Fatal("expected destroy to be silent")
	}
}

func TestInitIsIdempotentAndRestartable(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	ctx := context.Background()

	h.init()
	h.init()
	if h.timers.Active(TimerRevalidate) != 1 || h.timers.Active(TimerHeartbeat) != 1 {
		t.Fatal("expected a second init to be a no-op")
	}
	if h.store.creates != 1 {
		t.Fatalf("expected one session create, got %d", h.store.creates)
	}

	h.c.Destroy(ctx)
	h.init()
	if h.timers.Active(TimerRevalidate) != 1 || h.timers.Active(TimerHeartbeat) != 1 {
		t.Fatal("expected init after destroy to schedule fresh timers")
	}
	active := 0
	for _, s := range h.sessions() {
		if s.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active session, got %d", active)
	}
}

func TestRegistryUpsertNeverDuplicates(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.init()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.c.registry.Upsert(ctx, verifiedUser("u1")); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	h.clock.Advance(time.Minute)
	h.timers.Fire(TimerSessionRefresh)

	sessions := h.sessions()
	if len(sessions) != 1 || h.store.creates != 1 {
		t.Fatalf("expected one session record, got %d (creates %d)", len(sessions), h.store.creates)
	}
	if sessions[0].LastActive != h.clock.Now().UnixMilli() {
		t.Fatal("expected refresh to bump lastActive")
	}
	if sessions[0].LoginTime == sessions[0].LastActive {
		t.Fatal("expected refresh to keep loginTime")
	}
}

func TestRegistryRefreshUsesLatestUser(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.init()

	if err := h.mem.Update(context.Background(), models.CollectionUsers, "u1", map[string]any{"plan": "premium"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	h.timers.Fire(TimerSessionRefresh)

	if got := h.sessions()[0].UserPlan; got != models.UserPlanPremium {
		t.Fatalf("expected denormalized plan to follow the user, got %s", got)
	}
}

func TestRegistryAdoptsExistingSession(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.mem.Put(models.CollectionDeviceSessions, "existing", map[string]any{
		"userId":            "u1",
		"deviceFingerprint": h.c.registry.Fingerprint(),
		"isActive":          true,
		"loginTime":         int64(1),
	})
	h.init()

	if h.store.creates != 0 {
		t.Fatalf("expected existing session to be adopted, got %d creates", h.store.creates)
	}
	if h.c.registry.SessionID() != "existing" {
		t.Fatalf("unexpected session id %q", h.c.registry.SessionID())
	}
	if s := h.sessions()[0]; s.LoginTime != 1 || s.LastActive != h.clock.Now().UnixMilli() {
		t.Fatalf("expected adopted session to be refreshed, got %+v", s)
	}
}

func TestRegistryRecreatesVanishedSession(t *testing.T) {
	h := newHarness(t)
	h.seed(verifiedUser("u1"))
	h.init()
	first := h.c.registry.SessionID()

	h.mem.Delete(models.CollectionDeviceSessions, first)
	h.timers.Fire(TimerSessionRefresh)

	if h.store.creates != 2 {
		t.Fatalf("expected a recreate, got %d creates", h.store.creates)
	}
	if id := h.c.registry.SessionID(); id == "" || id == first {
		t.Fatalf("expected a new session id, got %q", id)
	}
}

func TestEndSessionWithoutKnownID(t *testing.T) {
	h := newHarness(t)
	h.c.registry.EndSession(context.Background())
	if n := h.store.writes(models.CollectionDeviceSessions, "isActive", false); n != 0 {
		t.Fatalf("expected no write, got %d", n)
	}
}
