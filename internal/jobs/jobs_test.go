package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/models"
	"sessiontrack/internal/store/memstore"
)

func TestSchedulerAfterFiresOnce(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	fired := make(chan struct{}, 2)
	s.After("once", 10*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected timer to fire")
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	fired := make(chan struct{}, 1)
	h := s.After("cancelled", 50*time.Millisecond, func() { fired <- struct{}{} })
	h.Stop()
	h.Stop()

	every := s.Every("tick", time.Minute, func() {})
	every.Stop()
	every.Stop()
	if n := len(s.cron.Entries()); n != 0 {
		t.Fatalf("expected no cron entries, got %d", n)
	}

	select {
	case <-fired:
		t.Fatal("expected stopped timer not to fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerEveryRuns(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	fired := make(chan struct{}, 4)
	h := s.Every("tick", time.Second, func() { fired <- struct{}{} })
	defer h.Stop()
	s.Start()
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("expected periodic job to run")
	}
}

func TestSchedulerAddFuncRejectsBadSpec(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	if _, err := s.AddFunc("bad", "every minute", func() {}); err == nil {
		t.Fatal("expected invalid spec to fail")
	}
	if _, err := s.AddFunc("sweep", "0 */1 * * * *", func() {}); err != nil {
		t.Fatalf("add func: %v", err)
	}
}

func TestSweeperMarksStaleOffline(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(10_000_000)
	st := memstore.New()
	st.Put(models.CollectionUsers, "stale", map[string]any{"isOnline": true, "lastActive": now.Add(-10 * time.Minute).UnixMilli()})
	st.Put(models.CollectionUsers, "fresh", map[string]any{"isOnline": true, "lastActive": now.Add(-time.Minute).UnixMilli()})
	st.Put(models.CollectionDeviceSessions, "s1", map[string]any{"isActive": true, "lastActive": now.Add(-time.Hour).UnixMilli()})
	st.Put(models.CollectionDeviceSessions, "s2", map[string]any{"isActive": false, "lastActive": now.Add(-time.Hour).UnixMilli()})

	sw := NewSweeper(st, 5*time.Minute, func() time.Time { return now }, zerolog.Nop())
	result, err := sw.Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.UsersOffline != 1 || result.SessionsInactive != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	stale, _ := st.Get(ctx, models.CollectionUsers, "stale")
	fresh, _ := st.Get(ctx, models.CollectionUsers, "fresh")
	if stale.Data["isOnline"] != false || fresh.Data["isOnline"] != true {
		t.Fatalf("unexpected presence stale=%v fresh=%v", stale.Data, fresh.Data)
	}
	s1, _ := st.Get(ctx, models.CollectionDeviceSessions, "s1")
	if s1.Data["isActive"] != false || s1.Data["logoutTime"] != now.UnixMilli() {
		t.Fatalf("unexpected session %v", s1.Data)
	}
}
