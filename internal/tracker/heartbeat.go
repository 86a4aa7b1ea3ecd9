package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/jobs"
	"sessiontrack/internal/localstate"
	"sessiontrack/internal/models"
	"sessiontrack/internal/store"
)

const TimerHeartbeat = "presence.heartbeat"

// Heartbeat keeps isOnline/lastActive fresh on the user record while the
// page is open. It owns the device session registry.
type Heartbeat struct {
	store    store.RemoteStore
	local    *localstate.State
	timers   jobs.Timers
	registry *Registry
	interval time.Duration
	throttle time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu          sync.Mutex
	running     bool
	gen         uint64
	userID      string
	userName    string
	ticker      jobs.Handle
	windowStart time.Time
	lastWrite   time.Time
}

type HeartbeatStatus struct {
	Running      bool      `json:"running"`
	UserName     string    `json:"userName"`
	LastActivity time.Time `json:"lastActivity"`
	SessionID    string    `json:"sessionId"`
	Fingerprint  string    `json:"fingerprint"`
}

func newHeartbeat(st store.RemoteStore, local *localstate.State, timers jobs.Timers, registry *Registry,
	interval, throttle, timeout time.Duration, now func() time.Time, log zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		store:    st,
		local:    local,
		timers:   timers,
		registry: registry,
		interval: interval,
		throttle: throttle,
		timeout:  timeout,
		now:      now,
		log:      log,
	}
}

// Start writes presence immediately, schedules the periodic write and
// starts the registry. Failures are logged; Start never blocks on them.
func (h *Heartbeat) Start(ctx context.Context, user models.UserRecord) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.gen++
	gen := h.gen
	h.userID = user.ID
	h.userName = user.Name
	h.windowStart = time.Time{}
	h.ticker = h.timers.Every(TimerHeartbeat, h.interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		h.beat(ctx, gen)
	})
	h.mu.Unlock()

	h.log.Info().Str("user", user.Name).Msg("presence tracking started")
	h.beat(ctx, gen)
	h.registry.Start(ctx, user)
}

// Activity records an interaction event. At most one write goes out per
// throttle window; the first event of a window writes immediately.
func (h *Heartbeat) Activity(ctx context.Context, kind string) bool {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return false
	}
	now := h.now()
	if !h.windowStart.IsZero() && now.Sub(h.windowStart) < h.throttle {
		h.mu.Unlock()
		return false
	}
	h.windowStart = now
	gen := h.gen
	h.mu.Unlock()

	h.log.Debug().Str("kind", kind).Msg("activity")
	h.beat(ctx, gen)
	return true
}

// Resume writes immediately when the page becomes visible or focused
// again, regardless of the throttle window.
func (h *Heartbeat) Resume(ctx context.Context) bool {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return false
	}
	gen := h.gen
	h.mu.Unlock()

	h.beat(ctx, gen)
	return true
}

func (h *Heartbeat) beat(ctx context.Context, gen uint64) {
	h.mu.Lock()
	if !h.running || h.gen != gen {
		h.mu.Unlock()
		return
	}
	userID := h.userID
	h.mu.Unlock()

	now := h.now()
	fields := map[string]any{"isOnline": true, "lastActive": now.UnixMilli()}
	if err := h.store.Update(ctx, models.CollectionUsers, userID, fields); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("presence write failed")
		return
	}

	h.mu.Lock()
	if !h.running || h.gen != gen {
		h.mu.Unlock()
		return
	}
	h.lastWrite = now
	h.mu.Unlock()

	cached, ok, err := h.local.LoadUser()
	if err != nil || !ok || cached.ID != userID {
		return
	}
	cached.IsOnline = true
	cached.LastActive = now.UnixMilli()
	if err := h.local.SaveUser(cached); err != nil {
		h.log.Warn().Err(err).Msg("update session cache failed")
	}
}

// MarkOffline is a best-effort single write; errors are only logged.
func (h *Heartbeat) MarkOffline(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	fields := map[string]any{"isOnline": false, "lastActive": h.now().UnixMilli()}
	if err := h.store.Update(ctx, models.CollectionUsers, userID, fields); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("mark offline failed")
		return
	}
	h.log.Info().Str("user_id", userID).Msg("user marked offline")
}

// Stop cancels the ticker, marks the user offline and ends the device
// session. It reports whether anything was running; a second call writes
// nothing.
func (h *Heartbeat) Stop(ctx context.Context) bool {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return false
	}
	h.running = false
	h.gen++
	ticker := h.ticker
	userID := h.userID
	h.ticker = nil
	h.userID = ""
	h.userName = ""
	h.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	h.MarkOffline(ctx, userID)
	h.registry.Stop(ctx)
	return true
}

func (h *Heartbeat) Status() HeartbeatStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeartbeatStatus{
		Running:      h.running,
		UserName:     h.userName,
		LastActivity: h.lastWrite,
		SessionID:    h.registry.SessionID(),
		Fingerprint:  h.registry.Fingerprint(),
	}
}
