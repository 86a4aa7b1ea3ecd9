package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/device"
	"sessiontrack/internal/jobs"
	"sessiontrack/internal/models"
	"sessiontrack/internal/store"
)

const TimerSessionRefresh = "presence.session"

// Registry keeps one active deviceSessions record per user and device.
type Registry struct {
	store       store.RemoteStore
	timers      jobs.Timers
	interval    time.Duration
	timeout     time.Duration
	fingerprint string
	descriptor  device.Descriptor
	users       func() (models.UserRecord, bool)
	now         func() time.Time
	log         zerolog.Logger

	// opMu orders upserts and session ends so a known id is never
	// followed by a second create.
	opMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	user      models.UserRecord
	running   bool
	ticker    jobs.Handle
}

func newRegistry(st store.RemoteStore, timers jobs.Timers, interval, timeout time.Duration, signals device.Signals,
	users func() (models.UserRecord, bool), now func() time.Time, log zerolog.Logger) *Registry {
	return &Registry{
		store:       st,
		timers:      timers,
		interval:    interval,
		timeout:     timeout,
		fingerprint: device.Fingerprint(signals),
		descriptor:  device.Classify(signals.UserAgent, signals.Platform),
		users:       users,
		now:         now,
		log:         log,
	}
}

func (r *Registry) Fingerprint() string {
	return r.fingerprint
}

func (r *Registry) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// FindExisting returns the id of an active session for the pair, or "".
func (r *Registry) FindExisting(ctx context.Context, userID, fingerprint string) (string, error) {
	q := store.Query{Collection: models.CollectionDeviceSessions}.
		Where("userId", store.OpEq, userID).
		Where("deviceFingerprint", store.OpEq, fingerprint).
		Where("isActive", store.OpEq, true).
		Take(1)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].ID, nil
}

// Upsert refreshes the known session or creates the first one. A known
// session that was deleted remotely is recreated.
func (r *Registry) Upsert(ctx context.Context, user models.UserRecord) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.upsertLocked(ctx, user)
}

// upsertWhileRunning skips the write once Stop has run, so a Start racing
// a Stop cannot leave an active session behind.
func (r *Registry) upsertWhileRunning(ctx context.Context, user models.UserRecord) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return nil
	}
	return r.upsertLocked(ctx, user)
}

func (r *Registry) upsertLocked(ctx context.Context, user models.UserRecord) error {
	now := r.now().UnixMilli()
	if id := r.SessionID(); id != "" {
		err := r.store.Update(ctx, models.CollectionDeviceSessions, id, r.refreshFields(user, now))
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		r.log.Warn().Str("session_id", id).Msg("known session vanished, recreating")
	}

	id, err := r.store.Create(ctx, models.CollectionDeviceSessions, r.createFields(user, now))
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
	r.log.Info().Str("session_id", id).Msg("device session created")
	return nil
}

func (r *Registry) refreshFields(u models.UserRecord, now int64) map[string]any {
	return map[string]any{
		"lastActive":  now,
		"isActive":    true,
		"userStatus":  statusOrUnknown(u.Status),
		"userPlan":    planOrBasic(u.Plan),
		"deviceType":  string(r.descriptor.Type),
		"deviceName":  r.descriptor.Name,
		"deviceModel": r.descriptor.Model,
		"deviceBrand": r.descriptor.Brand,
		"browser":     r.descriptor.Browser,
		"os":          r.descriptor.OS,
		"platform":    r.descriptor.Platform,
		"userAgent":   r.descriptor.UserAgent,
	}
}

func (r *Registry) createFields(u models.UserRecord, now int64) map[string]any {
	fields := r.refreshFields(u, now)
	fields["userId"] = u.ID
	fields["userName"] = u.Name
	fields["userPhone"] = u.Phone
	fields["deviceFingerprint"] = r.fingerprint
	fields["loginTime"] = now
	return fields
}

func statusOrUnknown(s models.UserStatus) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

func planOrBasic(p models.UserPlan) string {
	if p == "" {
		return string(models.UserPlanBasic)
	}
	return string(p)
}

// Start adopts an existing active session for this device, upserts it and
// schedules the periodic refresh. Calling Start while running is a no-op.
func (r *Registry) Start(ctx context.Context, user models.UserRecord) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.user = user
	r.mu.Unlock()

	if r.SessionID() == "" {
		id, err := r.FindExisting(ctx, user.ID, r.fingerprint)
		if err != nil {
			r.log.Warn().Err(err).Msg("find existing session failed")
		}
		if id != "" {
			r.mu.Lock()
			r.sessionID = id
			r.mu.Unlock()
		}
	}
	if err := r.upsertWhileRunning(ctx, user); err != nil {
		r.log.Warn().Err(err).Msg("session upsert failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.ticker != nil {
		return
	}
	r.ticker = r.timers.Every(TimerSessionRefresh, r.interval, r.refresh)
}

func (r *Registry) refresh() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	user := r.user
	r.mu.Unlock()
	if latest, ok := r.users(); ok && latest.ID == user.ID {
		user = latest
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.upsertWhileRunning(ctx, user); err != nil {
		r.log.Warn().Err(err).Msg("session refresh failed")
	}
}

// EndSession marks the known session inactive. Without a known id, or on
// a second call, it writes nothing.
func (r *Registry) EndSession(ctx context.Context) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	id := r.sessionID
	r.sessionID = ""
	r.mu.Unlock()
	if id == "" {
		return
	}

	fields := map[string]any{"isActive": false, "logoutTime": r.now().UnixMilli()}
	if err := r.store.Update(ctx, models.CollectionDeviceSessions, id, fields); err != nil {
		r.log.Warn().Err(err).Str("session_id", id).Msg("end session failed")
		return
	}
	r.log.Info().Str("session_id", id).Msg("device session ended")
}

func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	r.running = false
	ticker := r.ticker
	r.ticker = nil
	r.mu.Unlock()
	if ticker != nil {
		ticker.Stop()
	}
	r.EndSession(ctx)
}
