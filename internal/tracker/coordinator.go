// Package tracker validates the current user's session against the remote
// store, propagates presence, applies administrator broadcasts and tears
// everything down through one forced-termination routine.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/device"
	"sessiontrack/internal/jobs"
	"sessiontrack/internal/localstate"
	"sessiontrack/internal/models"
	"sessiontrack/internal/notify"
	"sessiontrack/internal/security"
	"sessiontrack/internal/store"
)

const (
	TimerRevalidate = "guard.revalidate"
	TimerRedirect   = "lifecycle.redirect"
)

type Deps struct {
	Store     store.RemoteStore
	Notify    notify.Channel
	Local     *localstate.State
	Presenter Presenter
	Timers    jobs.Timers
	Signals   device.Signals
	Now       func() time.Time
	Log       zerolog.Logger
}

// Coordinator owns one page life: it orders initialization and teardown
// across the guard, presence and broadcast components.
type Coordinator struct {
	cfg        config.TrackerConfig
	local      *localstate.State
	notify     notify.Channel
	presenter  Presenter
	timers     jobs.Timers
	now        func() time.Time
	log        zerolog.Logger
	guard      *Guard
	heartbeat  *Heartbeat
	registry   *Registry
	dispatcher *Dispatcher

	mu          sync.Mutex
	initialized bool
	revalidate  jobs.Handle
	redirect    jobs.Handle
	terminated  atomic.Bool
	lastFailure *AuthFailure
}

func New(cfg config.TrackerConfig, deps Deps) *Coordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Notify == nil {
		deps.Notify = notify.Noop{}
	}
	if deps.Presenter == nil {
		deps.Presenter = NopPresenter{}
	}
	component := func(name string) zerolog.Logger {
		return deps.Log.With().Str("component", name).Logger()
	}

	c := &Coordinator{
		cfg:       cfg,
		local:     deps.Local,
		notify:    deps.Notify,
		presenter: deps.Presenter,
		timers:    deps.Timers,
		now:       deps.Now,
		log:       component("lifecycle"),
	}

	c.guard = newGuard(deps.Store, deps.Local, deps.Presenter, deps.Now, component("guard"))
	c.registry = newRegistry(deps.Store, deps.Timers, cfg.SessionRefreshInterval, cfg.RemoteTimeout,
		deps.Signals, c.guard.CurrentUser, deps.Now, component("registry"))
	c.heartbeat = newHeartbeat(deps.Store, deps.Local, deps.Timers, c.registry,
		cfg.HeartbeatInterval, cfg.ActivityThrottle, cfg.RemoteTimeout, deps.Now, component("heartbeat"))
	c.dispatcher = &Dispatcher{
		store:     deps.Store,
		notify:    deps.Notify,
		local:     deps.Local,
		presenter: deps.Presenter,
		control:   c,
		users:     c.guard.CurrentUser,
		window:    cfg.BroadcastWindow,
		online:    cfg.OnlineWindow,
		timeout:   cfg.RemoteTimeout,
		replay:    cfg.ReplayBacklog,
		now:       deps.Now,
		log:       component("broadcast"),
	}

	c.guard.onInvalid = c.Terminate
	c.guard.onValid = c.heartbeat.Start
	return c
}

// Init validates the session before anything else runs, then schedules
// revalidation and starts listening for broadcasts. Until Destroy, a
// second call returns the failure that terminated the session, or nil.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		failure := c.lastFailure
		c.mu.Unlock()
		if failure != nil && c.terminated.Load() {
			return failure
		}
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	c.log.Info().Msg("initializing session tracking")
	_, err := c.guard.Validate(ctx)

	c.mu.Lock()
	if c.terminated.Load() {
		c.mu.Unlock()
		return err
	}
	c.revalidate = c.timers.Every(TimerRevalidate, c.cfg.RevalidateInterval, c.revalidateNow)
	c.mu.Unlock()

	if derr := c.dispatcher.Start(ctx); derr != nil {
		c.log.Warn().Err(derr).Msg("broadcast listener not started")
	}
	if c.terminated.Load() {
		c.dispatcher.Stop()
	}
	return err
}

func (c *Coordinator) revalidateNow() {
	if c.terminated.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RemoteTimeout)
	defer cancel()
	var transient *TransientError
	if _, err := c.guard.Validate(ctx); errors.As(err, &transient) {
		c.log.Warn().Err(err).Msg("periodic validation inconclusive")
	}
}

// Terminate is the single forced-termination routine. Only the first call
// has any effect.
func (c *Coordinator) Terminate(ctx context.Context, f *AuthFailure) {
	if !c.terminated.CompareAndSwap(false, true) {
		return
	}
	c.log.Warn().Str("kind", string(f.Kind)).Str("reason", f.Message).Msg("forced termination")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RemoteTimeout)
	defer cancel()

	c.mu.Lock()
	c.lastFailure = f
	revalidate := c.revalidate
	c.revalidate = nil
	c.mu.Unlock()
	if revalidate != nil {
		revalidate.Stop()
	}

	c.dispatcher.Stop()
	cached, hasUser, _ := c.local.LoadUser()
	c.guard.Stop()
	c.guard.setState(StateInvalid)
	if !c.heartbeat.Stop(ctx) && hasUser {
		c.heartbeat.MarkOffline(ctx, cached.ID)
	}

	var keep []string
	if f.Kind == FailureLogout {
		keep = append(keep, localstate.KeyLogoutCode)
	}
	if err := c.local.ClearSession(keep...); err != nil {
		c.log.Error().Err(err).Msg("clear session state failed")
	}

	c.presenter.ShowLogoutMessage(f.Message)
	if f.Kind == FailureNoSession || c.cfg.RedirectDelay <= 0 {
		c.presenter.Redirect(c.cfg.LoginPath)
		return
	}
	handle := c.timers.After(TimerRedirect, c.cfg.RedirectDelay, func() {
		c.presenter.Redirect(c.cfg.LoginPath)
	})
	c.mu.Lock()
	c.redirect = handle
	c.mu.Unlock()
}

// EndPresence stops presence and forgets the session without redirecting.
func (c *Coordinator) EndPresence(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RemoteTimeout)
	defer cancel()
	c.heartbeat.Stop(ctx)
	c.guard.Stop()
	c.guard.setState(StateUnauthenticated)
}

// Destroy releases subscriptions and timers, marks the user offline and
// resets state so Init can run again.
func (c *Coordinator) Destroy(ctx context.Context) {
	c.mu.Lock()
	handles := []jobs.Handle{c.revalidate, c.redirect}
	c.revalidate = nil
	c.redirect = nil
	c.initialized = false
	c.lastFailure = nil
	c.mu.Unlock()
	for _, h := range handles {
		if h != nil {
			h.Stop()
		}
	}

	c.dispatcher.Stop()
	c.guard.Stop()
	c.heartbeat.Stop(ctx)
	c.guard.setState(StateUnauthenticated)
	c.terminated.Store(false)
}

// Logout issues a one-time code, notifies the admin channel and terminates
// the session whether or not the notification went out. The pending code
// survives the termination so it can be verified later.
func (c *Coordinator) Logout(ctx context.Context) error {
	code, err := security.GenerateLogoutCode()
	if err != nil {
		return err
	}
	hash, err := security.HashCode(code)
	if err != nil {
		return err
	}
	if err := c.local.SetPendingLogoutCode(hash); err != nil {
		return fmt.Errorf("store logout code: %w", err)
	}

	user, _, _ := c.local.LoadUser()
	text := fmt.Sprintf("Logout Request\nName: %s\nPhone: %s\nCode: %s", user.Name, user.Phone, code)
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	if err := c.notify.Send(sendCtx, text); err != nil {
		c.log.Warn().Err(err).Msg("logout notification not delivered")
	}
	cancel()

	c.Terminate(ctx, userLogout())
	return nil
}

// VerifyLogoutCode compares code with the pending one. A match consumes
// the code and logs out; a mismatch has no side effects.
func (c *Coordinator) VerifyLogoutCode(ctx context.Context, code string) (bool, error) {
	hash, ok := c.local.PendingLogoutCode()
	if !ok {
		return false, nil
	}
	match, err := security.VerifyCode(code, hash)
	if err != nil {
		return false, err
	}
	if !match {
		return false, nil
	}
	if err := c.local.ClearPendingLogoutCode(); err != nil {
		c.log.Warn().Err(err).Msg("consume logout code failed")
	}
	c.Terminate(ctx, userLogout())
	return true, nil
}

func (c *Coordinator) CheckAuthenticated(ctx context.Context) bool {
	if c.terminated.Load() {
		return false
	}
	return c.guard.CheckAuthenticated(ctx)
}

func (c *Coordinator) CheckAdmin(ctx context.Context) bool {
	if c.terminated.Load() {
		return false
	}
	return c.guard.CheckAdmin(ctx)
}

func (c *Coordinator) CurrentUser() (models.UserRecord, bool) {
	return c.guard.CurrentUser()
}

func (c *Coordinator) HasAccessToYear(year int) bool {
	return c.guard.HasAccessToYear(year)
}

func (c *Coordinator) AccessibleYears() []string {
	return c.guard.AccessibleYears()
}

func (c *Coordinator) TrialStatus() (TrialStatus, bool) {
	u, ok := c.guard.CurrentUser()
	if !ok {
		return TrialStatus{}, false
	}
	return trialStatus(u, c.now()), true
}

func (c *Coordinator) Activity(ctx context.Context, kind string) bool {
	return c.heartbeat.Activity(ctx, kind)
}

func (c *Coordinator) Resume(ctx context.Context) bool {
	return c.heartbeat.Resume(ctx)
}

func (c *Coordinator) GuardState() GuardState {
	return c.guard.State()
}

func (c *Coordinator) PresenceStatus() HeartbeatStatus {
	return c.heartbeat.Status()
}

// Terminated returns the failure that ended the session, if any.
func (c *Coordinator) Terminated() (*AuthFailure, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFailure, c.terminated.Load()
}

// Dispatcher exposes the broadcast dispatcher for direct application of
// commands.
func (c *Coordinator) Dispatcher() *Dispatcher {
	return c.dispatcher
}
