package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/localstate"
	"sessiontrack/internal/models"
	"sessiontrack/internal/store"
)

type GuardState string

const (
	StateUnauthenticated GuardState = "unauthenticated"
	StateValidating      GuardState = "validating"
	StateValid           GuardState = "valid"
	StateInvalid         GuardState = "invalid"
)

// Guard decides whether the cached session is still valid against the
// remote user record and keeps a live watch on that record.
type Guard struct {
	store     store.RemoteStore
	local     *localstate.State
	presenter Presenter
	now       func() time.Time
	log       zerolog.Logger

	onInvalid func(ctx context.Context, f *AuthFailure)
	onValid   func(ctx context.Context, u models.UserRecord)

	mu      sync.Mutex
	state   GuardState
	gen     uint64
	unwatch store.Unsubscribe
}

func newGuard(st store.RemoteStore, local *localstate.State, presenter Presenter, now func() time.Time, log zerolog.Logger) *Guard {
	return &Guard{
		store:     st,
		local:     local,
		presenter: presenter,
		now:       now,
		log:       log,
		state:     StateUnauthenticated,
		onInvalid: func(context.Context, *AuthFailure) {},
		onValid:   func(context.Context, models.UserRecord) {},
	}
}

func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) setState(s GuardState) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Validate checks the cached session against the remote record. A
// returned *AuthFailure has already been handed to the termination path.
func (g *Guard) Validate(ctx context.Context) (models.UserRecord, error) {
	g.mu.Lock()
	gen := g.gen
	g.state = StateValidating
	g.mu.Unlock()

	cached, ok, err := g.local.LoadUser()
	if err != nil {
		g.log.Warn().Err(err).Msg("discarding unreadable session cache")
	}
	if !ok {
		return models.UserRecord{}, g.fail(ctx, gen, noSession())
	}

	doc, err := g.store.Get(ctx, models.CollectionUsers, cached.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.UserRecord{}, g.fail(ctx, gen, notFound())
	case err != nil:
		return g.fallback(ctx, gen, cached, err)
	}

	var user models.UserRecord
	if err := store.Decode(doc, &user); err != nil {
		return g.fallback(ctx, gen, cached, err)
	}
	if failure := Assess(user); failure != nil {
		return models.UserRecord{}, g.fail(ctx, gen, failure)
	}

	if !g.current(gen) {
		return models.UserRecord{}, ErrStopped
	}
	if err := g.local.SaveUser(user); err != nil {
		g.log.Error().Err(err).Msg("save session cache failed")
	}
	g.setState(StateValid)
	g.watch(ctx, gen, user.ID)
	g.onValid(ctx, user)
	return user, nil
}

// fallback keeps a verified cached session alive through remote outages;
// anything else is reported without terminating.
func (g *Guard) fallback(ctx context.Context, gen uint64, cached models.UserRecord, cause error) (models.UserRecord, error) {
	if !g.current(gen) {
		return models.UserRecord{}, ErrStopped
	}
	if cached.Status != models.UserStatusVerified {
		g.log.Warn().Err(cause).Str("user_id", cached.ID).Msg("validation failed without a verified cache")
		g.setState(StateUnauthenticated)
		return models.UserRecord{}, &TransientError{Err: cause}
	}
	g.log.Warn().Err(cause).Str("user_id", cached.ID).Msg("validation failed, using cached session")
	g.setState(StateValid)
	g.onValid(ctx, cached)
	return cached, nil
}

func (g *Guard) fail(ctx context.Context, gen uint64, f *AuthFailure) error {
	if !g.current(gen) {
		return f
	}
	g.setState(StateInvalid)
	g.log.Info().Str("kind", string(f.Kind)).Msg("session invalid")
	g.onInvalid(ctx, f)
	return f
}

func (g *Guard) current(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen == gen
}

// watch opens or replaces the live subscription on the user's document.
func (g *Guard) watch(ctx context.Context, gen uint64, userID string) {
	g.mu.Lock()
	previous := g.unwatch
	g.unwatch = nil
	g.mu.Unlock()
	if previous != nil {
		previous()
	}

	unwatch, err := g.store.WatchDocument(context.WithoutCancel(ctx), models.CollectionUsers, userID,
		func(doc store.Document, exists bool) { g.onSnapshot(gen, doc, exists) },
		func(err error) { g.log.Warn().Err(err).Msg("user watch error") },
	)
	if err != nil {
		g.log.Warn().Err(err).Msg("open user watch failed")
		return
	}

	g.mu.Lock()
	if g.gen != gen || g.unwatch != nil {
		g.mu.Unlock()
		unwatch()
		return
	}
	g.unwatch = unwatch
	g.mu.Unlock()
}

func (g *Guard) onSnapshot(gen uint64, doc store.Document, exists bool) {
	if !g.current(gen) {
		return
	}
	ctx := context.Background()
	if !exists {
		g.fail(ctx, gen, accountDeleted())
		return
	}
	var user models.UserRecord
	if err := store.Decode(doc, &user); err != nil {
		g.log.Warn().Err(err).Msg("ignoring undecodable user push")
		return
	}
	if failure := Assess(user); failure != nil {
		g.fail(ctx, gen, failure)
		return
	}
	if err := g.local.SaveUser(user); err != nil {
		g.log.Error().Err(err).Msg("save session cache failed")
	}
	g.presenter.Emit(EventUserUpdated, user)
}

// Stop closes the live watch; in-flight validations and pushes are
// ignored from here on.
func (g *Guard) Stop() {
	g.mu.Lock()
	g.gen++
	unwatch := g.unwatch
	g.unwatch = nil
	g.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// CurrentUser returns the cached record while the session is valid.
func (g *Guard) CurrentUser() (models.UserRecord, bool) {
	if g.State() != StateValid {
		return models.UserRecord{}, false
	}
	u, ok, err := g.local.LoadUser()
	if err != nil {
		return models.UserRecord{}, false
	}
	return u, ok
}

// CheckAuthenticated validates on first use. A valid session whose user is
// not verified is terminated; an expired trial only raises an event.
func (g *Guard) CheckAuthenticated(ctx context.Context) bool {
	if g.State() == StateUnauthenticated {
		if _, err := g.Validate(ctx); err != nil {
			return false
		}
	}
	u, ok := g.CurrentUser()
	if !ok {
		return false
	}
	if u.Status != models.UserStatusVerified {
		g.mu.Lock()
		gen := g.gen
		g.mu.Unlock()
		g.fail(ctx, gen, notVerified())
		return false
	}
	if st := trialStatus(u, g.now()); st.OnTrial && st.Expired {
		g.presenter.Emit(EventTrialExpired, st)
	}
	return true
}

func (g *Guard) CheckAdmin(ctx context.Context) bool {
	if !g.CheckAuthenticated(ctx) {
		return false
	}
	u, ok := g.CurrentUser()
	return ok && u.IsAdmin()
}

func (g *Guard) HasAccessToYear(year int) bool {
	u, ok := g.CurrentUser()
	if !ok {
		return false
	}
	return hasAccessToYear(u, year, g.now())
}

func (g *Guard) AccessibleYears() []string {
	u, ok := g.CurrentUser()
	if !ok {
		return []string{}
	}
	return accessibleYears(u, g.now())
}
