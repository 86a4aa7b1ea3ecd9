package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/localstate"
	"sessiontrack/internal/models"
	"sessiontrack/internal/notify"
	"sessiontrack/internal/store"
)

// sessionControl is what broadcast actions need from the coordinator.
type sessionControl interface {
	Terminate(ctx context.Context, f *AuthFailure)
	EndPresence(ctx context.Context)
}

// Dispatcher applies administrator broadcasts to the current session.
type Dispatcher struct {
	store     store.RemoteStore
	notify    notify.Channel
	local     *localstate.State
	presenter Presenter
	control   sessionControl
	users     func() (models.UserRecord, bool)
	window    time.Duration
	online    time.Duration
	timeout   time.Duration
	replay    bool
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	running  bool
	unsub    store.Unsubscribe
	seen     map[string]struct{}
	snapshot bool
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.seen = make(map[string]struct{})
	d.snapshot = false
	d.mu.Unlock()

	q := store.Query{Collection: models.CollectionBroadcasts}.
		Where("timestamp", store.OpGt, d.now().Add(-d.window).UnixMilli()).
		Order("timestamp", true)
	unsub, err := d.store.WatchQuery(context.WithoutCancel(ctx), q, d.onChanges,
		func(err error) { d.log.Warn().Err(err).Msg("broadcast watch error") })
	if err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("watch broadcasts: %w", err)
	}

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		unsub()
		return nil
	}
	d.unsub = unsub
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.running = false
	unsub := d.unsub
	d.unsub = nil
	d.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// onChanges only considers added documents and never applies one twice.
// The first batch is the backlog already in the window; it is marked seen
// and skipped unless replay is enabled.
func (d *Dispatcher) onChanges(changes []store.Change) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	initial := !d.snapshot
	d.snapshot = true
	var fresh []store.Document
	for _, c := range changes {
		if c.Type != store.ChangeAdded {
			continue
		}
		if _, ok := d.seen[c.Doc.ID]; ok {
			continue
		}
		d.seen[c.Doc.ID] = struct{}{}
		fresh = append(fresh, c.Doc)
	}
	d.mu.Unlock()

	if initial && !d.replay {
		if len(fresh) > 0 {
			d.log.Debug().Int("count", len(fresh)).Msg("skipping broadcast backlog")
		}
		return
	}

	ctx := context.Background()
	for _, doc := range fresh {
		var msg models.BroadcastMessage
		if err := store.Decode(doc, &msg); err != nil {
			d.log.Warn().Err(err).Str("broadcast_id", doc.ID).Msg("ignoring undecodable broadcast")
			continue
		}
		user, ok := d.users()
		if !ok || !Matches(msg, user) {
			continue
		}
		d.Apply(ctx, msg)
	}
}

// Matches reports whether a broadcast targets the user.
func Matches(msg models.BroadcastMessage, u models.UserRecord) bool {
	switch msg.Target {
	case models.TargetAll:
		return true
	case models.TargetVerified:
		return u.Status == models.UserStatusVerified
	case models.TargetPremium:
		return u.Plan == models.UserPlanPremium
	case models.TargetTrial:
		return u.Plan == models.UserPlanTrial
	case models.TargetOnline:
		return u.IsOnline
	case models.TargetSpecific:
		return msg.TargetPhone != "" && msg.TargetPhone == u.Phone
	case models.TargetSpecificUser:
		return msg.TargetUserID != "" && msg.TargetUserID == u.ID
	}
	return false
}

// Apply runs the action of a broadcast that already matched. Unknown
// actions are ignored.
func (d *Dispatcher) Apply(ctx context.Context, msg models.BroadcastMessage) {
	d.log.Info().Str("broadcast_id", msg.ID).Str("action", string(msg.Action)).Msg("admin command received")

	switch msg.Action {
	case models.ActionClearLocalStorage, models.ActionClearLocalStorageAndLogout:
		d.control.EndPresence(ctx)
		if err := d.local.ClearSession(); err != nil {
			d.log.Error().Err(err).Msg("clear session state failed")
		}
		d.presenter.ShowLogoutMessage(orDefault(msg.Message, "Session cleared by administrator."))
	case models.ActionClearAllData:
		d.clearAll(ctx, orDefault(msg.Message, "All data cleared by administrator."))
	case models.ActionGlobalLogout:
		d.clearAll(ctx, orDefault(msg.Message, "Global logout initiated by administrator."))
	case models.ActionAdminForcedLogout:
		d.control.Terminate(ctx, adminLogout(msg.Message))
	case models.ActionShowNotification:
		kind := msg.Type
		if kind == "" {
			kind = models.NoticeInfo
		}
		d.presenter.ShowBanner(msg.Message, kind)
	case models.ActionGetOnlineUsers:
		d.reportOnlineUsers(ctx)
	default:
		d.log.Warn().Str("action", string(msg.Action)).Msg("unknown broadcast action")
	}
}

func (d *Dispatcher) clearAll(ctx context.Context, message string) {
	d.control.EndPresence(ctx)
	if err := d.local.ClearAll(); err != nil {
		d.log.Error().Err(err).Msg("clear all state failed")
	}
	d.presenter.ShowLogoutMessage(message)
}

func (d *Dispatcher) reportOnlineUsers(ctx context.Context) {
	user, ok := d.users()
	if !ok || !user.IsAdmin() {
		d.log.Debug().Msg("online users report requested by non-admin session")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	q := store.Query{Collection: models.CollectionUsers}.
		Where("lastActive", store.OpGte, d.now().Add(-d.online).UnixMilli())
	docs, err := d.store.Query(ctx, q)
	if err != nil {
		d.log.Warn().Err(err).Msg("online users query failed")
		return
	}

	users := make([]models.UserRecord, 0, len(docs))
	for _, doc := range docs {
		var u models.UserRecord
		if err := store.Decode(doc, &u); err != nil {
			continue
		}
		users = append(users, u)
	}
	if err := d.notify.Send(ctx, OnlineUsersReport(users, d.online)); err != nil {
		d.log.Warn().Err(err).Msg("online users report not delivered")
	}
}

// OnlineUsersReport renders users most recently active first.
func OnlineUsersReport(users []models.UserRecord, window time.Duration) string {
	sorted := append([]models.UserRecord(nil), users...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LastActive > sorted[j].LastActive })

	var b strings.Builder
	fmt.Fprintf(&b, "Online Users (last %s): %d", window, len(sorted))
	for _, u := range sorted {
		fmt.Fprintf(&b, "\n- %s (%s) %s", u.Name, u.Phone, u.Plan)
	}
	return b.String()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
