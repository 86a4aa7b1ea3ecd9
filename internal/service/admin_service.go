package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/jobs"
	"sessiontrack/internal/models"
	"sessiontrack/internal/notify"
	"sessiontrack/internal/repository"
	"sessiontrack/internal/store"
	"sessiontrack/internal/tracker"
)

const (
	recentSessionLimit = 100
	activeSessionAge   = 5 * time.Minute
)

var (
	ErrInvalidTarget = errors.New("invalid broadcast target")
	ErrInvalidAction = errors.New("invalid broadcast action")
	ErrMissingTarget = errors.New("targeted broadcast is missing its recipient")
	ErrInvalidStatus = errors.New("invalid user status")
)

// AdminService is the operator side of the tracker: it publishes broadcasts
// and edits the user documents every tracker instance watches.
type AdminService struct {
	store    store.RemoteStore
	users    *repository.UserRepository
	sessions *repository.SessionRepository
	sweeper  *jobs.Sweeper
	notify   notify.Channel
	cfg      *config.AppConfig
	now      func() time.Time
	log      zerolog.Logger
}

func NewAdminService(
	st store.RemoteStore,
	sweeper *jobs.Sweeper,
	channel notify.Channel,
	cfg *config.AppConfig,
	now func() time.Time,
	log zerolog.Logger,
) *AdminService {
	if now == nil {
		now = time.Now
	}
	if channel == nil {
		channel = notify.Noop{}
	}
	return &AdminService{
		store:    st,
		users:    repository.NewUserRepository(st),
		sessions: repository.NewSessionRepository(st),
		sweeper:  sweeper,
		notify:   channel,
		cfg:      cfg,
		now:      now,
		log:      log,
	}
}

type BroadcastInput struct {
	Target       models.BroadcastTarget `json:"target"`
	TargetPhone  string                 `json:"targetPhone"`
	TargetUserID string                 `json:"targetUserId"`
	Action       models.BroadcastAction `json:"action"`
	Message      string                 `json:"message"`
	Type         models.NoticeType      `json:"type"`
}

func (in BroadcastInput) validate() error {
	switch in.Target {
	case models.TargetAll, models.TargetVerified, models.TargetPremium, models.TargetTrial, models.TargetOnline:
	case models.TargetSpecific:
		if strings.TrimSpace(in.TargetPhone) == "" {
			return fmt.Errorf("%w: %s needs targetPhone", ErrMissingTarget, in.Target)
		}
	case models.TargetSpecificUser:
		if strings.TrimSpace(in.TargetUserID) == "" {
			return fmt.Errorf("%w: %s needs targetUserId", ErrMissingTarget, in.Target)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTarget, in.Target)
	}
	switch in.Action {
	case models.ActionClearLocalStorage,
		models.ActionClearLocalStorageAndLogout,
		models.ActionClearAllData,
		models.ActionAdminForcedLogout,
		models.ActionGlobalLogout,
		models.ActionShowNotification,
		models.ActionGetOnlineUsers:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, in.Action)
	}
	return nil
}

// PublishBroadcast appends a broadcast stamped with the current time.
func (s *AdminService) PublishBroadcast(ctx context.Context, in BroadcastInput) (models.BroadcastMessage, error) {
	if err := in.validate(); err != nil {
		return models.BroadcastMessage{}, err
	}
	if in.Type == "" {
		in.Type = models.NoticeInfo
	}
	msg := models.BroadcastMessage{
		Target:       in.Target,
		TargetPhone:  strings.TrimSpace(in.TargetPhone),
		TargetUserID: strings.TrimSpace(in.TargetUserID),
		Action:       in.Action,
		Message:      in.Message,
		Type:         in.Type,
		Timestamp:    s.now().UnixMilli(),
	}
	fields, err := store.Fields(msg)
	if err != nil {
		return models.BroadcastMessage{}, err
	}
	id, err := s.store.Create(ctx, models.CollectionBroadcasts, fields)
	if err != nil {
		return models.BroadcastMessage{}, fmt.Errorf("publish broadcast: %w", err)
	}
	msg.ID = id
	s.log.Info().
		Str("broadcast_id", id).
		Str("target", string(msg.Target)).
		Str("action", string(msg.Action)).
		Msg("broadcast published")
	return msg, nil
}

func (s *AdminService) ForceLogout(ctx context.Context, userID string) error {
	if err := s.users.Update(ctx, userID, map[string]any{"forceLogout": true}); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Msg("force logout set")
	return nil
}

func (s *AdminService) ClearForceLogout(ctx context.Context, userID string) error {
	return s.users.Update(ctx, userID, map[string]any{"forceLogout": false})
}

type BanInput struct {
	Reason string `json:"reason"`
	// Duration of zero bans permanently.
	Duration time.Duration `json:"duration"`
}

func (s *AdminService) Ban(ctx context.Context, userID string, in BanInput) error {
	var expires any
	if in.Duration > 0 {
		expires = s.now().Add(in.Duration).UnixMilli()
	}
	err := s.users.Update(ctx, userID, map[string]any{
		"status":     string(models.UserStatusBanned),
		"banReason":  in.Reason,
		"banExpires": expires,
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Str("reason", in.Reason).Dur("duration", in.Duration).Msg("user banned")
	return nil
}

func (s *AdminService) Unban(ctx context.Context, userID string) error {
	return s.users.Update(ctx, userID, map[string]any{
		"status":     string(models.UserStatusVerified),
		"banReason":  "",
		"banExpires": nil,
	})
}

func (s *AdminService) SetStatus(ctx context.Context, userID string, status models.UserStatus) error {
	switch status {
	case models.UserStatusPending, models.UserStatusVerified, models.UserStatusRejected, models.UserStatusBanned:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.users.UpdateStatus(ctx, userID, status)
}

func (s *AdminService) onlineWindow() time.Duration {
	if s.cfg != nil && s.cfg.Tracker.OnlineWindow > 0 {
		return s.cfg.Tracker.OnlineWindow
	}
	return activeSessionAge
}

// OnlineUsers lists users active within the online window.
func (s *AdminService) OnlineUsers(ctx context.Context) ([]models.UserRecord, error) {
	return s.users.ActiveSince(ctx, s.now().Add(-s.onlineWindow()).UnixMilli())
}

// ReportOnlineUsers sends the online users summary to the notify channel
// and returns the text.
func (s *AdminService) ReportOnlineUsers(ctx context.Context) (string, error) {
	users, err := s.OnlineUsers(ctx)
	if err != nil {
		return "", err
	}
	report := tracker.OnlineUsersReport(users, s.onlineWindow())
	if err := s.notify.Send(ctx, report); err != nil {
		return report, fmt.Errorf("deliver report: %w", err)
	}
	return report, nil
}

// UserSessions groups one user's sessions, newest first.
type UserSessions struct {
	UserID     string                 `json:"userId"`
	UserName   string                 `json:"userName"`
	UserPhone  string                 `json:"userPhone"`
	LastActive int64                  `json:"lastActive"`
	Sessions   []models.SessionRecord `json:"sessions"`
}

// RecentSessions groups the most recent sessions by user.
func (s *AdminService) RecentSessions(ctx context.Context) ([]UserSessions, error) {
	sessions, err := s.sessions.Recent(ctx, recentSessionLimit)
	if err != nil {
		return nil, err
	}
	return groupByUser(sessions), nil
}

// ActiveSessions returns sessions flagged active and seen within the last
// five minutes.
func (s *AdminService) ActiveSessions(ctx context.Context) ([]models.SessionRecord, error) {
	return s.sessions.ActiveSince(ctx, s.now().Add(-activeSessionAge).UnixMilli())
}

func (s *AdminService) Sweep(ctx context.Context) (jobs.SweepResult, error) {
	if s.sweeper == nil {
		return jobs.SweepResult{}, errors.New("sweeper not configured")
	}
	return s.sweeper.Run(ctx)
}

func groupByUser(sessions []models.SessionRecord) []UserSessions {
	index := make(map[string]int)
	var groups []UserSessions
	for _, sess := range sessions {
		i, ok := index[sess.UserID]
		if !ok {
			i = len(groups)
			index[sess.UserID] = i
			groups = append(groups, UserSessions{
				UserID:    sess.UserID,
				UserName:  sess.UserName,
				UserPhone: sess.UserPhone,
			})
		}
		g := &groups[i]
		g.Sessions = append(g.Sessions, sess)
		if sess.LastActive > g.LastActive {
			g.LastActive = sess.LastActive
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].LastActive > groups[j].LastActive })
	return groups
}
