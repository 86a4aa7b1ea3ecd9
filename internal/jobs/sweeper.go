package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/models"
	"sessiontrack/internal/store"
)

// Sweeper reconciles presence for clients that disappeared without marking
// themselves offline.
type Sweeper struct {
	store      store.RemoteStore
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

type SweepResult struct {
	UsersOffline     int
	SessionsInactive int
}

func NewSweeper(s store.RemoteStore, staleAfter time.Duration, now func() time.Time, log zerolog.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{store: s, staleAfter: staleAfter, now: now, log: log}
}

func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()
	cutoff := now.Add(-s.staleAfter).UnixMilli()
	var errs []error

	users, err := s.store.Query(ctx, store.Query{Collection: models.CollectionUsers}.
		Where("isOnline", store.OpEq, true).
		Where("lastActive", store.OpLt, cutoff))
	if err != nil {
		return result, fmt.Errorf("query stale users: %w", err)
	}
	for _, u := range users {
		if err := s.store.Update(ctx, models.CollectionUsers, u.ID, map[string]any{"isOnline": false}); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		result.UsersOffline++
	}

	sessions, err := s.store.Query(ctx, store.Query{Collection: models.CollectionDeviceSessions}.
		Where("isActive", store.OpEq, true).
		Where("lastActive", store.OpLt, cutoff))
	if err != nil {
		return result, errors.Join(append(errs, fmt.Errorf("query stale sessions: %w", err))...)
	}
	for _, sess := range sessions {
		fields := map[string]any{"isActive": false, "logoutTime": now.UnixMilli()}
		if err := s.store.Update(ctx, models.CollectionDeviceSessions, sess.ID, fields); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.ID, err))
			continue
		}
		result.SessionsInactive++
	}

	return result, errors.Join(errs...)
}

// Job adapts Run to a scheduler callback.
func (s *Sweeper) Job(timeout time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		result, err := s.Run(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("presence sweep failed")
		}
		if result.UsersOffline > 0 || result.SessionsInactive > 0 {
			s.log.Info().
				Int("users_offline", result.UsersOffline).
				Int("sessions_inactive", result.SessionsInactive).
				Msg("presence sweep finished")
		}
	}
}
