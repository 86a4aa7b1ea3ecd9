package repository

import (
	"context"
	"fmt"

	"sessiontrack/internal/models"
	"sessiontrack/internal/store"
)

type SessionRepository struct {
	store store.RemoteStore
}

func NewSessionRepository(s store.RemoteStore) *SessionRepository {
	return &SessionRepository{store: s}
}

// Recent returns the most recently active sessions, newest first.
func (r *SessionRepository) Recent(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	return r.list(ctx, store.Query{Collection: models.CollectionDeviceSessions}.
		Order("lastActive", true).
		Take(limit))
}

// ActiveSince returns sessions still flagged active whose lastActive is at
// or after since.
func (r *SessionRepository) ActiveSince(ctx context.Context, since int64) ([]models.SessionRecord, error) {
	return r.list(ctx, store.Query{Collection: models.CollectionDeviceSessions}.
		Where("isActive", store.OpEq, true).
		Where("lastActive", store.OpGte, since).
		Order("lastActive", true))
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]models.SessionRecord, error) {
	return r.list(ctx, store.Query{Collection: models.CollectionDeviceSessions}.
		Where("userId", store.OpEq, userID).
		Order("lastActive", true))
}

func (r *SessionRepository) list(ctx context.Context, q store.Query) ([]models.SessionRecord, error) {
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	sessions := make([]models.SessionRecord, 0, len(docs))
	for _, doc := range docs {
		var s models.SessionRecord
		if err := store.Decode(doc, &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", doc.ID, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
