package repository

import (
	"context"
	"errors"
	"fmt"

	"sessiontrack/internal/models"
	"sessiontrack/internal/store"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	store store.RemoteStore
}

func NewUserRepository(s store.RemoteStore) *UserRepository {
	return &UserRepository{store: s}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.UserRecord, error) {
	doc, err := r.store.Get(ctx, models.CollectionUsers, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.UserRecord{}, ErrUserNotFound
		}
		return models.UserRecord{}, err
	}
	var user models.UserRecord
	if err := store.Decode(doc, &user); err != nil {
		return models.UserRecord{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	return user, nil
}

// Update writes a partial user document.
func (r *UserRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	err := r.store.Update(ctx, models.CollectionUsers, id, fields)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	return r.Update(ctx, id, map[string]any{"status": string(status)})
}

// ActiveSince lists users whose lastActive is at or after since (epoch
// milliseconds).
func (r *UserRepository) ActiveSince(ctx context.Context, since int64) ([]models.UserRecord, error) {
	docs, err := r.store.Query(ctx, store.Query{Collection: models.CollectionUsers}.
		Where("lastActive", store.OpGte, since).
		Order("lastActive", true))
	if err != nil {
		return nil, err
	}
	users := make([]models.UserRecord, 0, len(docs))
	for _, doc := range docs {
		var u models.UserRecord
		if err := store.Decode(doc, &u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", doc.ID, err)
		}
		users = append(users, u)
	}
	return users, nil
}
