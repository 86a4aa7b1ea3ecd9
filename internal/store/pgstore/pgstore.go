// Package pgstore implements store.RemoteStore on a single Postgres table
// of JSONB documents, with change notification over LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"sessiontrack/internal/database"
	"sessiontrack/internal/store"
)

const DefaultChannel = "sessiontrack_changes"

// Schema creates the documents table. seq keeps insertion order for
// unordered queries.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}'::jsonb,
		seq BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_seq_idx ON documents (collection, seq)`,
	`CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops)`,
}

type Option func(*Store)

func WithAppendOnly(collections ...string) Option {
	return func(s *Store) {
		for _, c := range collections {
			s.appendOnly[c] = true
		}
	}
}

func WithChannel(name string) Option {
	return func(s *Store) { s.channel = name }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

type Store struct {
	pool       *pgxpool.Pool
	channel    string
	appendOnly map[string]bool
	newID      func() string
	log        zerolog.Logger
}

var _ store.RemoteStore = (*Store)(nil)

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:       pool,
		channel:    DefaultChannel,
		appendOnly: make(map[string]bool),
		newID:      func() string { return ksuid.New().String() },
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, s.pool, Schema...)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type changeEvent struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Deleted    bool   `json:"deleted,omitempty"`
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return store.Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return store.Document{ID: id, Data: data}, nil
}

// Update merges fields at the top level with the JSONB || operator.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if s.appendOnly[collection] {
		return store.ErrAppendOnly
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return s.mutate(ctx, changeEvent{Collection: collection, ID: id}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
			 WHERE collection = $1 AND id = $2`,
			collection, id, string(patch),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := s.newID()
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", collection, err)
	}
	err = s.mutate(ctx, changeEvent{Collection: collection, ID: id}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
			collection, id, string(body),
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Put creates or replaces a document with a caller-chosen id.
func (s *Store) Put(ctx context.Context, collection, id string, fields map[string]any) error {
	if s.appendOnly[collection] {
		return store.ErrAppendOnly
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return s.mutate(ctx, changeEvent{Collection: collection, ID: id}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
			collection, id, string(body),
		)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if s.appendOnly[collection] {
		return store.ErrAppendOnly
	}
	return s.mutate(ctx, changeEvent{Collection: collection, ID: id, Deleted: true}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
		return err
	})
}

// mutate runs fn and queues the change notification in the same
// transaction, so listeners only hear about committed writes.
func (s *Store) mutate(ctx context.Context, event changeEvent, fn func(pgx.Tx) error) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, string(payload))
		return err
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("write %s/%s: %w", event.Collection, event.ID, err)
	}
	return err
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	sql, args, err := compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decodeData(raw)
		if err != nil {
			s.log.Warn().Err(err).Str("collection", q.Collection).Str("id", id).Msg("skipping undecodable document")
			continue
		}
		docs = append(docs, store.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return docs, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
