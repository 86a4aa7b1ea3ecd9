// Package redisstore implements store.RemoteStore on Redis. Documents are
// JSON strings indexed per collection by a sorted set; changes fan out
// over pub/sub, and append-only collections are logged to a stream.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"sessiontrack/internal/cache"
	"sessiontrack/internal/store"
)

const maxTxRetries = 8

type Option func(*Store)

func WithAppendOnly(collections ...string) Option {
	return func(s *Store) {
		for _, c := range collections {
			s.appendOnly[c] = true
		}
	}
}

// WithBlock sets how long one stream read blocks; it bounds how long a
// stopped tail lingers.
func WithBlock(d time.Duration) Option {
	return func(s *Store) { s.block = d }
}

func WithRetry(d time.Duration) Option {
	return func(s *Store) { s.retry = d }
}

// WithStreamMaxLen caps append-only streams approximately; 0 keeps every
// entry.
func WithStreamMaxLen(n int64) Option {
	return func(s *Store) { s.maxLen = n }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

type Store struct {
	client     *redis.Client
	keys       cache.Keyspace
	appendOnly map[string]bool
	block      time.Duration
	retry      time.Duration
	maxLen     int64
	newID      func() string
	log        zerolog.Logger
}

var _ store.RemoteStore = (*Store)(nil)

func New(client *redis.Client, prefix string, opts ...Option) *Store {
	s := &Store{
		client:     client,
		keys:       cache.Keyspace(prefix),
		appendOnly: make(map[string]bool),
		block:      2 * time.Second,
		retry:      2 * time.Second,
		maxLen:     10000,
		newID:      func() string { return ksuid.New().String() },
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type changeEvent struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted,omitempty"`
}

func (s *Store) docKey(collection, id string) string {
	return s.keys.Key("doc", collection, id)
}

func (s *Store) indexKey(collection string) string {
	return s.keys.Key("idx", collection)
}

func (s *Store) channel(collection string) string {
	return s.keys.Key("changes", collection)
}

func (s *Store) streamKey(collection string) string {
	return s.keys.Key("stream", collection)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	raw, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
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

// Update merges fields into the stored document under WATCH so concurrent
// writers never lose each other's keys.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if s.appendOnly[collection] {
		return store.ErrAppendOnly
	}
	key := s.docKey(collection, id)
	event, err := json.Marshal(changeEvent{ID: id})
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err := decodeData(raw)
		if err != nil {
			return err
		}
		merged, err := json.Marshal(store.Merge(data, fields))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			pipe.Publish(ctx, s.channel(collection), event)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		return err
	}
	return fmt.Errorf("update %s/%s: %w", collection, id, redis.TxFailedErr)
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := s.newID()
	if err := s.write(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Put creates or replaces a document with a caller-chosen id.
func (s *Store) Put(ctx context.Context, collection, id string, fields map[string]any) error {
	if s.appendOnly[collection] {
		return store.ErrAppendOnly
	}
	return s.write(ctx, collection, id, fields)
}

func (s *Store) write(ctx context.Context, collection, id string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	event, err := json.Marshal(changeEvent{ID: id})
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(collection, id), body, 0)
		pipe.ZAddNX(ctx, s.indexKey(collection), redis.Z{Score: float64(time.Now().UnixMicro()), Member: id})
		if s.appendOnly[collection] {
			args := &redis.XAddArgs{
				Stream: s.streamKey(collection),
				Values: map[string]any{"id": id},
			}
			if s.maxLen > 0 {
				args.MaxLen = s.maxLen
				args.Approx = true
			}
			pipe.XAdd(ctx, args)
		} else {
			pipe.Publish(ctx, s.channel(collection), event)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a document; watchers see it disappear.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if s.appendOnly[collection] {
		return store.ErrAppendOnly
	}
	event, err := json.Marshal(changeEvent{ID: id, Deleted: true})
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(collection, id))
		pipe.ZRem(ctx, s.indexKey(collection), id)
		pipe.Publish(ctx, s.channel(collection), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	docs, err := s.all(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	return store.Apply(q, docs), nil
}

func (s *Store) all(ctx context.Context, collection string) ([]store.Document, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", collection, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}

	docs := make([]store.Document, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		data, err := decodeData([]byte(raw))
		if err != nil {
			s.log.Warn().Err(err).Str("collection", collection).Str("id", ids[i]).Msg("skipping undecodable document")
			continue
		}
		docs = append(docs, store.Document{ID: ids[i], Data: data})
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
