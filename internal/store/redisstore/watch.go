package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sessiontrack/internal/store"
)

// WatchDocument delivers the document once subscribed and again on every
// published change to it. Delivery runs on a goroutine owned by the watch;
// unsubscribing never waits for it.
func (s *Store) WatchDocument(ctx context.Context, collection, id string, onNext store.DocumentHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	onErr = s.errorHandler(onErr, collection)
	ctx, cancel := context.WithCancel(ctx)
	sub, err := s.subscribe(ctx, collection)
	if err != nil {
		cancel()
		return nil, err
	}

	deliver := func() {
		doc, err := s.Get(ctx, collection, id)
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, store.ErrNotFound):
			onNext(store.Document{ID: id}, false)
		case err != nil:
			onErr(err)
		default:
			onNext(doc, true)
		}
	}

	go func() {
		defer sub.Close()
		deliver()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event changeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil || event.ID != id {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				deliver()
			}
		}
	}()

	return store.Unsubscribe(cancel), nil
}

// WatchQuery delivers the initial result and then a diff after every
// change to the collection. Append-only collections are tailed from their
// stream instead of pub/sub.
func (s *Store) WatchQuery(ctx context.Context, q store.Query, onChanges store.ChangeHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	onErr = s.errorHandler(onErr, q.Collection)
	ctx, cancel := context.WithCancel(ctx)
	w := store.NewQueryWatcher(q, onChanges)

	refresh := func() bool {
		docs, err := s.Query(ctx, q)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			onErr(err)
			return false
		}
		w.Deliver(docs)
		return true
	}
	stop := func() {
		cancel()
		w.Close()
	}

	if s.appendOnly[q.Collection] {
		last, err := s.lastStreamID(ctx, q.Collection)
		if err != nil {
			cancel()
			return nil, err
		}
		go func() {
			// The first batch is the backlog; an append must never stand in for it.
			for !refresh() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retry):
				}
			}
			s.tail(ctx, q.Collection, last, func() { refresh() }, onErr)
		}()
		return stop, nil
	}

	sub, err := s.subscribe(ctx, q.Collection)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		defer sub.Close()
		refresh()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					return
				}
				refresh()
			}
		}
	}()
	return stop, nil
}

func (s *Store) subscribe(ctx context.Context, collection string) (*redis.PubSub, error) {
	sub := s.client.Subscribe(ctx, s.channel(collection))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}
	return sub, nil
}

func (s *Store) lastStreamID(ctx context.Context, collection string) (string, error) {
	entries, err := s.client.XRevRangeN(ctx, s.streamKey(collection), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("stream head %s: %w", collection, err)
	}
	if len(entries) == 0 {
		return "0-0", nil
	}
	return entries[0].ID, nil
}

// tail reads the collection's stream after last until ctx is done and
// calls onAppend once per batch of new entries.
func (s *Store) tail(ctx context.Context, collection, last string, onAppend func(), onErr store.ErrorHandler) {
	for ctx.Err() == nil {
		result, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.streamKey(collection), last},
			Count:   100,
			Block:   s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			onErr(fmt.Errorf("stream read %s: %w", collection, err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retry):
			}
			continue
		}

		appended := false
		for _, stream := range result {
			for _, msg := range stream.Messages {
				last = msg.ID
				appended = true
			}
		}
		if appended && ctx.Err() == nil {
			onAppend()
		}
	}
}

func (s *Store) errorHandler(onErr store.ErrorHandler, collection string) store.ErrorHandler {
	if onErr != nil {
		return onErr
	}
	return func(err error) {
		s.log.Error().Err(err).Str("collection", collection).Msg("watch error")
	}
}
