package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessiontrack/internal/store"
)

func parseEvent(payload string) (changeEvent, error) {
	var ev changeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return changeEvent{}, fmt.Errorf("parse change event: %w", err)
	}
	return ev, nil
}

// listen holds a pooled connection on LISTEN until ctx is done and calls
// onEvent for every change notification. The initial callback runs after
// LISTEN is in place, so nothing committed afterwards is missed.
func (s *Store) listen(ctx context.Context, initial func(), onEvent func(changeEvent), onErr store.ErrorHandler) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		defer s.release(conn)
		initial()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
					onErr(fmt.Errorf("wait for notification: %w", err))
				}
				return
			}
			ev, err := parseEvent(n.Payload)
			if err != nil {
				s.log.Warn().Err(err).Msg("ignoring change notification")
				continue
			}
			if ctx.Err() != nil {
				return
			}
			onEvent(ev)
		}
	}()
	return nil
}

// release drops the LISTEN before the connection goes back to the pool.
func (s *Store) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

func (s *Store) WatchDocument(ctx context.Context, collection, id string, onNext store.DocumentHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	onErr = s.errorHandler(onErr, collection)
	ctx, cancel := context.WithCancel(ctx)

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

	err := s.listen(ctx, deliver, func(ev changeEvent) {
		if ev.Collection == collection && ev.ID == id {
			deliver()
		}
	}, onErr)
	if err != nil {
		cancel()
		return nil, err
	}
	return store.Unsubscribe(cancel), nil
}

func (s *Store) WatchQuery(ctx context.Context, q store.Query, onChanges store.ChangeHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	onErr = s.errorHandler(onErr, q.Collection)
	ctx, cancel := context.WithCancel(ctx)
	w := store.NewQueryWatcher(q, onChanges)

	refresh := func() {
		docs, err := s.Query(ctx, q)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			onErr(err)
			return
		}
		w.Deliver(docs)
	}

	err := s.listen(ctx, refresh, func(ev changeEvent) {
		if ev.Collection == q.Collection {
			refresh()
		}
	}, onErr)
	if err != nil {
		cancel()
		return nil, err
	}
	return func() {
		cancel()
		w.Close()
	}, nil
}

func (s *Store) errorHandler(onErr store.ErrorHandler, collection string) store.ErrorHandler {
	if onErr != nil {
		return onErr
	}
	return func(err error) {
		s.log.Error().Err(err).Str("collection", collection).Msg("watch error")
	}
}
