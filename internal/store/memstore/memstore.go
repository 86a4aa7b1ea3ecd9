// Package memstore is an in-process RemoteStore. Watch callbacks run
// synchronously on the goroutine that made the change, after the store
// lock is released.
package memstore

import (
	"context"
	"sync"

	"github.com/segmentio/ksuid"

	"sessiontrack/internal/store"
)

type docWatch struct {
	onNext store.DocumentHandler
}

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	order       map[string][]string
	appendOnly  map[string]bool
	docWatches  map[string]map[uint64]*docWatch
	queries     map[string]map[uint64]*store.QueryWatcher
	nextWatch   uint64
	newID       func() string
}

type Option func(*Store)

// WithAppendOnly rejects updates on the named collections.
func WithAppendOnly(collections ...string) Option {
	return func(s *Store) {
		for _, c := range collections {
			s.appendOnly[c] = true
		}
	}
}

// WithIDs replaces the ksuid generator.
func WithIDs(next func() string) Option {
	return func(s *Store) { s.newID = next }
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]map[string]any),
		order:       make(map[string][]string),
		appendOnly:  make(map[string]bool),
		docWatches:  make(map[string]map[uint64]*docWatch),
		queries:     make(map[string]map[uint64]*store.QueryWatcher),
		newID:       func() string { return ksuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.RemoteStore = (*Store)(nil)

func docKey(collection, id string) string {
	return collection + "/" + id
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.collections[collection][id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{ID: id, Data: copyData(data)}, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.appendOnly[collection] {
		s.mu.Unlock()
		return store.ErrAppendOnly
	}
	data, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	s.collections[collection][id] = store.Merge(data, fields)
	notify := s.snapshotLocked(collection, id)
	s.mu.Unlock()

	notify()
	return nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := s.newID()
	s.mu.Lock()
	notify := s.putLocked(collection, id, fields)
	s.mu.Unlock()

	notify()
	return id, nil
}

// Put creates or replaces a document with a caller-chosen id.
func (s *Store) Put(collection, id string, fields map[string]any) {
	s.mu.Lock()
	notify := s.putLocked(collection, id, fields)
	s.mu.Unlock()
	notify()
}

// Delete removes a document; watchers see it disappear.
func (s *Store) Delete(collection, id string) {
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.collections[collection], id)
	ids := s.order[collection]
	for i, existing := range ids {
		if existing == id {
			s.order[collection] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	notify := s.snapshotLocked(collection, id)
	s.mu.Unlock()
	notify()
}

func (s *Store) putLocked(collection, id string, fields map[string]any) func() {
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		s.collections[collection] = coll
	}
	if _, exists := coll[id]; !exists {
		s.order[collection] = append(s.order[collection], id)
	}
	coll[id] = copyData(fields)
	return s.snapshotLocked(collection, id)
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	all := s.allLocked(q.Collection)
	s.mu.Unlock()
	return store.Apply(q, all), nil
}

func (s *Store) WatchDocument(ctx context.Context, collection, id string, onNext store.DocumentHandler, _ store.ErrorHandler) (store.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := docKey(collection, id)
	s.mu.Lock()
	s.nextWatch++
	watchID := s.nextWatch
	if s.docWatches[key] == nil {
		s.docWatches[key] = make(map[uint64]*docWatch)
	}
	s.docWatches[key][watchID] = &docWatch{onNext: onNext}
	data, exists := s.collections[collection][id]
	initial := store.Document{ID: id, Data: copyData(data)}
	s.mu.Unlock()

	onNext(initial, exists)

	return s.stopper(ctx, func() {
		delete(s.docWatches[key], watchID)
	}), nil
}

func (s *Store) WatchQuery(ctx context.Context, q store.Query, onChanges store.ChangeHandler, _ store.ErrorHandler) (store.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := store.NewQueryWatcher(q, onChanges)
	s.mu.Lock()
	s.nextWatch++
	watchID := s.nextWatch
	if s.queries[q.Collection] == nil {
		s.queries[q.Collection] = make(map[uint64]*store.QueryWatcher)
	}
	s.queries[q.Collection][watchID] = w
	all := s.allLocked(q.Collection)
	s.mu.Unlock()

	w.Refresh(all)

	return s.stopper(ctx, func() {
		delete(s.queries[q.Collection], watchID)
		w.Close()
	}), nil
}

// stopper wraps remove so it runs once, either on unsubscribe or when ctx
// is done.
func (s *Store) stopper(ctx context.Context, remove func()) store.Unsubscribe {
	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			remove()
			s.mu.Unlock()
		})
	}
	release := context.AfterFunc(ctx, stop)
	return func() {
		release()
		stop()
	}
}

// snapshotLocked captures what watchers of collection/id need to hear and
// returns a func delivering it outside the lock.
func (s *Store) snapshotLocked(collection, id string) func() {
	var handlers []store.DocumentHandler
	for _, w := range s.docWatches[docKey(collection, id)] {
		handlers = append(handlers, w.onNext)
	}
	data, exists := s.collections[collection][id]
	doc := store.Document{ID: id, Data: copyData(data)}

	var watchers []*store.QueryWatcher
	for _, w := range s.queries[collection] {
		watchers = append(watchers, w)
	}
	var all []store.Document
	if len(watchers) > 0 {
		all = s.allLocked(collection)
	}

	return func() {
		for _, h := range handlers {
			h(store.Document{ID: doc.ID, Data: copyData(doc.Data)}, exists)
		}
		for _, w := range watchers {
			w.Refresh(all)
		}
	}
}

func (s *Store) allLocked(collection string) []store.Document {
	ids := s.order[collection]
	out := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Document{ID: id, Data: copyData(s.collections[collection][id])})
	}
	return out
}

// Len reports the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
