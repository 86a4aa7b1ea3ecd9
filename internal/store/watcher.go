package store

import "sync"

// QueryWatcher turns successive query results into change batches. The
// first refresh always delivers, even when empty, so subscribers can tell
// the initial snapshot apart from live changes.
type QueryWatcher struct {
	mu        sync.Mutex
	query     Query
	last      []Document
	delivered bool
	closed    bool
	onChanges ChangeHandler
}

func NewQueryWatcher(q Query, onChanges ChangeHandler) *QueryWatcher {
	return &QueryWatcher{query: q, onChanges: onChanges}
}

func (w *QueryWatcher) Query() Query {
	return w.query
}

// Refresh evaluates the query over all documents of the collection and
// delivers the difference to the previous result.
func (w *QueryWatcher) Refresh(all []Document) {
	w.Deliver(Apply(w.query, all))
}

// Deliver is Refresh for callers that already ran the query.
func (w *QueryWatcher) Deliver(result []Document) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	changes := Diff(w.last, result)
	first := !w.delivered
	w.last = result
	w.delivered = true
	w.mu.Unlock()

	if len(changes) == 0 && !first {
		return
	}
	w.onChanges(changes)
}

func (w *QueryWatcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.last = nil
	w.mu.Unlock()
}
