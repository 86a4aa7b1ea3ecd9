// Package store defines the remote document store the tracker talks to,
// plus helpers shared by its backends.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound   = errors.New("document not found")
	ErrAppendOnly = errors.New("collection is append-only")
)

// Document is a schemaless record. Data never contains the id.
type Document struct {
	ID   string
	Data map[string]any
}

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

type Change struct {
	Type ChangeType
	Doc  Document
}

type Op string

const (
	OpEq  Op = "=="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, descending bool) Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// DocumentHandler receives the current state of a watched document;
// exists is false once the document is gone.
type DocumentHandler func(doc Document, exists bool)

// ChangeHandler receives one batch of changes per remote change.
type ChangeHandler func(changes []Change)

type ErrorHandler func(err error)

// Unsubscribe stops a watch. Calling it more than once is safe.
type Unsubscribe func()

// RemoteStore is the capability the tracker needs from the remote
// document store. Every call may fail; watches deliver on their own
// goroutine unless a backend documents otherwise.
type RemoteStore interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	WatchDocument(ctx context.Context, collection, id string, onNext DocumentHandler, onErr ErrorHandler) (Unsubscribe, error)
	WatchQuery(ctx context.Context, q Query, onChanges ChangeHandler, onErr ErrorHandler) (Unsubscribe, error)
}
