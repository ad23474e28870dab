package store

import (
	"context"
	"errors"
	"time"
)

// Domain-specific errors for store operations.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrInvalidQuery is returned for an empty collection or a malformed field name.
	ErrInvalidQuery = errors.New("store: invalid query")
)

type sentinel string

// Field sentinels understood by Add and Update.
var (
	// DeleteField removes the field from the document when passed to Update.
	DeleteField any = sentinel("delete")

	// ServerTimestamp is replaced by the store's clock at write time.
	ServerTimestamp any = sentinel("server-timestamp")
)

// Document is one record in a collection.
type Document struct {
	ID        string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// String returns the named field as a string, or "" when absent or not a string.
func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Bool returns the named field as a bool, or false when absent or not a bool.
func (d Document) Bool(field string) bool {
	b, _ := d.Fields[field].(bool)
	return b
}

// Time returns a timestamp field written with ServerTimestamp.
func (d Document) Time(field string) time.Time {
	s, _ := d.Fields[field].(string)
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // zero time for absent or malformed fields
	return t
}

// Filter is an equality condition on one top-level field.
// A nil Value matches documents where the field is absent or null.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection. Every filter must match.
type Query struct {
	Collection string
	Where      []Filter
}

// Snapshot is the full result of a live query at one point in time.
type Snapshot struct {
	Documents []Document
	ReadAt    time.Time
}

// Store is the document store contract.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Find(ctx context.Context, q Query) ([]Document, error)

	// Add creates a document with a generated ID and returns the ID.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Update merges fields into an existing document. Fields set to
	// DeleteField are removed.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Listen calls fn with a full snapshot of q now and after every change
	// to q's collection, until stop is called or ctx ends. Snapshots for
	// one listener are delivered from a single goroutine.
	Listen(ctx context.Context, q Query, fn func(Snapshot)) (stop func(), err error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// Transactor is implemented by stores that can apply several writes atomically.
type Transactor interface {
	// RunTransaction runs fn and commits its writes when it returns nil.
	// Any error discards every write made through tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
