package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/database"
)

// timeLayout has fixed-width fractional seconds so stored timestamps sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// fieldNamePattern restricts filter fields to plain identifiers so they can
// be turned into JSON paths.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Logger is the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SQLiteStore keeps documents as JSON in the documents table.
// It implements Store and Transactor.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	mu        sync.Mutex
	listeners map[uint64]*listener
	nextID    uint64

	logger Logger
}

// NewSQLiteStore creates a store on a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:        db,
		now:       func() time.Time { return time.Now().UTC() },
		listeners: make(map[uint64]*listener),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger used for listener failures.
func (s *SQLiteStore) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

func (s *SQLiteStore) getLogger() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns one document.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	return getDocument(ctx, s.db, collection, id)
}

func getDocument(ctx context.Context, q queryer, collection, id string) (Document, error) {
	var data, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		"SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&data, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("getting document %s/%s: %w", collection, id, err)
	}
	return decodeDocument(id, data, createdAt, updatedAt)
}

// Find returns the documents matching q, oldest first.
func (s *SQLiteStore) Find(ctx context.Context, q Query) ([]Document, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, //nolint:gosec // WHERE built from validated field names and placeholders
		"SELECT id, data, created_at, updated_at FROM documents WHERE "+where+" ORDER BY created_at, rowid",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id, data, createdAt, updatedAt string
		if err := rows.Scan(&id, &data, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning %s document: %w", q.Collection, err)
		}
		doc, err := decodeDocument(id, data, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s documents: %w", q.Collection, err)
	}
	return docs, nil
}

// buildWhere turns q into a WHERE clause. Field names are validated and
// passed as JSON path parameters.
func buildWhere(q Query) (string, []any, error) {
	if q.Collection == "" {
		return "", nil, fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}

	conditions := []string{"collection = ?"}
	args := []any{q.Collection}

	for _, f := range q.Where {
		if !fieldNamePattern.MatchString(f.Field) {
			return "", nil, fmt.Errorf("%w: field name %q", ErrInvalidQuery, f.Field)
		}
		path := "$." + f.Field
		if f.Value == nil {
			conditions = append(conditions, "json_extract(data, ?) IS NULL")
			args = append(args, path)
			continue
		}
		conditions = append(conditions, "json_extract(data, ?) = ?")
		args = append(args, path, f.Value)
	}

	return strings.Join(conditions, " AND "), args, nil
}

// Add inserts a new document with a generated ID.
func (s *SQLiteStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}

	now := s.now()
	data, err := encodeFields(resolveFields(nil, fields, now))
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	stamp := now.Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		collection, id, data, stamp, stamp,
	); err != nil {
		return "", fmt.Errorf("adding %s document: %w", collection, err)
	}

	s.notify(collection)
	return id, nil
}

// Update merges fields into an existing document.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return updateDocument(ctx, tx, collection, id, fields, s.now())
	})
	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func updateDocument(ctx context.Context, q queryer, collection, id string, fields map[string]any, now time.Time) error {
	current, err := getDocument(ctx, q, collection, id)
	if err != nil {
		return err
	}

	data, err := encodeFields(resolveFields(current.Fields, fields, now))
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx,
		"UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?",
		data, now.Format(timeLayout), collection, id,
	); err != nil {
		return fmt.Errorf("updating document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if err := deleteDocument(ctx, s.db, collection, id); err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func deleteDocument(ctx context.Context, q queryer, collection, id string) error {
	if _, err := q.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	); err != nil {
		return fmt.Errorf("deleting document %s/%s: %w", collection, id, err)
	}
	return nil
}

// RunTransaction runs fn in a SQLite transaction. Listeners on the
// collections written by fn are notified after commit.
func (s *SQLiteStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	stx := &sqliteTx{now: s.now(), touched: make(map[string]bool)}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		stx.tx = tx
		return fn(ctx, stx)
	})
	if err != nil {
		return err
	}
	for collection := range stx.touched {
		s.notify(collection)
	}
	return nil
}

// sqliteTx implements Tx. It must only use tx: the pool has a single
// connection, which the transaction holds.
type sqliteTx struct {
	tx      *sql.Tx
	now     time.Time
	touched map[string]bool
}

func (t *sqliteTx) Get(ctx context.Context, collection, id string) (Document, error) {
	return getDocument(ctx, t.tx, collection, id)
}

func (t *sqliteTx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := updateDocument(ctx, t.tx, collection, id, fields, t.now); err != nil {
		return err
	}
	t.touched[collection] = true
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, collection, id string) error {
	if err := deleteDocument(ctx, t.tx, collection, id); err != nil {
		return err
	}
	t.touched[collection] = true
	return nil
}

// resolveFields merges updates into base, applying the field sentinels.
func resolveFields(base, updates map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		s, isSentinel := v.(sentinel)
		switch {
		case isSentinel && s == DeleteField:
			delete(out, k)
		case isSentinel && s == ServerTimestamp:
			out[k] = now.Format(timeLayout)
		default:
			out[k] = v
		}
	}
	return out
}

func encodeFields(fields map[string]any) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding document fields: %w", err)
	}
	return string(b), nil
}

func decodeDocument(id, data, createdAt, updatedAt string) (Document, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return Document{}, fmt.Errorf("decoding document %s: %w", id, err)
	}
	doc := Document{ID: id, Fields: fields}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // format is controlled
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // format is controlled
	return doc, nil
}
