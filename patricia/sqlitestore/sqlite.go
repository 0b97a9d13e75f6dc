// Package sqlitestore is a crawshaw.io/sqlite-backed patricia.Storage,
// persisting nodes in a single refcounted table. It is grounded on the
// pool and savepoint patterns of the teacher's mpt/mptsqlite
// package, adapted from its append-only label scheme to a
// content-addressed, reference-counted one.
package sqlitestore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"go.strie.dev/strie/felt"
	"go.strie.dev/strie/internal/metrics"
	"go.strie.dev/strie/patricia"
)

//go:embed schema.sql
var schemaSQL string

// Storage is a durable patricia.Storage backed by a pooled SQLite
// database file.
type Storage struct {
	pool    *sqlitex.Pool
	metrics *metrics.Storage
}

// Option configures a Storage at Open time.
type Option func(*Storage)

// WithMetrics records every Get/Put/Release/PutBatch call against m.
func WithMetrics(m *metrics.Storage) Option {
	return func(s *Storage) { s.metrics = m }
}

// Open creates (if needed) and opens the node table at path, returning
// a pool of size poolSize for concurrent Tree use.
func Open(path string, poolSize int, opts ...Option) (*Storage, error) {
	pool, err := sqlitex.Open(path, 0, poolSize)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	conn := pool.Get(nil)
	if conn == nil {
		pool.Close()
		return nil, fmt.Errorf("sqlitestore: open %s: no connection available", path)
	}
	if err := sqlitex.ExecScript(conn, schemaSQL); err != nil {
		pool.Put(conn)
		pool.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	pool.Put(conn)
	s := &Storage{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Storage) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Observe(op, start, err)
	}
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

var _ patricia.BatchStorage = (*Storage)(nil)

// PutBatch writes an entire commit's worth of nodes inside a single
// SQLite savepoint, so a commit is atomic from any other connection's
// point of view.
func (s *Storage) PutBatch(ctx context.Context, blobs []patricia.NodeBlob) (err error) {
	defer func(start time.Time) { s.observe("put_batch", start, err) }(time.Now())

	conn := s.pool.Get(ctx)
	if conn == nil {
		return ctxErr(ctx)
	}
	defer s.pool.Put(conn)

	defer sqlitex.Save(conn)(&err)

	for _, b := range blobs {
		h := b.Hash.Bytes()
		if err := sqlitex.Exec(conn, `
			INSERT INTO nodes (hash, data, refcount) VALUES (?, ?, 1)
			ON CONFLICT(hash) DO UPDATE SET refcount = refcount + 1;
		`, nil, h[:], b.Data); err != nil {
			return fmt.Errorf("sqlitestore: put batch: %w", err)
		}
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, hash felt.Felt) (data []byte, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, ctxErr(ctx)
	}
	defer s.pool.Put(conn)

	h := hash.Bytes()
	err = sqlitex.Exec(conn, `SELECT data FROM nodes WHERE hash = ?;`, func(stmt *sqlite.Stmt) error {
		data = make([]byte, stmt.ColumnLen(0))
		stmt.ColumnBytes(0, data)
		return nil
	}, h[:])
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get: %w", err)
	}
	if data == nil {
		return nil, patricia.ErrNodeNotFound
	}
	return data, nil
}

func (s *Storage) Put(ctx context.Context, hash felt.Felt, data []byte) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())

	conn := s.pool.Get(ctx)
	if conn == nil {
		return ctxErr(ctx)
	}
	defer s.pool.Put(conn)

	h := hash.Bytes()
	err = sqlitex.Exec(conn, `
		INSERT INTO nodes (hash, data, refcount) VALUES (?, ?, 1)
		ON CONFLICT(hash) DO UPDATE SET refcount = refcount + 1;
	`, nil, h[:], data)
	if err != nil {
		return fmt.Errorf("sqlitestore: put: %w", err)
	}
	return nil
}

func (s *Storage) Release(ctx context.Context, hash felt.Felt) (removed bool, err error) {
	defer func(start time.Time) { s.observe("release", start, err) }(time.Now())

	conn := s.pool.Get(ctx)
	if conn == nil {
		return false, ctxErr(ctx)
	}
	defer s.pool.Put(conn)

	defer sqlitex.Save(conn)(&err)

	h := hash.Bytes()
	if err := sqlitex.Exec(conn, `UPDATE nodes SET refcount = refcount - 1 WHERE hash = ?;`, nil, h[:]); err != nil {
		return false, fmt.Errorf("sqlitestore: release: decrement: %w", err)
	}

	refcount := int64(-1)
	found := false
	err = sqlitex.Exec(conn, `SELECT refcount FROM nodes WHERE hash = ?;`, func(stmt *sqlite.Stmt) error {
		found = true
		refcount = stmt.ColumnInt64(0)
		return nil
	}, h[:])
	if err != nil {
		return false, fmt.Errorf("sqlitestore: release: read refcount: %w", err)
	}
	if !found {
		return false, nil
	}
	if refcount > 0 {
		return false, nil
	}
	if err := sqlitex.Exec(conn, `DELETE FROM nodes WHERE hash = ?;`, nil, h[:]); err != nil {
		return false, fmt.Errorf("sqlitestore: release: delete: %w", err)
	}
	return true, nil
}

func ctxErr(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("sqlitestore: no connection available")
}
