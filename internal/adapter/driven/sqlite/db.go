// Package sqlite implements the credential store and audit trail ports on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// Pragmas applied to every connection. foreign_keys is required: audit
// entries must reference an existing credential.
const basePragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)"

const maxReaders = 4

// DB holds separate writer and reader pools over one database file. The
// writer pool has a single connection, so write transactions never overlap;
// read-check-write sequences inside a writer transaction need no row locks.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

// NewDB opens dbPath in WAL mode with a single writer and up to four readers.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	return openDB(ctx, fileDSN(dbPath))
}

func fileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s", path, basePragmas)
}

// memoryDSN names a shared-cache in-memory database; WAL does not apply.
func memoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", url.PathEscape(name), basePragmas)
}

func openDB(ctx context.Context, dsn string) (*DB, error) {
	writer, err := openPool(ctx, dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	reader, err := openPool(ctx, dsn, maxReaders)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	return &DB{Writer: writer, Reader: reader}, nil
}

func openPool(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(maxOpen)
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}

// Ping checks that both pools can reach the database.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if err := db.Reader.PingContext(ctx); err != nil {
		return fmt.Errorf("ping reader: %w", err)
	}
	return nil
}

// Close closes both pools.
func (db *DB) Close() error {
	var errList []error
	if err := db.Reader.Close(); err != nil {
		errList = append(errList, fmt.Errorf("close reader: %w", err))
	}
	if err := db.Writer.Close(); err != nil {
		errList = append(errList, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errList...)
}
