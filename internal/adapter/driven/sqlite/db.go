package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// pragmas applied to every connection. _txlock=immediate makes BeginTx take
// the write lock up front, so two reconciliations never both read a snapshot
// and then race to upgrade.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)&_txlock=immediate"

// readerPragmas marks reader connections query-only so a stray write through
// the read pool fails instead of bypassing the single writer.
const readerPragmas = "_pragma=query_only(1)"

const (
	maxReaders  = 4
	openTimeout = 5 * time.Second
)

// DB pairs a single-connection writer pool with a small query-only reader
// pool over the same contact database. Every mutation runs on Writer.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// NewDB opens the contact database file at dbPath in WAL mode.
func NewDB(dbPath string) (*DB, error) {
	return openDB(dbPath, fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", dbPath))
}

// openDB opens both pools on base, a "file:" URI that already carries a query
// string. The shared pragmas are appended to it.
func openDB(path, base string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	writerDSN := joinDSN(base, pragmas)
	writer, err := openPool(ctx, writerDSN, 1)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}

	reader, err := openPool(ctx, joinDSN(writerDSN, readerPragmas), maxReaders)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, path: path}, nil
}

func openPool(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(maxConns)
	pool.SetMaxIdleConns(maxConns)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func joinDSN(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Path returns the database file the DB was opened on.
func (db *DB) Path() string {
	return db.path
}

// Close closes the reader pool, then the writer.
func (db *DB) Close() error {
	var errs []error
	if err := db.Reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := db.Writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}
