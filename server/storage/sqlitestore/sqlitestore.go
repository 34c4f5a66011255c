// Package sqlitestore persists the snapshot blob in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/server/storage"
)

// Config holds SQLite connection options.
type Config struct {
	// DataSourceName is the SQLite connection string, e.g. "file:pos.db".
	DataSourceName string

	// EnableWAL turns on Write-Ahead Logging for better concurrency.
	// Recommended and on by default via DefaultConfig.
	EnableWAL bool

	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 5
	ConnMaxLifetime time.Duration // default 1h
	ConnMaxIdleTime time.Duration // default 5m
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns production defaults for dataSourceName.
func DefaultConfig(dataSourceName string) *Config {
	return &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
}

// Store implements storage.BlobStorage on SQLite. The blob lives in a
// single-row table; the compare-and-swap runs inside one transaction.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	data BLOB NOT NULL,
	revision TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// New opens the database and ensures the schema exists.
func New(config *Config) (*Store, error) {
	if config == nil || config.DataSourceName == "" {
		return nil, errors.Errorf(errors.OpStore, "sqlitestore", errors.KindValidation,
			"DataSourceName is required")
	}
	config.setDefaults()

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, errors.NewStorageError(errors.OpStore, "sqlitestore", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewStorageError(errors.OpStore, "sqlitestore", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context) (*storage.Blob, error) {
	var blob storage.Blob
	err := s.db.QueryRowContext(ctx,
		`SELECT data, revision, updated_at FROM snapshot WHERE id = 1`,
	).Scan(&blob.Data, &blob.Revision, &blob.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("sqlitestore")
	}
	if err != nil {
		return nil, errors.NewStorageError(errors.OpLoad, "sqlitestore", err)
	}
	return &blob, nil
}

func (s *Store) Save(ctx context.Context, data []byte, expected string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.NewStorageError(errors.OpStore, "sqlitestore", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT revision FROM snapshot WHERE id = 1`).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		current = ""
	case err != nil:
		return "", errors.NewStorageError(errors.OpStore, "sqlitestore", err)
	}

	if expected != current {
		return "", errors.NewRevisionMismatch("sqlitestore", expected)
	}

	rev := storage.NewRevision()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot (id, data, revision, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data,
			revision = excluded.revision, updated_at = excluded.updated_at`,
		data, rev, time.Now().UTC())
	if err != nil {
		return "", errors.NewStorageError(errors.OpStore, "sqlitestore", err)
	}
	if err := tx.Commit(); err != nil {
		return "", errors.NewStorageError(errors.OpStore, "sqlitestore", err)
	}
	return rev, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.BlobStorage = (*Store)(nil)
