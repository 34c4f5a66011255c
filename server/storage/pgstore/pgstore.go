// Package pgstore persists the snapshot blob in PostgreSQL, for deployments
// where several shops share one database server.
package pgstore

import (
	"context"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/server/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements storage.BlobStorage on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and applies pending migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.Errorf(errors.OpStore, "pgstore", errors.KindValidation,
			"database URL is required")
	}

	if err := runMigrations(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	return &Store{pool: pool}, nil
}

func runMigrations(databaseURL string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (*storage.Blob, error) {
	var blob storage.Blob
	err := s.pool.QueryRow(ctx,
		`SELECT data, revision, updated_at FROM snapshot WHERE id = 1`,
	).Scan(&blob.Data, &blob.Revision, &blob.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFound("pgstore")
	}
	if err != nil {
		return nil, errors.NewStorageError(errors.OpLoad, "pgstore", err)
	}
	return &blob, nil
}

func (s *Store) Save(ctx context.Context, data []byte, expected string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT revision FROM snapshot WHERE id = 1 FOR UPDATE`,
	).Scan(&current)
	switch {
	case err == pgx.ErrNoRows:
		current = ""
	case err != nil:
		return "", errors.NewStorageError(errors.OpStore, "pgstore", err)
	}

	if expected != current {
		return "", errors.NewRevisionMismatch("pgstore", expected)
	}

	rev := storage.NewRevision()
	_, err = tx.Exec(ctx, `
		INSERT INTO snapshot (id, data, revision, updated_at) VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data,
			revision = EXCLUDED.revision, updated_at = EXCLUDED.updated_at`,
		data, rev)
	if err != nil {
		return "", errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", errors.NewStorageError(errors.OpStore, "pgstore", err)
	}
	return rev, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ storage.BlobStorage = (*Store)(nil)
