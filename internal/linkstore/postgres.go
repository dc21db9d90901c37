package linkstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sundayezeilo/linkgate/internal/errx"
)

// pgxQuerier is the subset of *pgxpool.Pool the postgres store needs.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// The upsert only replaces a row whose expiry has passed, so a live key
// affects zero rows.
const (
	putIfAbsentSQL = `
INSERT INTO kv_entries (key, value, metadata, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET value      = EXCLUDED.value,
    metadata   = EXCLUDED.metadata,
    expires_at = EXCLUDED.expires_at,
    created_at = now()
WHERE kv_entries.expires_at IS NOT NULL
  AND kv_entries.expires_at <= now()`

	getSQL = `
SELECT value FROM kv_entries
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	existsSQL = `
SELECT EXISTS (
    SELECT 1 FROM kv_entries
    WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
)`

	metadataSQL = `
SELECT metadata FROM kv_entries
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	deleteSQL = `DELETE FROM kv_entries WHERE key = $1`

	deleteExpiredSQL = `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

// Postgres is a Store over the kv_entries table. Expired rows are invisible
// to reads and are reclaimed by PutIfAbsent or DeleteExpired.
type Postgres struct {
	db pgxQuerier
}

func NewPostgres(db pgxQuerier) *Postgres {
	return &Postgres{db: db}
}

func mapPostgresError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errx.E(op, errx.NotFound, ErrNotFound)
	}
	return errx.E(op, errx.Unavailable, err)
}

func expiresAt(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "linkstore.postgres.Get"

	var value []byte
	if err := p.db.QueryRow(ctx, getSQL, key).Scan(&value); err != nil {
		return nil, mapPostgresError(op, err)
	}
	return value, nil
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	const op = "linkstore.postgres.Exists"

	var exists bool
	if err := p.db.QueryRow(ctx, existsSQL, key).Scan(&exists); err != nil {
		return false, mapPostgresError(op, err)
	}
	return exists, nil
}

// Metadata returns the metadata stored with key.
func (p *Postgres) Metadata(ctx context.Context, key string) (map[string]string, error) {
	const op = "linkstore.postgres.Metadata"

	var meta map[string]string
	if err := p.db.QueryRow(ctx, metadataSQL, key).Scan(&meta); err != nil {
		return nil, mapPostgresError(op, err)
	}
	return meta, nil
}

func (p *Postgres) PutIfAbsent(ctx context.Context, key string, value []byte, opts PutOptions) error {
	const op = "linkstore.postgres.PutIfAbsent"

	meta := opts.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	tag, err := p.db.Exec(ctx, putIfAbsentSQL, key, value, meta, expiresAt(opts.ExpiresAt))
	if err != nil {
		return mapPostgresError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.Conflict, ErrExists)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	const op = "linkstore.postgres.Delete"

	if _, err := p.db.Exec(ctx, deleteSQL, key); err != nil {
		return mapPostgresError(op, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	const op = "linkstore.postgres.Ping"

	if err := p.db.Ping(ctx); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// DeleteExpired removes rows whose expiry has passed.
func (p *Postgres) DeleteExpired(ctx context.Context) (int64, error) {
	const op = "linkstore.postgres.DeleteExpired"

	tag, err := p.db.Exec(ctx, deleteExpiredSQL)
	if err != nil {
		return 0, mapPostgresError(op, err)
	}
	return tag.RowsAffected(), nil
}
