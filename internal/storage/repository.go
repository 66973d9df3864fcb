package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createDedupTableSQL = `CREATE TABLE IF NOT EXISTS dedup_keys (
        key         TEXT PRIMARY KEY,
        claim_token TEXT NOT NULL DEFAULT '',
        claimed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        expires_at  TIMESTAMPTZ NOT NULL
    );`

	addClaimTokenSQL = `ALTER TABLE dedup_keys ADD COLUMN IF NOT EXISTS claim_token TEXT NOT NULL DEFAULT '';`

	createDedupIndexSQL = `CREATE INDEX IF NOT EXISTS dedup_keys_expires_at_idx ON dedup_keys (expires_at);`

	// An expired row is taken over in place; a live row makes the upsert a no-op.
	claimKeySQL = `INSERT INTO dedup_keys (key, claim_token, claimed_at, expires_at)
    VALUES ($1, $2, now(), now() + ($3::bigint * interval '1 millisecond'))
    ON CONFLICT (key) DO UPDATE
    SET claim_token = EXCLUDED.claim_token,
        claimed_at = EXCLUDED.claimed_at,
        expires_at = EXCLUDED.expires_at
    WHERE dedup_keys.expires_at <= now()
    RETURNING key;`

	releaseKeySQL = `DELETE FROM dedup_keys WHERE key = $1 AND claim_token = $2;`

	deleteExpiredSQL = `DELETE FROM dedup_keys WHERE expires_at <= now();`

	listActiveKeysSQL = `SELECT key, claimed_at, expires_at
    FROM dedup_keys
    WHERE expires_at > now()
    ORDER BY claimed_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store keeps dedup keys in PostgreSQL so restarts and sibling instances see the same window.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the dedup table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createDedupTableSQL, addClaimTokenSQL, createDedupIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure dedup schema: %w", err)
		}
	}
	return nil
}

// Claim inserts key unless an unexpired row exists.
func (s *Store) Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var claimed string
	err = pool.QueryRow(ctx, claimKeySQL, key, token, ttl.Milliseconds()).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim dedup key: %w", err)
	}
	return true, nil
}

// Release deletes key while token still owns it.
func (s *Store) Release(ctx context.Context, key, token string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, releaseKeySQL, key, token); err != nil {
		return fmt.Errorf("release dedup key: %w", err)
	}
	return nil
}

// Sweep deletes expired keys and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteExpiredSQL)
	if err != nil {
		return 0, fmt.Errorf("delete expired dedup keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns the most recently claimed unexpired keys.
func (s *Store) ListActive(ctx context.Context, limit int) ([]DedupEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listActiveKeysSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list active dedup keys: %w", err)
	}
	defer rows.Close()

	entries := make([]DedupEntry, 0, limit)
	for rows.Next() {
		var e DedupEntry
		if err := rows.Scan(&e.Key, &e.ClaimedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}
