// Package postgres provides a PostgreSQL session ledger using pgx/v5
// connection pooling.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Ledger.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Ledger = (*Store)(nil)

// New connects to the database. If MigrateOnStart is set, schema
// migrations are applied before returning.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Save inserts rec. The tenant in ctx overrides rec.TenantID.
func (s *Store) Save(ctx context.Context, rec storage.SessionRecord) error {
	if tenant := storage.GetTenant(ctx); tenant != "" {
		rec.TenantID = tenant
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sandbox_sessions (id, session_id, tenant_id, backend, status, error, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID, rec.SessionID, rec.TenantID, rec.Backend, string(rec.Status),
		nullString(rec.Error), rec.CreatedAt, rec.ClosedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting session record: %w", err)
	}
	return nil
}

// Finish updates the newest active record of sessionID.
func (s *Store) Finish(ctx context.Context, sessionID string, status storage.Status, errMsg string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE sandbox_sessions SET status = $1, error = $2, closed_at = $3
		WHERE id = (
			SELECT id FROM sandbox_sessions
			WHERE tenant_id = $4 AND session_id = $5 AND status = 'active'
			ORDER BY created_at DESC LIMIT 1
		)
	`,
		string(status), nullString(errMsg), time.Now().UTC(), storage.GetTenant(ctx), sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, session_id, tenant_id, backend, status, error, created_at, closed_at FROM sandbox_sessions`

// Get returns the newest record of sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (*storage.SessionRecord, error) {
	row := s.pool.QueryRow(ctx,
		selectColumns+` WHERE tenant_id = $1 AND session_id = $2 ORDER BY created_at DESC LIMIT 1`,
		storage.GetTenant(ctx), sessionID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session record: %w", err)
	}
	return rec, nil
}

// List returns records newest first. Without a tenant in ctx all tenants
// are listed.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]storage.SessionRecord, error) {
	query := selectColumns + ` WHERE true`
	var args []any

	if tenant := storage.GetTenant(ctx); tenant != "" {
		args = append(args, tenant)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, opts.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	defer rows.Close()

	out := []storage.SessionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*storage.SessionRecord, error) {
	var rec storage.SessionRecord
	var status string
	var errMsg *string
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.TenantID, &rec.Backend, &status, &errMsg, &rec.CreatedAt, &rec.ClosedAt); err != nil {
		return nil, err
	}
	rec.Status = storage.Status(status)
	if errMsg != nil {
		rec.Error = *errMsg
	}
	return &rec, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKey reports a unique violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
