// Package pg implementa repository.Store sobre PostgreSQL (pgxpool).
//
// Cada WithinTx publica las claims con set_config(..., true) (locales a la
// transacción) para que políticas RLS puedan leerlas. Las filas scan_token y
// member_event_pass se leen FOR UPDATE: dos scans del mismo token, o del mismo
// miembro en el mismo evento, se serializan.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig ajusta el pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// Store es un repository.Store sobre Postgres.
type Store struct{ pool *pgxpool.Pool }

var _ repository.Store = (*Store)(nil)

// New abre un pool contra dsn.
func New(ctx context.Context, dsn string, cfg PoolConfig) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pcfg.MaxConnIdleTime = cfg.ConnMaxLifetime
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 10
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool expone el pool (métricas/migraciones).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// SQLDB devuelve un *sql.DB sobre el mismo pool para el migrador.
func (s *Store) SQLDB() *sql.DB { return stdlib.OpenDBFromPool(s.pool) }

func (s *Store) Name() string                   { return "postgres" }
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Store) Close() error                   { s.pool.Close(); return nil }

func (s *Store) Keys() repository.KeyRepository                   { return &keyRepo{s.pool} }
func (s *Store) ScanTokens() repository.ScanTokenRepository       { return &tokenRepo{s.pool} }
func (s *Store) Sessions() repository.AttendanceSessionRepository { return &sessionRepo{s.pool} }
func (s *Store) Passes() repository.PassRepository                { return &passRepo{s.pool} }

// WithinTx corre fn en una transacción READ COMMITTED con claims locales.
func (s *Store) WithinTx(ctx context.Context, claims repository.Claims, fn func(ctx context.Context, tx repository.Repos) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT set_config('leopass.actor_id', $1, true), set_config('leopass.roles', $2, true)`,
		claims.ActorID, strings.Join(claims.Roles, ","),
	); err != nil {
		return fmt.Errorf("pg: set claims: %w", err)
	}

	if err := fn(repository.ContextWithClaims(ctx, claims), txRepos{tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepos struct{ q querier }

func (t txRepos) Keys() repository.KeyRepository                   { return &keyRepo{t.q} }
func (t txRepos) ScanTokens() repository.ScanTokenRepository       { return &tokenRepo{t.q} }
func (t txRepos) Sessions() repository.AttendanceSessionRepository { return &sessionRepo{t.q} }
func (t txRepos) Passes() repository.PassRepository                { return &passRepo{t.q} }

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
