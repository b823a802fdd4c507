// Package sqlite implementa repository.Store sobre SQLite (modernc.org/sqlite).
// Pensado para un nodo único: una conexión y transacciones IMMEDIATE, así dos
// scans concurrentes del mismo token quedan serializados.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store es un repository.Store sobre SQLite.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// Open abre path (":memory:" para tests). No aplica migraciones; ver store.Open.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	dsn := path + "?" + q.Encode()
	if strings.HasPrefix(path, "file:") && strings.Contains(path, "?") {
		dsn = path + "&" + q.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{db: db}, nil
}

// SQLDB expone el handle para el migrador.
func (s *Store) SQLDB() *sql.DB { return s.db }

func (s *Store) Name() string                   { return "sqlite" }
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

func (s *Store) Keys() repository.KeyRepository                   { return &keyRepo{s.db} }
func (s *Store) ScanTokens() repository.ScanTokenRepository       { return &tokenRepo{s.db} }
func (s *Store) Sessions() repository.AttendanceSessionRepository { return &sessionRepo{s.db} }
func (s *Store) Passes() repository.PassRepository                { return &passRepo{s.db} }

// WithinTx abre una transacción IMMEDIATE (lock de escritura desde el inicio).
// Las claims viajan en el contexto; SQLite no tiene variables de sesión.
func (s *Store) WithinTx(ctx context.Context, claims repository.Claims, fn func(ctx context.Context, tx repository.Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(repository.ContextWithClaims(ctx, claims), txRepos{tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txRepos struct{ q querier }

func (t txRepos) Keys() repository.KeyRepository                   { return &keyRepo{t.q} }
func (t txRepos) ScanTokens() repository.ScanTokenRepository       { return &tokenRepo{t.q} }
func (t txRepos) Sessions() repository.AttendanceSessionRepository { return &sessionRepo{t.q} }
func (t txRepos) Passes() repository.PassRepository                { return &passRepo{t.q} }

// ─── helpers ───

// Los timestamps se guardan como microsegundos unix.
func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func uniqueViolationOn(err error, column string) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), column)
}
