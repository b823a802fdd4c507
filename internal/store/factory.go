// Package store elige y abre la implementación de repository.Store según la
// configuración, y aplica las migraciones embebidas.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/store/memory"
	"github.com/dropDatabas3/leopass/internal/store/pg"
	"github.com/dropDatabas3/leopass/internal/store/sqlite"
	"github.com/dropDatabas3/leopass/migrations"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config describe el backend de persistencia.
type Config struct {
	Driver   string
	DSN      string
	MaxConns int32
	MinConns int32
	MaxLife  time.Duration
	// Migrate aplica migraciones pendientes al abrir.
	Migrate bool
}

// NormalizeDriver acepta alias comunes ("pg", "postgresql", "sqlite3").
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "pg", "postgres", "postgresql":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "memory", "mem", "":
		return DriverMemory
	default:
		return strings.ToLower(strings.TrimSpace(d))
	}
}

type sqlBacked interface{ SQLDB() *sql.DB }

// Open abre el store configurado.
func Open(ctx context.Context, cfg Config) (repository.Store, error) {
	log := logger.From(ctx).With(logger.Component("store"))

	var (
		st  repository.Store
		err error
	)
	switch NormalizeDriver(cfg.Driver) {
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("%w: postgres dsn is empty", repository.ErrNoDatabase)
		}
		st, err = pg.New(ctx, cfg.DSN, pg.PoolConfig{
			MaxConns: cfg.MaxConns, MinConns: cfg.MinConns, ConnMaxLifetime: cfg.MaxLife,
		})
	case DriverSQLite:
		st, err = sqlite.Open(ctx, cfg.DSN)
	case DriverMemory:
		st = memory.New()
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if _, err := Migrate(ctx, st); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	log.Info("store opened", zap.String("driver", st.Name()))
	return st, nil
}

// Migrate aplica migraciones pendientes. El store en memoria no necesita esquema.
func Migrate(ctx context.Context, st repository.Store) (*MigrationResult, error) {
	m, db, release, err := migratorFor(st)
	if err != nil || m == nil {
		return &MigrationResult{}, err
	}
	defer release()

	res, err := m.Run(ctx, db)
	if err != nil {
		return res, fmt.Errorf("store: migrate %s: %w", st.Name(), err)
	}
	if len(res.Applied) > 0 {
		logger.From(ctx).Info("migrations applied",
			logger.Component("store"),
			zap.Uints("versions", res.Applied),
			logger.Duration(res.Duration),
		)
	}
	return res, nil
}

// MigrationState devuelve la versión aplicada y las pendientes.
func MigrationState(ctx context.Context, st repository.Store) (*MigrationStatus, error) {
	m, db, release, err := migratorFor(st)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return &MigrationStatus{}, nil
	}
	defer release()
	return m.Status(ctx, db)
}

func migratorFor(st repository.Store) (*Migrator, *sql.DB, func(), error) {
	sb, ok := st.(sqlBacked)
	if !ok {
		return nil, nil, nil, nil
	}
	switch st.Name() {
	case DriverPostgres:
		// SQLDB crea un *sql.DB puente sobre el pool; se cierra al terminar.
		db := sb.SQLDB()
		return NewMigrator(migrations.PostgresFS, migrations.PostgresDir, DriverPostgres), db, func() { _ = db.Close() }, nil
	case DriverSQLite:
		return NewMigrator(migrations.SQLiteFS, migrations.SQLiteDir, DriverSQLite), sb.SQLDB(), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("store: no migrations for %s", st.Name())
	}
}
