package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Formato de archivo: {version}_{name}.up.sql y {version}_{name}.down.sql
// (ej: 0001_init.up.sql). La versión aplicada vive en schema_migrations.

// Migrator aplica migraciones SQL embebidas con golang-migrate.
type Migrator struct {
	fsys   fs.FS
	dir    string
	driver string
	log    *zap.Logger
}

// NewMigrator crea un Migrator para driver ("postgres" | "sqlite").
func NewMigrator(fsys fs.FS, dir, driver string) *Migrator {
	return &Migrator{fsys: fsys, dir: dir, driver: driver, log: logger.Named("migrate")}
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied  []uint        `json:"applied"`
	Version  uint          `json:"version"`
	Dirty    bool          `json:"dirty"`
	Duration time.Duration `json:"duration"`
}

// MigrationStatus es la versión aplicada y lo que falta aplicar. Una versión
// dirty (falló a mitad) cuenta como pendiente.
type MigrationStatus struct {
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
	Pending []uint `json:"pending"`
}

// Versions lista las versiones disponibles en el FS, ordenadas.
func (m *Migrator) Versions() ([]uint, error) {
	src, err := iofs.New(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("migrations source: %w", err)
	}
	defer src.Close()
	return sourceVersions(src)
}

// Run aplica las migraciones pendientes. Se detiene en la primera que falla
// y la deja marcada como dirty.
func (m *Migrator) Run(ctx context.Context, db *sql.DB) (*MigrationResult, error) {
	start := time.Now()
	res := &MigrationResult{}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s, err := m.open(db)
	if err != nil {
		return res, err
	}
	defer s.close()

	before, _, err := s.version()
	if err != nil {
		return res, err
	}

	stop := s.stopOnCancel(ctx)
	upErr := s.mg.Up()
	stop()
	if errors.Is(upErr, migrate.ErrNoChange) {
		upErr = nil
	}
	if upErr == nil {
		upErr = ctx.Err()
	}

	after, dirty, err := s.version()
	if err != nil && upErr == nil {
		upErr = err
	}
	res.Version, res.Dirty = after, dirty

	versions, err := sourceVersions(s.src)
	if err != nil && upErr == nil {
		upErr = err
	}
	for _, v := range versions {
		if v > before && (v < after || (v == after && !dirty)) {
			res.Applied = append(res.Applied, v)
		}
	}
	res.Duration = time.Since(start)
	return res, upErr
}

// Status devuelve la versión aplicada y las pendientes.
func (m *Migrator) Status(ctx context.Context, db *sql.DB) (*MigrationStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := m.open(db)
	if err != nil {
		return nil, err
	}
	defer s.close()

	v, dirty, err := s.version()
	if err != nil {
		return nil, err
	}
	versions, err := sourceVersions(s.src)
	if err != nil {
		return nil, err
	}
	st := &MigrationStatus{Version: v, Dirty: dirty}
	for _, sv := range versions {
		if sv > v || (dirty && sv == v) {
			st.Pending = append(st.Pending, sv)
		}
	}
	return st, nil
}

type session struct {
	mg    *migrate.Migrate
	src   source.Driver
	close func()
}

func (m *Migrator) open(db *sql.DB) (*session, error) {
	src, err := iofs.New(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("migrations source: %w", err)
	}

	var drv database.Driver
	switch m.driver {
	case DriverPostgres:
		drv, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	case DriverSQLite:
		drv, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", m.driver)
	}
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("migrations database: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", src, m.driver, drv)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("migrations init: %w", err)
	}
	mg.Log = migrateLogger{log: m.log}

	s := &session{mg: mg, src: src}
	switch m.driver {
	case DriverPostgres:
		// El driver pgx retiene una conexión para el advisory lock; Close la
		// devuelve al pool y cierra el *sql.DB puente.
		s.close = func() { _, _ = mg.Close() }
	default:
		// El driver sqlite cierra el *sql.DB recibido, que es el del store.
		s.close = func() { _ = src.Close() }
	}
	return s, nil
}

func (s *session) version() (uint, bool, error) {
	v, dirty, err := s.mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations version: %w", err)
	}
	return v, dirty, nil
}

// stopOnCancel pide a golang-migrate que pare entre migraciones si ctx se cancela.
func (s *session) stopOnCancel(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mg.GracefulStop <- true
		case <-done:
		}
	}()
	return func() { close(done) }
}

func sourceVersions(src source.Driver) ([]uint, error) {
	var out []uint
	v, err := src.First()
	for err == nil {
		out = append(out, v)
		v, err = src.Next(v)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	return nil, fmt.Errorf("migrations source: %w", err)
}

type migrateLogger struct{ log *zap.Logger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }
