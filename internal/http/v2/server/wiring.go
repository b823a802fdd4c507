// Package server arma el servicio completo a partir de la configuración:
// store, claves, engine, emisor, rate limiting, métricas y router.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/attendance"
	"github.com/dropDatabas3/leopass/internal/config"
	"github.com/dropDatabas3/leopass/internal/domain/repository"
	healthctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/health"
	keysctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/keys"
	scanctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/scan"
	tokenctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/token"
	"github.com/dropDatabas3/leopass/internal/http/v2/router"
	healthsvc "github.com/dropDatabas3/leopass/internal/http/v2/services/health"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/metrics"
	"github.com/dropDatabas3/leopass/internal/notify"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/rate"
	"github.com/dropDatabas3/leopass/internal/scantoken"
	"github.com/dropDatabas3/leopass/internal/security/secretbox"
	"github.com/dropDatabas3/leopass/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App es el servicio armado. Close libera todo lo que Build abrió.
type App struct {
	Config   *config.Config
	Store    repository.Store
	Keys     *jwt.KeyManager
	Engine   *attendance.Engine
	Issuer   *scantoken.Issuer
	Handler  http.Handler
	Registry *prometheus.Registry

	closers []func() error
}

// Build arma la App. Con storage persistente exige master key: claves
// selladas con una clave efímera no se podrían abrir tras reiniciar.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}
	built := false
	defer func() {
		if !built {
			_ = app.Close()
		}
	}()

	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Storage.Driver,
		DSN:      cfg.Storage.DSN,
		MaxConns: int32(cfg.Storage.Postgres.MaxConns),
		MinConns: int32(cfg.Storage.Postgres.MinConns),
		MaxLife:  config.Duration(cfg.Storage.Postgres.ConnMaxLifetime, 0),
		Migrate:  cfg.Flags.Migrate,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	app.Store = st
	app.closers = append(app.closers, st.Close)

	box, err := MasterBox(cfg)
	if err != nil {
		return nil, err
	}
	km, err := jwt.NewKeyManager(st.Keys(), box,
		jwt.WithCacheTTL(config.Duration(cfg.Keys.CacheTTL, 30*time.Second)),
		jwt.WithJWKSTTL(config.Duration(cfg.Keys.JWKSTTL, 15*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	active, err := km.EnsureActiveKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("keys: ensure active: %w", err)
	}
	app.Keys = km
	logger.L().Info("signing key ready", logger.KeyID(active.ID), zap.String("status", string(active.Status)))

	emitter, closeEmitter, err := NewEmitter(cfg)
	if err != nil {
		return nil, err
	}
	if closeEmitter != nil {
		app.closers = append(app.closers, closeEmitter)
	}

	codec := jwt.NewCodec(km)
	app.Engine = attendance.NewEngine(st, codec, km,
		attendance.WithClockSkew(config.Duration(cfg.Tokens.ClockSkew, attendance.DefaultClockSkew)),
		attendance.WithDefaultGraceMinutes(cfg.Tokens.DefaultGrace),
		attendance.WithEmitter(emitter),
	)
	app.Issuer = scantoken.NewIssuer(st, codec,
		scantoken.WithTTL(config.Duration(cfg.Tokens.TTL, scantoken.DefaultTTL)))

	extras := map[string]healthsvc.Pinger{}
	deps := router.Deps{
		Scan:        scanctrl.NewController(app.Engine),
		Token:       tokenctrl.NewController(app.Issuer),
		Keys:        keysctrl.NewController(km),
		ScanPolicy:  policy(cfg.Rate.Scan, rate.ScanPolicy),
		TokenPolicy: policy(cfg.Rate.Token, rate.TokenPolicy),
	}

	if cfg.RateEnabled() {
		if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
			rc := rdb.NewClient(&rdb.Options{Addr: addr, DB: cfg.Redis.DB})
			app.closers = append(app.closers, rc.Close)
			deps.Limiter = rate.NewRedisLimiter(rc, cfg.Redis.Prefix)
			extras["redis"] = healthsvc.PingFunc(func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		} else {
			deps.Limiter = rate.NewMemoryLimiter()
		}
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		if pooled, ok := st.(interface{ Pool() *pgxpool.Pool }); ok {
			if err := metrics.RegisterCollector(reg, metrics.NewPoolCollector(pooled.Pool)); err != nil {
				return nil, fmt.Errorf("metrics: %w", err)
			}
		}
		app.Registry = reg
		deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		deps.MetricsPath = cfg.Metrics.Path
	}

	deps.Health = healthctrl.NewController(healthsvc.NewService(st, km, extras))
	app.Handler = router.New(deps)
	built = true
	return app, nil
}

// MasterBox construye el secretbox de claves privadas. Sin master key y con
// store en memoria usa una clave aleatoria del proceso.
func MasterBox(cfg *config.Config) (*secretbox.Box, error) {
	if k := strings.TrimSpace(cfg.Keys.MasterKey); k != "" {
		box, err := secretbox.FromString(k, jwt.SecretPurpose)
		if err != nil {
			return nil, fmt.Errorf("keys: master key: %w", err)
		}
		return box, nil
	}
	if store.NormalizeDriver(cfg.Storage.Driver) != store.DriverMemory {
		return nil, errors.New("keys: master_key (SECRETBOX_MASTER_KEY) is required with persistent storage")
	}
	ephemeral := make([]byte, 32)
	if _, err := rand.Read(ephemeral); err != nil {
		return nil, err
	}
	logger.L().Warn("no master key configured; using an ephemeral one (memory store only)")
	return secretbox.New(ephemeral, jwt.SecretPurpose)
}

// NewEmitter elige el emisor según notify.kind. El closer puede ser nil.
func NewEmitter(cfg *config.Config) (notify.Emitter, func() error, error) {
	switch cfg.Notify.Kind {
	case "kafka":
		k, err := notify.NewKafkaEmitter(notify.KafkaConfig{
			Brokers:  cfg.Notify.Kafka.Brokers,
			Topic:    cfg.Notify.Kafka.Topic,
			ClientID: cfg.Notify.Kafka.ClientID,
			Timeout:  config.Duration(cfg.Notify.Kafka.Timeout, 5*time.Second),
		})
		if err != nil {
			return nil, nil, err
		}
		return k, k.Close, nil
	case "none":
		return notify.Nop{}, nil, nil
	default:
		return notify.NewLogEmitter(), nil, nil
	}
}

func policy(w config.RateWindow, def rate.Policy) rate.Policy {
	p := rate.Policy{Limit: w.Limit, Window: config.Duration(w.Window, def.Window)}
	if p.Limit <= 0 {
		p.Limit = def.Limit
	}
	return p
}

// Close cierra en orden inverso al de apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
