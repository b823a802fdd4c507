package offline

import (
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	mw "github.com/dropDatabas3/leopass/internal/http/v2/middlewares"
)

// AgentConfig configura el agente del escáner desde el entorno.
type AgentConfig struct {
	BaseURL        string        `env:"LEOPASS_URL"             envDefault:"http://localhost:8080"`
	ActorID        string        `env:"LEOPASS_ACTOR_ID"`
	Scopes         []string      `env:"LEOPASS_SCOPES"          envSeparator:"," envDefault:"attendance:scan"`
	DeviceID       string        `env:"LEOPASS_DEVICE_ID"`
	DataPath       string        `env:"LEOPASS_OFFLINE_DB"      envDefault:"leopass-offline.db"`
	QueueCapacity  int           `env:"LEOPASS_QUEUE_CAPACITY"  envDefault:"500"`
	QueueMaxAge    time.Duration `env:"LEOPASS_QUEUE_MAX_AGE"   envDefault:"48h"`
	JWKSRefresh    time.Duration `env:"LEOPASS_JWKS_REFRESH"    envDefault:"6h"`
	ClockSkew      time.Duration `env:"LEOPASS_CLOCK_SKEW"      envDefault:"90s"`
	CheckInterval  time.Duration `env:"LEOPASS_CHECK_INTERVAL"  envDefault:"15s"`
	RequestTimeout time.Duration `env:"LEOPASS_REQUEST_TIMEOUT" envDefault:"10s"`
}

// LoadAgentConfig lee AgentConfig del entorno.
func LoadAgentConfig() (AgentConfig, error) {
	var cfg AgentConfig
	if err := env.Parse(&cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.QueueCapacity <= 0 {
		return AgentConfig{}, fmt.Errorf("LEOPASS_QUEUE_CAPACITY must be positive")
	}
	return cfg, nil
}

// Components arma las piezas del agente sobre un DB ya abierto.
type Components struct {
	Client   *Client
	Queue    *Queue
	Verifier *Verifier
	Flusher  *Flusher
	Monitor  *Monitor
	Agent    *Agent
}

func (cfg AgentConfig) Build(db *DB, opts ...ClientOption) *Components {
	base := []ClientOption{WithActor(cfg.ActorID, cfg.scopes()...)}
	if cfg.RequestTimeout > 0 {
		base = append(base, WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	}
	c := NewClient(cfg.BaseURL, append(base, opts...)...)
	q := NewQueue(db, WithCapacity(cfg.QueueCapacity), WithMaxAge(cfg.QueueMaxAge))
	v := NewVerifier(NewJWKSCache(db), c, WithRefreshInterval(cfg.JWKSRefresh), WithVerifierSkew(cfg.ClockSkew))
	f := NewFlusher(q, c)
	m := NewMonitor(c, f, cfg.CheckInterval)
	return &Components{
		Client:   c,
		Queue:    q,
		Verifier: v,
		Flusher:  f,
		Monitor:  m,
		Agent:    NewAgent(v, c, q, m, cfg.DeviceID),
	}
}

func (cfg AgentConfig) scopes() []string {
	if len(cfg.Scopes) == 0 {
		return []string{mw.ScopeScan}
	}
	return cfg.Scopes
}
