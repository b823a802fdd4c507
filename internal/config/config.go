package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/validation"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"app_env" validate:"omitempty,oneof=dev staging prod"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr" validate:"required"`
		ReadTimeout     string `yaml:"read_timeout" validate:"omitempty,duration"`
		WriteTimeout    string `yaml:"write_timeout" validate:"omitempty,duration"`
		ShutdownTimeout string `yaml:"shutdown_timeout" validate:"omitempty,duration"`
	} `yaml:"server"`

	Storage struct {
		Driver   string `yaml:"driver" validate:"oneof=postgres pg postgresql sqlite sqlite3 memory"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns" validate:"gte=0"`
			MinConns        int    `yaml:"min_conns" validate:"gte=0"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime" validate:"omitempty,duration"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Redis struct {
		Addr   string `yaml:"addr"`
		DB     int    `yaml:"db" validate:"gte=0"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Rate struct {
		// nil => habilitado
		Enabled *bool      `yaml:"enabled"`
		Token   RateWindow `yaml:"token"`
		Scan    RateWindow `yaml:"scan"`
	} `yaml:"rate"`

	Tokens struct {
		TTL          string `yaml:"ttl" validate:"omitempty,duration"`
		ClockSkew    string `yaml:"clock_skew" validate:"omitempty,duration"`
		DefaultGrace int    `yaml:"default_grace_minutes" validate:"gte=0"`
	} `yaml:"tokens"`

	Keys struct {
		MasterKey string `yaml:"master_key"` // base64(32 bytes); SECRETBOX_MASTER_KEY
		CacheTTL  string `yaml:"cache_ttl" validate:"omitempty,duration"`
		JWKSTTL   string `yaml:"jwks_ttl" validate:"omitempty,duration"`
	} `yaml:"keys"`

	Notify struct {
		Kind  string `yaml:"kind" validate:"oneof=log kafka none"`
		Kafka struct {
			Brokers  []string `yaml:"brokers"`
			Topic    string   `yaml:"topic"`
			ClientID string   `yaml:"client_id"`
			Timeout  string   `yaml:"timeout" validate:"omitempty,duration"`
		} `yaml:"kafka"`
	} `yaml:"notify"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Flags struct {
		Migrate bool `yaml:"migrate"`
	} `yaml:"flags"`
}

// RateWindow es un límite configurable por endpoint.
type RateWindow struct {
	Limit  int    `yaml:"limit" validate:"gte=0"`
	Window string `yaml:"window" validate:"omitempty,duration"`
}

// Load lee path (si existe), aplica defaults, overrides por env y valida.
// path vacío => solo defaults + env.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "15s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "20s"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Rate.Enabled == nil {
		on := true
		c.Rate.Enabled = &on
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "leopass:rl:"
	}
	if c.Rate.Token.Limit == 0 {
		c.Rate.Token.Limit = 30
	}
	if c.Rate.Token.Window == "" {
		c.Rate.Token.Window = "1m"
	}
	if c.Rate.Scan.Limit == 0 {
		c.Rate.Scan.Limit = 150
	}
	if c.Rate.Scan.Window == "" {
		c.Rate.Scan.Window = "1m"
	}
	if c.Tokens.TTL == "" {
		c.Tokens.TTL = "30s"
	}
	if c.Tokens.ClockSkew == "" {
		c.Tokens.ClockSkew = "90s"
	}
	if c.Tokens.DefaultGrace == 0 {
		c.Tokens.DefaultGrace = 5
	}
	if c.Keys.CacheTTL == "" {
		c.Keys.CacheTTL = "30s"
	}
	if c.Keys.JWKSTTL == "" {
		c.Keys.JWKSTTL = "15s"
	}
	if c.Notify.Kind == "" {
		c.Notify.Kind = "log"
	}
	if c.Notify.Kafka.Topic == "" {
		c.Notify.Kafka.Topic = "leopass.attendance"
	}
	if c.Notify.Kafka.ClientID == "" {
		c.Notify.Kafka.ClientID = "leopass"
	}
	if c.Notify.Kafka.Timeout == "" {
		c.Notify.Kafka.Timeout = "5s"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Redis.Prefix = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = &v
	}
	if v, ok := getEnvInt("RATE_TOKEN_LIMIT"); ok {
		c.Rate.Token.Limit = v
	}
	if v, ok := getEnvStr("RATE_TOKEN_WINDOW"); ok {
		c.Rate.Token.Window = v
	}
	if v, ok := getEnvInt("RATE_SCAN_LIMIT"); ok {
		c.Rate.Scan.Limit = v
	}
	if v, ok := getEnvStr("RATE_SCAN_WINDOW"); ok {
		c.Rate.Scan.Window = v
	}

	// TOKENS
	if v, ok := getEnvStr("TOKEN_TTL"); ok {
		c.Tokens.TTL = v
	}
	if v, ok := getEnvStr("TOKEN_CLOCK_SKEW"); ok {
		c.Tokens.ClockSkew = v
	}
	if v, ok := getEnvInt("EVENT_DEFAULT_GRACE_MINUTES"); ok {
		c.Tokens.DefaultGrace = v
	}

	// KEYS
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Keys.MasterKey = v
	}

	// NOTIFY
	if v, ok := getEnvStr("NOTIFY_KIND"); ok {
		c.Notify.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvCSV("KAFKA_BROKERS"); ok {
		c.Notify.Kafka.Brokers = v
	}
	if v, ok := getEnvStr("KAFKA_TOPIC"); ok {
		c.Notify.Kafka.Topic = v
	}

	// METRICS / FLAGS
	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}
	if v, ok := getEnvBool("FLAGS_MIGRATE"); ok {
		c.Flags.Migrate = v
	}
}

// Validate chequea tags de struct y reglas cruzadas.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Storage.Driver {
	case "postgres", "pg", "postgresql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.dsn is required for sqlite (use :memory: for tests)")
		}
	}
	if c.Notify.Kind == "kafka" && len(c.Notify.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: notify.kafka.brokers is required when notify.kind=kafka")
	}
	if strings.EqualFold(c.App.Env, "prod") && strings.TrimSpace(c.Keys.MasterKey) == "" {
		return fmt.Errorf("config: keys.master_key (SECRETBOX_MASTER_KEY) is required in prod")
	}
	return nil
}

// RateEnabled indica si los endpoints aplican rate limiting.
func (c *Config) RateEnabled() bool {
	return c.Rate.Enabled == nil || *c.Rate.Enabled
}

// Duration parsea un campo ya validado; vacío => def.
func Duration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && s != "" {
		return d
	}
	return def
}
