// Package rate implementa rate limiting fixed-window por clave.
//
// RedisLimiter comparte contadores entre réplicas del servicio; MemoryLimiter
// sirve para un nodo único o cuando Redis no está configurado.
package rate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

// Limiter aplica un límite distinto por llamada (p. ej. por ruta).
type Limiter interface {
	AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Policy es un límite nombrado.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled indica si la política limita algo.
func (p Policy) Enabled() bool { return p.Limit > 0 && p.Window > 0 }

var (
	// ScanPolicy: 150 scans por minuto por scanner.
	ScanPolicy = Policy{Limit: 150, Window: time.Minute}
	// TokenPolicy: 30 emisiones de token por minuto por miembro.
	TokenPolicy = Policy{Limit: 30, Window: time.Minute}
)

// RedisLimiter: fixed window (INCR + EXPIRE).
type RedisLimiter struct {
	client rdb.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client rdb.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func windowKey(prefix, key string, winStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())
}

func (l *RedisLimiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	winStart := l.now().UTC().Truncate(window)
	redisKey := windowKey(l.prefix, key, winStart)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// set expiry on first hit
	windowTTL := ttl.Val()
	if incr.Val() == 1 || windowTTL < 0 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return Result{}, err
		}
		windowTTL = window
	}
	return result(incr.Val(), int64(limit), windowTTL, window), nil
}

func result(hits, max int64, ttl, window time.Duration) Result {
	res := Result{
		Allowed:     hits <= max,
		Remaining:   max - hits,
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = window
		}
	}
	return res
}

// MemoryLimiter guarda contadores en proceso (go-cache expira las ventanas).
type MemoryLimiter struct {
	mu  sync.Mutex
	c   *cache.Cache
	now func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{c: cache.New(time.Minute, 5*time.Minute), now: time.Now}
}

func (l *MemoryLimiter) AllowWithLimits(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(window)
	winEnd := winStart.Add(window)
	k := windowKey("", key, winStart) + fmt.Sprintf(":%d", window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, found := l.c.Get(k); !found {
		l.c.Set(k, int64(0), winEnd.Sub(now))
	}
	hits, err := l.c.IncrementInt64(k, 1)
	if err != nil {
		return Result{}, err
	}
	return result(hits, int64(limit), winEnd.Sub(now), window), nil
}
