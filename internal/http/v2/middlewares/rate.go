package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/leopass/internal/http/v2/errors"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/rate"
)

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// ActorRateKey limita por actor y ruta; sin actor cae a la IP.
func ActorRateKey(route string) RateKeyFunc {
	return func(r *http.Request) string {
		if a, ok := GetActor(r.Context()); ok {
			return route + "|actor:" + a.ID
		}
		return route + "|ip:" + clientIP(r)
	}
}

// WithRateLimit aplica policy con limiter. limiter nil o policy deshabilitada => no-op.
// Si el limiter falla el request pasa (fail-open).
func WithRateLimit(limiter rate.Limiter, policy rate.Policy, key RateKeyFunc) Middleware {
	if limiter == nil || !policy.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.AllowWithLimits(r.Context(), key(r), policy.Limit, policy.Window)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Component("rate"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if res.WindowTTL > 0 {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.WindowTTL).Unix(), 10))
			}
			if !res.Allowed {
				secs := int(res.RetryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				errors.WriteError(w, errors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
