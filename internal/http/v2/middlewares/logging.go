package middlewares

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/observability/logger"
)

// WithLogging inyecta un logger scoped (request_id, method, path) en el
// contexto y registra cada request al terminar, con nivel según el status.
func WithLogging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := logger.L().With(
				logger.RequestID(GetRequestID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
			)
			ctx := logger.ToContext(r.Context(), reqLog)
			rec := newRecorder(w)

			next.ServeHTTP(rec, r.WithContext(ctx))

			status, bytes, dur := logger.Status(rec.status), logger.Bytes(rec.bytes), logger.Duration(time.Since(start))
			switch {
			case rec.status >= 500:
				reqLog.Error("request failed", status, bytes, dur)
			case rec.status >= 400:
				reqLog.Warn("request completed with client error", status, bytes, dur, logger.ClientIP(clientIP(r)))
			default:
				reqLog.Info("request completed", status, bytes, dur)
			}
		})
	}
}

// clientIP extrae la IP del cliente, considerando proxies.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		return strings.TrimSpace(strings.Split(xf, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
