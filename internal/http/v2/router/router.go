// Package router arma el árbol de rutas v2 sobre chi.
package router

import (
	"net/http"

	healthctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/health"
	keysctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/keys"
	scanctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/scan"
	tokenctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/token"
	httperrors "github.com/dropDatabas3/leopass/internal/http/v2/errors"
	mw "github.com/dropDatabas3/leopass/internal/http/v2/middlewares"
	"github.com/dropDatabas3/leopass/internal/rate"
	"github.com/go-chi/chi/v5"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Scan   *scanctrl.Controller
	Token  *tokenctrl.Controller
	Keys   *keysctrl.Controller
	Health *healthctrl.Controller

	// Auth resuelve el actor; nil => HeaderAuthenticator.
	Auth mw.Authenticator

	// Limiter nil deshabilita rate limiting.
	Limiter     rate.Limiter
	ScanPolicy  rate.Policy
	TokenPolicy rate.Policy

	// Metrics se monta en MetricsPath si no es nil.
	Metrics     http.Handler
	MetricsPath string
}

// New devuelve el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { httperrors.WriteError(w, httperrors.ErrNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// health sin logging (muy frecuentes)
	if d.Health != nil {
		r.Group(func(r chi.Router) {
			r.Use(mw.WithRecover(), mw.WithRequestID())
			r.Get("/healthz", d.Health.Healthz)
			r.Get("/readyz", d.Health.Readyz)
		})
	}
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(
			mw.WithRequestID(),
			mw.WithLogging(),
			mw.WithRecover(),
			mw.WithMetrics(),
			mw.WithSecurityHeaders(),
		)

		if d.Keys != nil {
			r.Get("/.well-known/jwks.json", d.Keys.JWKS)
		}

		r.Route("/v2", func(r chi.Router) {
			r.Use(mw.RequireActor(d.Auth), mw.WithNoStore())

			if d.Scan != nil {
				r.With(
					mw.RequireScope(mw.ScopeScan),
					mw.WithRateLimit(d.Limiter, d.ScanPolicy, mw.ActorRateKey("scan")),
				).Post("/scan", d.Scan.Scan)
			}
			if d.Token != nil {
				r.With(
					mw.WithRateLimit(d.Limiter, d.TokenPolicy, mw.ActorRateKey("token")),
				).Get("/member/events/{eventId}/token", d.Token.MemberToken)
			}
		})
	})
	return r
}
