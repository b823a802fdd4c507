package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/leopass/internal/http/v2/errors"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/validation"
)

// Scopes que gatean la API.
const (
	ScopeScan        = "attendance:scan"
	ScopeMemberToken = "member:token"
)

// Headers que publica el gateway de autenticación delante del servicio.
const (
	HeaderActorID     = "X-Actor-ID"
	HeaderActorScopes = "X-Actor-Scopes"
)

// Authenticator resuelve el actor de un request. La autenticación real
// (OTP, passkeys) vive fuera de este servicio.
type Authenticator interface {
	Authenticate(r *http.Request) (Actor, bool)
}

// AuthenticatorFunc adapta una función a Authenticator.
type AuthenticatorFunc func(r *http.Request) (Actor, bool)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (Actor, bool) { return f(r) }

// HeaderAuthenticator confía en los headers X-Actor-* puestos por el gateway.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if id == "" {
		return Actor{}, false
	}
	return Actor{ID: id, Scopes: validation.ParseScopes(r.Header.Get(HeaderActorScopes))}, true
}

// RequireActor exige un actor autenticado y lo agrega al contexto y al logger.
func RequireActor(auth Authenticator) Middleware {
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.Authenticate(r)
			if !ok {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			ctx := WithActor(r.Context(), actor)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.ActorID(actor.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope verifica que el actor tenga scope. Debe usarse después de RequireActor.
func RequireScope(scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r.Context())
			if !ok {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			if !actor.HasScope(scope) {
				errors.WriteError(w, errors.ErrInsufficientScopes.WithDetail("required scope: "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
