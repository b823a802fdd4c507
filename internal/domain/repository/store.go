package repository

import "context"

// Claims es el contexto de autorización explícito de una unidad de trabajo.
// El store decide cómo publicarlo (PG: set_config transaction-local).
type Claims struct {
	ActorID string
	Roles   []string
}

// SystemClaims son las claims usadas por procesos internos (emisión, bootstrap de claves).
var SystemClaims = Claims{Roles: []string{"system"}}

// Repos agrupa los repositorios visibles dentro (o fuera) de una transacción.
type Repos interface {
	Keys() KeyRepository
	ScanTokens() ScanTokenRepository
	Sessions() AttendanceSessionRepository
	Passes() PassRepository
}

// Store es el punto de acceso a datos del core.
type Store interface {
	Repos

	// WithinTx ejecuta fn en una transacción. Si fn devuelve error se hace rollback.
	// Dos WithinTx que tocan el mismo jti o el mismo pase se serializan.
	WithinTx(ctx context.Context, claims Claims, fn func(ctx context.Context, tx Repos) error) error

	Name() string
	Ping(ctx context.Context) error
	Close() error
}

type claimsKey struct{}

// ContextWithClaims adjunta las claims de la unidad de trabajo al contexto.
func ContextWithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext devuelve las claims de la unidad de trabajo en curso.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
