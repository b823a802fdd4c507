package middlewares

import "context"

type ctxKey string

const (
	ctxActorKey     ctxKey = "actor"
	ctxRequestIDKey ctxKey = "request_id"
)

// Actor es la identidad autenticada que llega de la capa de auth externa.
type Actor struct {
	ID     string
	Scopes []string
}

// HasScope indica si el actor tiene scope.
func (a Actor) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// WithActor inyecta el actor en el contexto.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, a)
}

// GetActor obtiene el actor del contexto. ok=false si no hubo autenticación.
func GetActor(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxActorKey).(Actor)
	return a, ok
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID obtiene el request ID del contexto.
func GetRequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxRequestIDKey).(string)
	return s
}
