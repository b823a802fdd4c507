// Package keys expone las claves públicas de verificación.
package keys

import (
	"context"
	"net/http"

	httperrors "github.com/dropDatabas3/leopass/internal/http/v2/errors"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
)

// JWKSSource devuelve el documento JWKS ya serializado.
type JWKSSource interface {
	JWKSJSON(ctx context.Context) ([]byte, error)
}

type Controller struct {
	src JWKSSource
}

func NewController(src JWKSSource) *Controller { return &Controller{src: src} }

// JWKS maneja GET /.well-known/jwks.json (claves ACTIVE y ROTATING).
func (c *Controller) JWKS(w http.ResponseWriter, r *http.Request) {
	body, err := c.src.JWKSJSON(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("jwks build failed", logger.Op("KeysController.JWKS"), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
