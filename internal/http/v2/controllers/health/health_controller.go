// Package health contiene el controller para health checks.
package health

import (
	"net/http"

	"github.com/dropDatabas3/leopass/internal/http/v2/helpers"
	svc "github.com/dropDatabas3/leopass/internal/http/v2/services/health"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"go.uber.org/zap"
)

type Controller struct {
	service *svc.Service
}

func NewController(service *svc.Service) *Controller { return &Controller{service: service} }

// Healthz maneja GET /healthz (liveness: el proceso responde).
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz maneja GET /readyz.
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := c.service.Check(r.Context())
	if resp.ActiveKeyID != "" {
		w.Header().Set("X-JWKS-KID", resp.ActiveKeyID)
	}
	status := http.StatusOK
	if resp.Status == svc.StatusUnavailable {
		status = http.StatusServiceUnavailable
		logger.From(r.Context()).Warn("not ready", logger.Op("HealthController.Readyz"), zap.Any("components", resp.Components))
	}
	helpers.WriteJSON(w, status, resp)
}
