// Package health agrega el estado de las dependencias del servicio.
package health

import (
	"context"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/http/v2/dto"
)

const (
	StatusReady       = "ready"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// Pinger es cualquier dependencia opcional con chequeo de salud (p. ej. Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapta una función a Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ActiveKeySource resuelve la clave de firma vigente.
type ActiveKeySource interface {
	EnsureActiveKey(ctx context.Context) (*repository.SigningKey, error)
}

// Service chequea store (crítico), clave activa (crítica) y extras (degradan).
type Service struct {
	store   repository.Store
	keys    ActiveKeySource
	extras  map[string]Pinger
	timeout time.Duration
}

func NewService(store repository.Store, keys ActiveKeySource, extras map[string]Pinger) *Service {
	return &Service{store: store, keys: keys, extras: extras, timeout: 2 * time.Second}
}

// Check devuelve el estado agregado.
func (s *Service) Check(ctx context.Context) dto.HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp := dto.HealthResponse{Status: StatusReady, Store: s.store.Name(), Components: map[string]string{}}

	if err := s.store.Ping(ctx); err != nil {
		resp.Components["store"] = "down: " + err.Error()
		resp.Status = StatusUnavailable
		return resp
	}
	resp.Components["store"] = "ok"

	if s.keys != nil {
		k, err := s.keys.EnsureActiveKey(ctx)
		if err != nil {
			resp.Components["signing_key"] = "down: " + err.Error()
			resp.Status = StatusUnavailable
			return resp
		}
		resp.Components["signing_key"] = "ok"
		resp.ActiveKeyID = k.ID
	}

	for name, p := range s.extras {
		if err := p.Ping(ctx); err != nil {
			resp.Components[name] = "down: " + err.Error()
			resp.Status = StatusDegraded
			continue
		}
		resp.Components[name] = "ok"
	}
	return resp
}
