package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"go.uber.org/zap"
)

const DefaultCheckInterval = 15 * time.Second

// ReadyChecker responde si el servicio está listo.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// FlushRunner ejecuta una pasada de flush.
type FlushRunner interface {
	Flush(ctx context.Context) (FlushReport, error)
}

// Monitor sigue la conectividad y dispara un flush en cada transición
// offline → online. Arranca offline, así el primer chequeo exitoso sincroniza
// lo que haya quedado de una corrida anterior.
type Monitor struct {
	ready    ReadyChecker
	flush    FlushRunner
	interval time.Duration
	online   atomic.Bool
}

func NewMonitor(p ReadyChecker, f FlushRunner, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Monitor{ready: p, flush: f, interval: interval}
}

func (m *Monitor) Online() bool { return m.online.Load() }

// MarkOffline se llama cuando un envío falla por conectividad.
func (m *Monitor) MarkOffline() { m.online.Store(false) }

// Check consulta /readyz y, si el servicio volvió, corre Flush.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.ready.Ready(ctx)
	up := err == nil
	was := m.online.Swap(up)
	log := logger.From(ctx).With(logger.Component("offline.monitor"))
	if !up {
		if was {
			log.Warn("server unreachable", logger.Err(err))
		}
		return false
	}
	if was {
		return true
	}
	log.Info("server reachable, flushing queue")
	rep, ferr := m.flush.Flush(ctx)
	if ferr != nil && !errors.Is(ferr, ErrFlushInProgress) {
		log.Error("flush failed", logger.Err(ferr))
		return true
	}
	if rep.Stopped {
		m.online.Store(false)
	}
	log.Info("flush finished",
		zap.Int("submitted", rep.Submitted), zap.Int("failed", rep.Failed),
		zap.Int("stale", rep.Stale), zap.Bool("stopped", rep.Stopped))
	return m.Online()
}

// Run chequea cada interval hasta que ctx termine.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.Check(ctx)
		}
	}
}
