package notify

import (
	"context"
	"time"

	"github.com/dropDatabas3/leopass/internal/metrics"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
)

// Dispatch emite ev en una goroutine propia, desacoplada de la cancelación de ctx.
// Los errores solo se loguean.
func Dispatch(ctx context.Context, e Emitter, ev Event, timeout time.Duration) {
	if e == nil {
		return
	}
	log := logger.From(ctx)
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, timeout)
		defer cancel()
		if err := e.Emit(ctx, ev); err != nil {
			metrics.NotifyFailures.Inc()
			log.Warn("attendance event not emitted", logger.SessionID(ev.SessionID), logger.Err(err))
		}
	}()
}
