package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"go.uber.org/zap"
)

var ErrFlushInProgress = errors.New("flush already in progress")

// FlushReport resume una pasada de Flush.
type FlushReport struct {
	Submitted int
	Replayed  int
	Failed    int
	Stale     int
	Skipped   int
	// Stopped: la pasada cortó por falta de conectividad.
	Stopped   bool
	LastError error
}

// Flusher reenvía la cola de a un item, más viejo primero.
type Flusher struct {
	queue  *Queue
	submit Submitter
	now    func() time.Time
	mu     sync.Mutex
}

func NewFlusher(q *Queue, s Submitter) *Flusher {
	return &Flusher{queue: q, submit: s, now: time.Now}
}

// Flush procesa la cola una vez. Items vencidos quedan marcados para revisión
// sin enviarse. Un envío exitoso borra el item; un rechazo registra el error y
// sigue; una falla de conectividad registra el error y corta la pasada.
// Una sola pasada a la vez por dispositivo: si hay otra en curso devuelve
// ErrFlushInProgress.
func (f *Flusher) Flush(ctx context.Context) (FlushReport, error) {
	if !f.mu.TryLock() {
		return FlushReport{}, ErrFlushInProgress
	}
	defer f.mu.Unlock()

	var rep FlushReport
	items, err := f.queue.List(ctx)
	if err != nil {
		return rep, err
	}
	log := logger.From(ctx).With(logger.Component("offline.flush"))

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if it.Stale(f.now(), f.queue.MaxAge()) {
			rep.Stale++
			if !it.NeedsReview || it.LastError != StaleReason {
				it.NeedsReview, it.LastError = true, StaleReason
				if err := f.queue.Update(ctx, it); err != nil {
					return rep, err
				}
			}
			continue
		}
		if it.NeedsReview {
			rep.Skipped++
			continue
		}

		res, err := f.submit.Submit(ctx, it.Scan)
		if err == nil {
			if err := f.queue.Remove(ctx, it.ID); err != nil {
				return rep, err
			}
			rep.Submitted++
			if res.Replayed {
				rep.Replayed++
			}
			log.Info("queued scan synced",
				logger.QueueItem(it.ID), logger.Action(res.Action), logger.SessionID(res.SessionID),
				zap.Bool("replayed", res.Replayed))
			continue
		}
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}

		it.Retries++
		it.LastError = err.Error()
		rep.LastError = err
		offline := IsConnectivity(err)
		if !offline {
			rep.Failed++
			it.NeedsReview = NeedsReview(err)
		}
		if uerr := f.queue.Update(ctx, it); uerr != nil {
			return rep, uerr
		}
		if offline {
			rep.Stopped = true
			log.Warn("flush stopped: server unreachable", logger.QueueItem(it.ID), logger.Err(err))
			return rep, nil
		}
		log.Warn("queued scan rejected",
			logger.QueueItem(it.ID), zap.String("class", Class(err)),
			zap.Bool("needs_review", it.NeedsReview), logger.Err(err))
	}
	return rep, nil
}
