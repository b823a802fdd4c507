// Package notify publica eventos de asistencia para otros subsistemas
// (push, feeds). La entrega en sí vive fuera de este servicio.
package notify

import (
	"context"
	"time"

	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"go.uber.org/zap"
)

// Kind es el tipo de evento emitido.
type Kind string

const (
	KindCheckedIn  Kind = "attendance.checked_in"
	KindCheckedOut Kind = "attendance.checked_out"
)

// Event describe una mutación de sesión ya confirmada.
type Event struct {
	Kind            Kind      `json:"kind"`
	SessionID       string    `json:"sessionId"`
	EventID         string    `json:"eventId"`
	UserID          string    `json:"userId"`
	ScannerID       string    `json:"scannerId,omitempty"`
	ScannerDeviceID string    `json:"scannerDeviceId,omitempty"`
	At              time.Time `json:"at"`
}

// Emitter publica eventos. Las fallas no deben afectar la operación que los originó.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Nop descarta todo.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// LogEmitter loguea los eventos (dev, o cuando no hay broker configurado).
type LogEmitter struct{ log *zap.Logger }

func NewLogEmitter() *LogEmitter { return &LogEmitter{log: logger.Named("notify")} }

func (e *LogEmitter) Emit(ctx context.Context, ev Event) error {
	e.log.Info("attendance event",
		zap.String("kind", string(ev.Kind)),
		logger.SessionID(ev.SessionID),
		logger.EventID(ev.EventID),
		logger.UserID(ev.UserID),
	)
	return nil
}
