package repository

import (
	"context"
	"time"
)

// AttendanceMethod indica cómo se registró la sesión.
type AttendanceMethod string

const (
	MethodSteward AttendanceMethod = "STEWARD"
	MethodManual  AttendanceMethod = "MANUAL"
)

// AttendanceSession es una visita a un evento (check-in ⇄ check-out).
// A lo sumo una sesión abierta (CheckOutTs nil) por (evento, usuario).
type AttendanceSession struct {
	ID              string
	EventID         string
	UserID          *string
	GuestID         *string
	CheckInTs       *time.Time
	CheckOutTs      *time.Time
	Method          AttendanceMethod
	ScannerDeviceID *string
	CreatedAt       time.Time
}

// Open indica si la sesión sigue abierta.
func (s *AttendanceSession) Open() bool {
	return s != nil && s.CheckInTs != nil && s.CheckOutTs == nil
}

// CreateSessionInput contiene los datos para abrir una sesión.
type CreateSessionInput struct {
	EventID         string
	UserID          string
	CheckInTs       time.Time
	Method          AttendanceMethod
	ScannerDeviceID string
}

// AttendanceSessionRepository define operaciones sobre sesiones de asistencia.
type AttendanceSessionRepository interface {
	// GetByID obtiene una sesión por ID.
	GetByID(ctx context.Context, id string) (*AttendanceSession, error)

	// FindOpen devuelve la sesión abierta más reciente de (evento, usuario).
	// Retorna ErrNotFound si no hay ninguna abierta.
	FindOpen(ctx context.Context, eventID, userID string) (*AttendanceSession, error)

	// Create abre una sesión nueva. Retorna ErrConflict si ya hay una abierta.
	Create(ctx context.Context, in CreateSessionInput) (*AttendanceSession, error)

	// CheckOut setea check_out_ts si todavía es NULL y devuelve la sesión resultante.
	// Nunca sobreescribe un check_out_ts existente. scannerDeviceID vacío conserva el anterior.
	CheckOut(ctx context.Context, id string, at time.Time, scannerDeviceID string) (*AttendanceSession, error)
}
