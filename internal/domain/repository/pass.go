package repository

import (
	"context"
	"time"
)

// PassStatus es el estado del pase de un miembro para un evento.
type PassStatus string

const (
	PassProvisioned PassStatus = "PROVISIONED"
	PassActive      PassStatus = "ACTIVE"
	PassRevoked     PassStatus = "REVOKED"
)

// Usable indica si el pase permite emitir tokens y escanear.
func (s PassStatus) Usable() bool {
	return s == PassProvisioned || s == PassActive
}

// Event es la ventana de un evento (propiedad del módulo de eventos, solo lectura aquí).
type Event struct {
	ID                   string
	Name                 string
	StartTime            time.Time
	EndTime              time.Time
	AutoCheckoutGraceMin *int
}

// MemberEventPass relaciona un miembro con un evento.
type MemberEventPass struct {
	ID          string
	EventID     string
	UserID      string
	Status      PassStatus
	ActivatedAt *time.Time
	Event       Event
}

// PassRepository lee pases (y su evento) y aplica la activación por primer uso.
type PassRepository interface {
	// Get obtiene el pase de (evento, usuario) con su evento embebido.
	// Dentro de una tx bloquea la fila del pase: serializa toggles del mismo miembro.
	Get(ctx context.Context, eventID, userID string) (*MemberEventPass, error)

	// Activate pasa el pase a ACTIVE seteando activated_at si estaba vacío.
	Activate(ctx context.Context, passID string, at time.Time) error

	// UpsertEvent / UpsertPass existen para seed y tests; el CRUD real vive fuera del core.
	UpsertEvent(ctx context.Context, e Event) error
	UpsertPass(ctx context.Context, p MemberEventPass) error
}
