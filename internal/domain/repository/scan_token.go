package repository

import (
	"context"
	"time"
)

// ScanToken es la sombra persistida de un token emitido.
// used_at se setea una sola vez por jti.
type ScanToken struct {
	JTI                    string
	EventID                string
	UserID                 string
	IssuedAt               time.Time
	NotBefore              time.Time
	ExpiresAt              time.Time
	SigningKeyID           string
	BurnType               string
	UsedAt                 *time.Time
	UsedByScannerID        *string
	ConsumedIdempotencyKey *string
	AttendanceSessionID    *string
}

// Consumed indica si el token ya fue quemado.
func (t *ScanToken) Consumed() bool { return t != nil && t.UsedAt != nil }

// ConsumeInput contiene los datos para marcar un token como consumido.
type ConsumeInput struct {
	JTI                 string
	UsedAt              time.Time
	ScannerID           string
	AttendanceSessionID string
	IdempotencyKey      string // "" si el cliente no mandó clave
}

// ScanTokenRepository define operaciones sobre la sombra de tokens.
type ScanTokenRepository interface {
	// Create persiste la sombra de un token recién firmado.
	Create(ctx context.Context, t *ScanToken) error

	// GetForUpdate obtiene la sombra por jti bloqueando la fila hasta el fin de la tx.
	// Retorna ErrNotFound si no existe.
	GetForUpdate(ctx context.Context, jti string) (*ScanToken, error)

	// FindByIdempotencyKey busca el token que consumió con esa clave.
	// Retorna ErrNotFound si ninguno la usó.
	FindByIdempotencyKey(ctx context.Context, key string) (*ScanToken, error)

	// MarkConsumed setea used_at y compañía. Retorna ErrAlreadyConsumed si
	// used_at ya estaba seteado, ErrConflict si la clave de idempotencia ya
	// fue reclamada por otro jti.
	MarkConsumed(ctx context.Context, in ConsumeInput) error
}
