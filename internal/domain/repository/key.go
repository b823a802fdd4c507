package repository

import (
	"context"
	"time"
)

// SigningKey representa una clave de firma Ed25519 persistida.
// PrivateKeySealed es material cifrado; solo jwt.KeyManager sabe abrirlo.
type SigningKey struct {
	ID               string // KID
	Algorithm        string // "EdDSA"
	PublicKey        []byte // ed25519.PublicKey (32 bytes)
	PrivateKeySealed []byte
	Status           KeyStatus
	CreatedAt        time.Time
	ActivatedAt      time.Time
	RotatedAt        *time.Time
	ExpiresAt        *time.Time
}

// KeyStatus indica el estado de una clave.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "ACTIVE"
	KeyStatusRotating KeyStatus = "ROTATING"
	KeyStatusRetired  KeyStatus = "RETIRED"
)

// Verifiable indica si la clave todavía sirve para verificar firmas.
// Las tres fases del ciclo de vida lo son mientras el material exista.
func (s KeyStatus) Verifiable() bool {
	switch s {
	case KeyStatusActive, KeyStatusRotating, KeyStatusRetired:
		return true
	}
	return false
}

// Published indica si la clave se expone en el feed público (JWKS).
func (s KeyStatus) Published() bool {
	return s == KeyStatusActive || s == KeyStatusRotating
}

// JWK representa una clave pública en formato JWK (para JWKS endpoint).
type JWK struct {
	KID string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
}

// JWKS representa un conjunto de claves públicas.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeyRepository define operaciones sobre claves de firma.
type KeyRepository interface {
	// ─── Lectura ───

	// GetCurrent devuelve la clave ACTIVE más reciente; si no hay, la ROTATING más reciente.
	// Retorna ErrNotFound si no existe ninguna.
	GetCurrent(ctx context.Context) (*SigningKey, error)

	// GetByKID busca una clave por su Key ID (cualquier estado).
	GetByKID(ctx context.Context, kid string) (*SigningKey, error)

	// ListByStatus devuelve claves en los estados pedidos, activated_at desc.
	ListByStatus(ctx context.Context, statuses ...KeyStatus) ([]SigningKey, error)

	// ─── Escritura ───

	// Insert persiste una clave nueva. Retorna ErrConflict si ya hay una ACTIVE
	// y la nueva también lo es.
	Insert(ctx context.Context, k *SigningKey) error

	// UpdateStatus cambia el estado de una clave (transiciones administrativas).
	// Retorna ErrConflict si el estado actual no es from. ACTIVE→ROTATING setea
	// rotated_at; →RETIRED setea expires_at.
	UpdateStatus(ctx context.Context, kid string, from, to KeyStatus, at time.Time) error

	// DeleteRetiredBefore elimina claves RETIRED cuyo retiro (expires_at) es anterior a cutoff.
	DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
