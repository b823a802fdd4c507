package attendance

import (
	"errors"

	"github.com/dropDatabas3/leopass/internal/jwt"
)

// Errores de ProcessScan. Cada uno pertenece a una Class.
var (
	ErrInvalidScanTime      = errors.New("invalid scan timestamp")
	ErrTokenNotYetValid     = errors.New("token not yet valid")
	ErrTokenExpired         = errors.New("token expired")
	ErrEventNotOpen         = errors.New("event has not opened for scans")
	ErrEventClosed          = errors.New("event closed for scans")
	ErrTokenNotRecognised   = errors.New("token not recognised")
	ErrTokenEventMismatch   = errors.New("token event mismatch")
	ErrTokenUserMismatch    = errors.New("token user mismatch")
	ErrPassNotFound         = errors.New("member pass not found")
	ErrTokenConsumed        = errors.New("token already consumed")
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for another scan")
	ErrPassRevoked          = errors.New("member pass revoked")
	ErrSessionConflict      = errors.New("member already has an open session")
)

// Class agrupa fallas según cómo debe reaccionar el cliente.
type Class int

const (
	// ClassUnknown: falla de infraestructura (DB caída, timeout).
	ClassUnknown Class = iota
	// ClassMalformed: estructura o algoritmo inválido. Nunca reintentar.
	ClassMalformed
	// ClassTemporal: fuera de ventana. Se puede reintentar con un token nuevo.
	ClassTemporal
	// ClassIdentity: credencial desconocida o cruzada. Se audita.
	ClassIdentity
	// ClassConflict: regla de negocio. Requiere al operador.
	ClassConflict
)

func (c Class) String() string {
	switch c {
	case ClassMalformed:
		return "malformed"
	case ClassTemporal:
		return "temporal"
	case ClassIdentity:
		return "identity"
	case ClassConflict:
		return "conflict"
	}
	return "unknown"
}

// Retryable indica si reintentar tiene sentido sin intervención del operador.
func (c Class) Retryable() bool {
	return c == ClassTemporal || c == ClassUnknown
}

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassMalformed, []error{ErrInvalidScanTime, jwt.ErrMalformed, jwt.ErrUnsupportedHeader, jwt.ErrUnknownKind}},
	{ClassTemporal, []error{ErrTokenNotYetValid, ErrTokenExpired, ErrEventNotOpen, ErrEventClosed}},
	{ClassIdentity, []error{ErrTokenNotRecognised, ErrTokenEventMismatch, ErrTokenUserMismatch, ErrPassNotFound, jwt.ErrBadSignature, jwt.ErrKeyNotFound}},
	{ClassConflict, []error{ErrTokenConsumed, ErrIdempotencyKeyReused, ErrPassRevoked, ErrSessionConflict}},
}

// Classify ubica err en la taxonomía. nil y errores ajenos son ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassUnknown
}
