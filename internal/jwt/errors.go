package jwt

import "errors"

// Errores del codec y del key manager.
var (
	ErrMalformed          = errors.New("malformed token")
	ErrUnsupportedHeader  = errors.New("unsupported token algorithm or type")
	ErrUnknownKind        = errors.New("unknown token kind")
	ErrBadSignature       = errors.New("invalid token signature")
	ErrKeyNotFound        = errors.New("signing key not found")
	ErrSigningUnavailable = errors.New("signing key unavailable")
	ErrKeyState           = errors.New("signing key in unexpected state")
)
