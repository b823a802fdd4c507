package errors

import (
	stderrors "errors"

	"github.com/dropDatabas3/leopass/internal/attendance"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/scantoken"
)

var scanErrors = []struct {
	target error
	app    *AppError
}{
	{attendance.ErrInvalidScanTime, ErrInvalidScanTime},
	{jwt.ErrMalformed, ErrTokenMalformed},
	{jwt.ErrUnsupportedHeader, ErrTokenMalformed},
	{jwt.ErrUnknownKind, ErrTokenMalformed},
	{attendance.ErrTokenNotYetValid, ErrTokenNotYetValid},
	{attendance.ErrTokenExpired, ErrTokenExpired},
	{attendance.ErrEventNotOpen, ErrEventNotOpen},
	{attendance.ErrEventClosed, ErrEventClosed},
	{jwt.ErrBadSignature, ErrTokenNotRecognised},
	{jwt.ErrKeyNotFound, ErrTokenNotRecognised},
	{attendance.ErrTokenNotRecognised, ErrTokenNotRecognised},
	{attendance.ErrTokenEventMismatch, ErrTokenMismatch},
	{attendance.ErrTokenUserMismatch, ErrTokenMismatch},
	{attendance.ErrPassNotFound, ErrPassNotFound},
	{attendance.ErrTokenConsumed, ErrTokenConsumed},
	{attendance.ErrIdempotencyKeyReused, ErrIdempotencyKeyReused},
	{attendance.ErrPassRevoked, ErrPassRevoked},
	{attendance.ErrSessionConflict, ErrSessionConflict},
}

// FromScanError traduce un error de ProcessScan, etiquetado con su clase.
func FromScanError(err error) *AppError {
	class := attendance.Classify(err).String()
	for _, m := range scanErrors {
		if stderrors.Is(err, m.target) {
			return m.app.WithClass(class).WithCause(err)
		}
	}
	if stderrors.Is(err, jwt.ErrSigningUnavailable) {
		return ErrSigningUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithClass(class).WithCause(err)
}

// FromIssueError traduce un error de IssueToken.
func FromIssueError(err error) *AppError {
	switch {
	case stderrors.Is(err, scantoken.ErrInvalidInput):
		return ErrMissingFields.WithDetail(err.Error())
	case stderrors.Is(err, scantoken.ErrPassNotFound):
		return ErrNotFound.WithDetail("member pass not found for event").WithCause(err)
	case stderrors.Is(err, scantoken.ErrPassRevoked):
		return ErrPassRevoked.WithCause(err)
	case stderrors.Is(err, jwt.ErrSigningUnavailable):
		return ErrSigningUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}
