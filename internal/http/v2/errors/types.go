package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError es el error estándar de la API v2. Code es parte del contrato:
// el cliente offline lo usa para decidir entre reintentar o pedir revisión.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	Class      string `json:"class,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New crea un AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// FromError convierte err en AppError; lo que no sea AppError es un 500.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServerError.WithCause(err)
}

// WithDetail devuelve una COPIA con detalle.
func (e *AppError) WithDetail(detail string) *AppError {
	c := *e
	c.Detail = detail
	return &c
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

// WithClass devuelve una COPIA etiquetada con la clase de falla del scan.
func (e *AppError) WithClass(class string) *AppError {
	c := *e
	c.Class = class
	return &c
}

// ─── genéricos ───

var (
	ErrBadRequest          = New(http.StatusBadRequest, "BAD_REQUEST", "The request is malformed or missing parameters.")
	ErrInvalidJSON         = New(http.StatusBadRequest, "INVALID_JSON", "The request body is not valid JSON.")
	ErrMissingFields       = New(http.StatusBadRequest, "MISSING_FIELDS", "Required fields are missing.")
	ErrBodyTooLarge        = New(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "The request body is too large.")
	ErrUnauthorized        = New(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required.")
	ErrForbidden           = New(http.StatusForbidden, "FORBIDDEN", "You are not allowed to perform this action.")
	ErrInsufficientScopes  = New(http.StatusForbidden, "INSUFFICIENT_SCOPES", "The actor lacks the scope required for this resource.")
	ErrNotFound            = New(http.StatusNotFound, "NOT_FOUND", "Resource not found.")
	ErrMethodNotAllowed    = New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed.")
	ErrRateLimitExceeded   = New(http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, slow down.")
	ErrInternalServerError = New(http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error.")
	ErrServiceUnavailable  = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable.")
)

// ─── scan / token ───

var (
	ErrTokenMalformed       = New(http.StatusBadRequest, "TOKEN_MALFORMED", "Scan token is malformed or uses an unsupported format.")
	ErrInvalidScanTime      = New(http.StatusBadRequest, "INVALID_SCAN_TIME", "Scan timestamp is invalid.")
	ErrTokenNotYetValid     = New(http.StatusBadRequest, "TOKEN_NOT_YET_VALID", "Token not yet valid.")
	ErrTokenExpired         = New(http.StatusBadRequest, "TOKEN_EXPIRED", "Token expired.")
	ErrEventNotOpen         = New(http.StatusBadRequest, "EVENT_NOT_OPEN", "Event has not opened for scans yet.")
	ErrEventClosed          = New(http.StatusBadRequest, "EVENT_CLOSED", "Event closed for scans.")
	ErrTokenNotRecognised   = New(http.StatusUnauthorized, "TOKEN_NOT_RECOGNISED", "Token not recognised.")
	ErrTokenMismatch        = New(http.StatusUnauthorized, "TOKEN_MISMATCH", "Token does not match its issued record.")
	ErrPassNotFound         = New(http.StatusUnauthorized, "PASS_NOT_FOUND", "Member pass not found for event.")
	ErrTokenConsumed        = New(http.StatusConflict, "TOKEN_ALREADY_CONSUMED", "Token already consumed.")
	ErrIdempotencyKeyReused = New(http.StatusConflict, "IDEMPOTENCY_KEY_REUSED", "Idempotency key already used for another scan.")
	ErrPassRevoked          = New(http.StatusConflict, "PASS_REVOKED", "Member pass revoked.")
	ErrSessionConflict      = New(http.StatusConflict, "SESSION_CONFLICT", "Member already has an open session for this event.")
	ErrSigningUnavailable   = New(http.StatusServiceUnavailable, "SIGNING_UNAVAILABLE", "Token signing is temporarily unavailable.")
)
