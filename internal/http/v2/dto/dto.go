// Package dto define los cuerpos de request/response de la API v2.
package dto

import "time"

// ScanRequest es el body de POST /v2/scan. La clave de idempotencia viaja
// en el header Idempotency-Key.
type ScanRequest struct {
	Token           string     `json:"token" validate:"required,max=4096"`
	ScannerDeviceID string     `json:"scannerDeviceId,omitempty" validate:"max=128"`
	ScannedAt       *time.Time `json:"scannedAt,omitempty"`
}

// ScanSession es la sesión de asistencia afectada.
type ScanSession struct {
	ID         string     `json:"id"`
	EventID    string     `json:"eventId"`
	UserID     *string    `json:"userId"`
	CheckInTs  *time.Time `json:"checkInTs"`
	CheckOutTs *time.Time `json:"checkOutTs"`
}

// ScanResponse es la respuesta de POST /v2/scan.
type ScanResponse struct {
	Action            string      `json:"action"`
	AttendanceSession ScanSession `json:"attendanceSession"`
	TokenExpiresAt    time.Time   `json:"tokenExpiresAt"`
}

// TokenResponse es la respuesta de GET /v2/member/events/{eventId}/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	// RefreshInMs sugiere al cliente cuándo pedir el siguiente token.
	RefreshInMs int64 `json:"refreshInMs"`
}

// HealthResponse es la respuesta de /readyz.
type HealthResponse struct {
	Status      string            `json:"status"`
	Store       string            `json:"store"`
	ActiveKeyID string            `json:"activeKeyId,omitempty"`
	Components  map[string]string `json:"components"`
}
