package jwt

import (
	"encoding/json"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const (
	// Algorithm es el único alg aceptado en el header.
	Algorithm = "EdDSA"
	// TokenType es el único typ aceptado en el header.
	TokenType = "LPQR"
	// ClaimsVersion es la versión de payload emitida y aceptada.
	ClaimsVersion = 1
)

// TokenKind es el propósito del token. Valores desconocidos no decodifican.
type TokenKind uint8

const (
	KindMember TokenKind = iota + 1
)

func (k TokenKind) String() string {
	switch k {
	case KindMember:
		return "member"
	}
	return fmt.Sprintf("TokenKind(%d)", uint8(k))
}

func (k TokenKind) MarshalJSON() ([]byte, error) {
	switch k {
	case KindMember:
		return json.Marshal(k.String())
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
}

func (k *TokenKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKind, err)
	}
	switch s {
	case "member":
		*k = KindMember
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return nil
}

// Header es el header decodificado de un token.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	KID string `json:"kid"`
}

// ScanClaims es el payload del token. Tiempos en segundos unix.
type ScanClaims struct {
	JTI       string    `json:"jti"`
	Subject   string    `json:"sub"`
	EventID   string    `json:"eventId"`
	Kind      TokenKind `json:"type"`
	Version   int       `json:"ver"`
	IssuedAt  int64     `json:"iat"`
	NotBefore int64     `json:"nbf"`
	ExpiresAt int64     `json:"exp"`
}

// NewMemberClaims arma el payload de un token member con TTL ttl desde now.
func NewMemberClaims(jti, userID, eventID string, now time.Time, ttl time.Duration) ScanClaims {
	iat := now.Unix()
	return ScanClaims{
		JTI:       jti,
		Subject:   userID,
		EventID:   eventID,
		Kind:      KindMember,
		Version:   ClaimsVersion,
		IssuedAt:  iat,
		NotBefore: iat,
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

func (c ScanClaims) IssuedTime() time.Time    { return time.Unix(c.IssuedAt, 0).UTC() }
func (c ScanClaims) NotBeforeTime() time.Time { return time.Unix(c.NotBefore, 0).UTC() }
func (c ScanClaims) ExpiresTime() time.Time   { return time.Unix(c.ExpiresAt, 0).UTC() }

func (c ScanClaims) validate() error {
	if c.JTI == "" || c.Subject == "" || c.EventID == "" {
		return fmt.Errorf("%w: missing jti/sub/eventId", ErrMalformed)
	}
	if c.Kind != KindMember {
		return fmt.Errorf("%w: kind %s", ErrUnknownKind, c.Kind)
	}
	if c.Version != ClaimsVersion {
		return fmt.Errorf("%w: version %d", ErrMalformed, c.Version)
	}
	if c.ExpiresAt < c.NotBefore {
		return fmt.Errorf("%w: exp before nbf", ErrMalformed)
	}
	return nil
}

// jwtv5.Claims, requerido por jwtv5.NewWithClaims al firmar. Verify decodifica
// los segmentos a mano y no mira estas fechas; la ventana la aplica
// attendance.CheckTokenWindow.

func (c ScanClaims) GetExpirationTime() (*jwtv5.NumericDate, error) {
	return jwtv5.NewNumericDate(c.ExpiresTime()), nil
}
func (c ScanClaims) GetIssuedAt() (*jwtv5.NumericDate, error) {
	return jwtv5.NewNumericDate(c.IssuedTime()), nil
}
func (c ScanClaims) GetNotBefore() (*jwtv5.NumericDate, error) {
	return jwtv5.NewNumericDate(c.NotBeforeTime()), nil
}
func (c ScanClaims) GetIssuer() (string, error)               { return "", nil }
func (c ScanClaims) GetSubject() (string, error)              { return c.Subject, nil }
func (c ScanClaims) GetAudience() (jwtv5.ClaimStrings, error) { return nil, nil }
