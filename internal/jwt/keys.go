package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// KeyGenerator genera un par Ed25519. Inyectable para tests deterministas.
type KeyGenerator func() (ed25519.PublicKey, ed25519.PrivateKey, error)

// GenerateEd25519 genera un par Ed25519 con crypto/rand.
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// SeededGenerator devuelve un generador determinista (solo tests/dev).
func SeededGenerator(seed []byte) KeyGenerator {
	return func() (ed25519.PublicKey, ed25519.PrivateKey, error) {
		priv := ed25519.NewKeyFromSeed(seed)
		return priv.Public().(ed25519.PublicKey), priv, nil
	}
}

// NewKID genera un key id.
func NewKID() string { return uuid.NewString() }

// EncodeBase64URL codifica sin padding (JWK "x").
func EncodeBase64URL(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// DecodeBase64URL decodifica sin padding.
func DecodeBase64URL(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
