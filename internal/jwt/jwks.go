package jwt

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
)

// BuildJWKS serializa claves públicas Ed25519 como JWKS (kty OKP).
func BuildJWKS(keys []PublicKey) ([]byte, error) {
	doc := repository.JWKS{Keys: make([]repository.JWK, 0, len(keys))}
	for _, k := range keys {
		doc.Keys = append(doc.Keys, repository.JWK{
			KID: k.KID,
			Kty: "OKP",
			Crv: "Ed25519",
			Alg: Algorithm,
			Use: "sig",
			X:   EncodeBase64URL(k.Key),
		})
	}
	return json.Marshal(doc)
}

// ParseJWKS devuelve kid -> clave pública. Entradas que no son Ed25519 se ignoran.
func ParseJWKS(b []byte) (map[string]ed25519.PublicKey, error) {
	var doc repository.JWKS
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	out := make(map[string]ed25519.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" || k.KID == "" {
			continue
		}
		x, err := DecodeBase64URL(k.X)
		if err != nil || len(x) != ed25519.PublicKeySize {
			continue
		}
		out[k.KID] = ed25519.PublicKey(x)
	}
	return out, nil
}
