package jwt

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Signer entrega la clave de firma vigente.
type Signer interface {
	SigningKey(ctx context.Context) (kid string, priv ed25519.PrivateKey, err error)
}

// KeyResolver resuelve la clave pública por kid. Debe aceptar claves
// ACTIVE, ROTATING y RETIRED, y devolver ErrKeyNotFound si no la conoce.
type KeyResolver interface {
	VerificationKey(ctx context.Context, kid string) (ed25519.PublicKey, error)
}

// KeyResolverFunc adapta una función a KeyResolver.
type KeyResolverFunc func(ctx context.Context, kid string) (ed25519.PublicKey, error)

func (f KeyResolverFunc) VerificationKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	return f(ctx, kid)
}

// Verified es el resultado de Verify.
type Verified struct {
	Header Header
	Claims ScanClaims
	Key    ed25519.PublicKey
}

// Codec firma y verifica scan tokens.
type Codec struct {
	signer Signer
	parser *jwtv5.Parser
}

// NewCodec crea un codec que firma con s. s puede ser nil si solo se verifica.
func NewCodec(s Signer) *Codec {
	return &Codec{signer: s, parser: jwtv5.NewParser()}
}

// Sign serializa header+payload, firma con la clave vigente y devuelve token y kid.
func (c *Codec) Sign(ctx context.Context, claims ScanClaims) (string, string, error) {
	if c.signer == nil {
		return "", "", ErrSigningUnavailable
	}
	if err := claims.validate(); err != nil {
		return "", "", err
	}
	kid, priv, err := c.signer.SigningKey(ctx)
	if err != nil {
		return "", "", err
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = TokenType
	signed, err := tk.SignedString(priv)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	return signed, kid, nil
}

// Verify decodifica token, exige alg/typ soportados, resuelve la clave por kid y
// verifica la firma sobre los dos primeros segmentos. No valida ventanas de tiempo.
func (c *Codec) Verify(ctx context.Context, token string, keys KeyResolver) (*Verified, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformed)
	}

	var h Header
	if err := c.decodeSegment(parts[0], &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if h.Alg != Algorithm || h.Typ != TokenType {
		return nil, fmt.Errorf("%w: alg=%q typ=%q", ErrUnsupportedHeader, h.Alg, h.Typ)
	}
	if h.KID == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrMalformed)
	}

	var claims ScanClaims
	if err := c.decodeSegment(parts[1], &claims); err != nil {
		if errors.Is(err, ErrUnknownKind) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}

	sig, err := c.parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}

	pub, err := keys.VerificationKey(ctx, h.KID)
	if err != nil {
		return nil, err
	}
	if err := jwtv5.SigningMethodEdDSA.Verify(parts[0]+"."+parts[1], sig, pub); err != nil {
		return nil, ErrBadSignature
	}
	return &Verified{Header: h, Claims: claims, Key: pub}, nil
}

func (c *Codec) decodeSegment(seg string, v any) error {
	raw, err := c.parser.DecodeSegment(seg)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	return dec.Decode(v)
}
