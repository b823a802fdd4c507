// Package secretbox sella material privado (claves de firma) con AES-256-GCM.
// La clave de cifrado se deriva del master key via HKDF-SHA256 por propósito.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// EnvVar es la variable de entorno con el master key (base64 o hex, 32 bytes).
	EnvVar = "SECRETBOX_MASTER_KEY"

	keyLen     = 32
	nonceLen   = 12
	version    = byte(1)
	headerSize = 1 + nonceLen
)

var (
	ErrNoMasterKey  = errors.New("secretbox: master key not configured")
	ErrBadMasterKey = errors.New("secretbox: master key must decode to 32 bytes")
	ErrMalformed    = errors.New("secretbox: malformed sealed payload")
	ErrOpen         = errors.New("secretbox: authentication failed")
)

// Box sella/abre blobs con una clave derivada para un propósito.
type Box struct {
	aead cipher.AEAD
}

// ParseKey acepta base64 (std o raw) o hex de 64 caracteres.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoMasterKey
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == keyLen {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(b) == keyLen {
		return b, nil
	}
	if len(s) == 2*keyLen {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrBadMasterKey
}

// New deriva la clave de cifrado para purpose a partir del master key.
func New(master []byte, purpose string) (*Box, error) {
	if len(master) != keyLen {
		return nil, ErrBadMasterKey
	}
	kek := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte("leopass/"+purpose)), kek); err != nil {
		return nil, fmt.Errorf("secretbox: hkdf: %w", err)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("secretbox: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// FromString parsea el master key y construye el Box.
func FromString(master, purpose string) (*Box, error) {
	k, err := ParseKey(master)
	if err != nil {
		return nil, err
	}
	return New(k, purpose)
}

// FromEnv lee SECRETBOX_MASTER_KEY.
func FromEnv(purpose string) (*Box, error) {
	return FromString(os.Getenv(EnvVar), purpose)
}

// Seal cifra plain ligado a aad. Formato: version|nonce|ciphertext.
func (b *Box) Seal(plain, aad []byte) ([]byte, error) {
	out := make([]byte, headerSize, headerSize+len(plain)+b.aead.Overhead())
	out[0] = version
	if _, err := io.ReadFull(rand.Reader, out[1:headerSize]); err != nil {
		return nil, fmt.Errorf("secretbox: nonce: %w", err)
	}
	return b.aead.Seal(out, out[1:headerSize], plain, aad), nil
}

// Open descifra un blob producido por Seal con el mismo aad.
func (b *Box) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < headerSize+b.aead.Overhead() || sealed[0] != version {
		return nil, ErrMalformed
	}
	pt, err := b.aead.Open(nil, sealed[1:headerSize], sealed[headerSize:], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}
