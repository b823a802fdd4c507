package offline

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/dropDatabas3/leopass/internal/jwt"
)

var jwksKey = []byte("current")

type cachedJWKS struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Document  json.RawMessage `json:"document"`
}

// JWKSCache guarda el último JWKS descargado para verificar sin red.
type JWKSCache struct {
	db *DB
}

func NewJWKSCache(db *DB) *JWKSCache { return &JWKSCache{db: db} }

// Save persiste el documento crudo. Un documento que no parsea se rechaza.
func (c *JWKSCache) Save(ctx context.Context, doc []byte, fetchedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := jwt.ParseJWKS(doc); err != nil {
		return err
	}
	payload, err := json.Marshal(cachedJWKS{FetchedAt: fetchedAt.UTC(), Document: doc})
	if err != nil {
		return fmt.Errorf("marshal jwks cache: %w", err)
	}
	return c.db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, jwksBucket)
		if err != nil {
			return err
		}
		return b.Put(jwksKey, payload)
	})
}

// Load devuelve las claves cacheadas y cuándo se descargaron. Sin cache
// devuelve un mapa vacío y fecha cero.
func (c *JWKSCache) Load(ctx context.Context) (map[string]ed25519.PublicKey, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	var entry cachedJWKS
	var found bool
	err := c.db.bolt.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, jwksBucket)
		if err != nil {
			return err
		}
		raw := b.Get(jwksKey)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load jwks cache: %w", err)
	}
	if !found {
		return map[string]ed25519.PublicKey{}, time.Time{}, nil
	}
	keys, err := jwt.ParseJWKS(entry.Document)
	if err != nil {
		return nil, time.Time{}, err
	}
	return keys, entry.FetchedAt, nil
}
