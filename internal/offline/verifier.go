package offline

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/leopass/internal/attendance"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
)

// DefaultJWKSRefresh es la antigüedad máxima del JWKS cacheado.
const DefaultJWKSRefresh = 6 * time.Hour

// JWKSFetcher descarga el documento JWKS.
type JWKSFetcher interface {
	FetchJWKS(ctx context.Context) ([]byte, error)
}

type VerifierOption func(*Verifier)

func WithRefreshInterval(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.refreshEvery = d
		}
	}
}

func WithVerifierSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.skew = d }
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// Verifier revisa firma, tipo y ventana de un token antes de enviarlo o
// encolarlo. Implementa jwt.KeyResolver sobre el JWKS cacheado: refresca si
// el cache tiene más de refreshEvery o si aparece un kid desconocido.
type Verifier struct {
	codec        *jwt.Codec
	cache        *JWKSCache
	fetch        JWKSFetcher
	refreshEvery time.Duration
	skew         time.Duration
	now          func() time.Time

	mu        sync.Mutex
	keys      map[string]ed25519.PublicKey
	fetchedAt time.Time
	loaded    bool
}

func NewVerifier(cache *JWKSCache, fetch JWKSFetcher, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		codec:        jwt.NewCodec(nil),
		cache:        cache,
		fetch:        fetch,
		refreshEvery: DefaultJWKSRefresh,
		skew:         attendance.DefaultClockSkew,
		now:          time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify devuelve los claims de un token firmado por una clave conocida y
// vigente en la ventana [nbf − skew, exp + skew].
func (v *Verifier) Verify(ctx context.Context, token string) (*jwt.Verified, error) {
	out, err := v.codec.Verify(ctx, token, v)
	if err != nil {
		return nil, err
	}
	if err := attendance.CheckTokenWindow(out.Claims, v.now(), v.skew); err != nil {
		return nil, err
	}
	return out, nil
}

// VerificationKey implementa jwt.KeyResolver.
func (v *Verifier) VerificationKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.loaded {
		keys, at, err := v.cache.Load(ctx)
		if err != nil {
			return nil, err
		}
		v.keys, v.fetchedAt, v.loaded = keys, at, true
	}

	refreshed := false
	if v.now().Sub(v.fetchedAt) > v.refreshEvery {
		err := v.refreshLocked(ctx)
		if err != nil && len(v.keys) == 0 {
			return nil, fmt.Errorf("unable to refresh signing keys: %w", err)
		}
		refreshed = err == nil
	}
	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	if refreshed {
		return nil, jwt.ErrKeyNotFound
	}
	if err := v.refreshLocked(ctx); err != nil {
		return nil, fmt.Errorf("unable to refresh signing keys: %w", err)
	}
	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	return nil, jwt.ErrKeyNotFound
}

// Refresh fuerza la descarga del JWKS.
func (v *Verifier) Refresh(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refreshLocked(ctx)
}

func (v *Verifier) refreshLocked(ctx context.Context) error {
	doc, err := v.fetch.FetchJWKS(ctx)
	if err != nil {
		logger.From(ctx).Warn("jwks refresh failed", logger.Err(err))
		return err
	}
	keys, err := jwt.ParseJWKS(doc)
	if err != nil {
		return err
	}
	now := v.now()
	if err := v.cache.Save(ctx, doc, now); err != nil {
		return err
	}
	v.keys, v.fetchedAt, v.loaded = keys, now, true
	logger.From(ctx).Debug("jwks refreshed", logger.Count(len(keys)))
	return nil
}
