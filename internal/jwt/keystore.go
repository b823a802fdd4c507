package jwt

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/metrics"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/security/secretbox"
	cache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SecretPurpose es el propósito HKDF con el que se sellan las claves privadas.
const SecretPurpose = "signing-key"

var tracer = otel.Tracer("github.com/dropDatabas3/leopass/internal/jwt")

// PublicKey es la vista pública de una clave (feed JWKS).
type PublicKey struct {
	KID    string
	Key    ed25519.PublicKey
	Status repository.KeyStatus
}

// KeyManager es dueño del ciclo de vida de las claves de firma.
// Crea la clave ACTIVE de forma perezosa, firma con ella y resuelve claves
// públicas por kid para verificación. El material privado nunca sale de acá.
type KeyManager struct {
	repo repository.KeyRepository
	box  *secretbox.Box
	gen  KeyGenerator
	kid  func() string
	now  func() time.Time

	boot singleflight.Group

	mu         sync.RWMutex
	activeKID  string
	activePriv ed25519.PrivateKey
	activeRec  repository.SigningKey
	cacheUntil time.Time
	cacheTTL   time.Duration

	lastJWKS  []byte
	jwksUntil time.Time
	jwksTTL   time.Duration

	pubs *cache.Cache
}

// KeyOption configura el KeyManager.
type KeyOption func(*KeyManager)

func WithKeyGenerator(g KeyGenerator) KeyOption  { return func(m *KeyManager) { m.gen = g } }
func WithKIDGenerator(f func() string) KeyOption { return func(m *KeyManager) { m.kid = f } }
func WithClock(now func() time.Time) KeyOption   { return func(m *KeyManager) { m.now = now } }
func WithCacheTTL(d time.Duration) KeyOption     { return func(m *KeyManager) { m.cacheTTL = d } }
func WithJWKSTTL(d time.Duration) KeyOption      { return func(m *KeyManager) { m.jwksTTL = d } }

// NewKeyManager crea el manager. box sella las claves privadas en el repositorio.
func NewKeyManager(repo repository.KeyRepository, box *secretbox.Box, opts ...KeyOption) (*KeyManager, error) {
	if repo == nil {
		return nil, errors.New("jwt: nil key repository")
	}
	if box == nil {
		return nil, fmt.Errorf("%w: secretbox not configured", ErrSigningUnavailable)
	}
	m := &KeyManager{
		repo:     repo,
		box:      box,
		gen:      GenerateEd25519,
		kid:      NewKID,
		now:      time.Now,
		cacheTTL: 30 * time.Second,
		jwksTTL:  15 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	m.pubs = cache.New(m.cacheTTL, 2*m.cacheTTL)
	return m, nil
}

// EnsureActiveKey devuelve la clave ACTIVE (o ROTATING si no hay ACTIVE),
// generando y persistiendo una ACTIVE si no existe ninguna.
// El resultado no incluye material privado.
func (m *KeyManager) EnsureActiveKey(ctx context.Context) (*repository.SigningKey, error) {
	ctx, span := tracer.Start(ctx, "KeyManager.EnsureActiveKey")
	defer span.End()

	if _, _, err := m.SigningKey(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.mu.RLock()
	rec := m.activeRec
	m.mu.RUnlock()
	rec.PrivateKeySealed = nil
	return &rec, nil
}

type activeKey struct {
	kid  string
	priv ed25519.PrivateKey
}

func (m *KeyManager) cachedActive() (activeKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeKID != "" && m.now().Before(m.cacheUntil) {
		return activeKey{m.activeKID, m.activePriv}, true
	}
	return activeKey{}, false
}

// SigningKey implementa Signer. La clave abierta se cachea por cacheTTL; las cargas
// concurrentes (incluido el bootstrap de la primera clave) se colapsan en una.
// Si otra instancia insertó la ACTIVE primero (ErrConflict) se relee la vigente.
func (m *KeyManager) SigningKey(ctx context.Context) (string, ed25519.PrivateKey, error) {
	if a, ok := m.cachedActive(); ok {
		return a.kid, a.priv, nil
	}
	v, err, _ := m.boot.Do("active", func() (any, error) {
		if a, ok := m.cachedActive(); ok {
			return a, nil
		}
		rec, err := m.repo.GetCurrent(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			rec, err = m.generate(ctx)
			if errors.Is(err, repository.ErrConflict) {
				rec, err = m.repo.GetCurrent(ctx)
			}
		}
		if err != nil {
			return nil, err
		}
		priv, err := m.open(rec)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.activeKID = rec.ID
		m.activePriv = priv
		m.activeRec = *rec
		m.cacheUntil = m.now().Add(m.cacheTTL)
		m.mu.Unlock()
		return activeKey{rec.ID, priv}, nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	a := v.(activeKey)
	return a.kid, a.priv, nil
}

func (m *KeyManager) generate(ctx context.Context) (*repository.SigningKey, error) {
	pub, priv, err := m.gen()
	if err != nil {
		return nil, fmt.Errorf("generate ed25519: %w", err)
	}
	kid := m.kid()
	sealed, err := m.box.Seal(priv, []byte(kid))
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	rec := &repository.SigningKey{
		ID:               kid,
		Algorithm:        Algorithm,
		PublicKey:        append([]byte(nil), pub...),
		PrivateKeySealed: sealed,
		Status:           repository.KeyStatusActive,
		CreatedAt:        now,
		ActivatedAt:      now,
	}
	if err := m.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	metrics.SigningKeysCreated.Inc()
	logger.Named("keys").Info("signing key created", logger.KeyID(kid))
	return rec, nil
}

func (m *KeyManager) open(rec *repository.SigningKey) (ed25519.PrivateKey, error) {
	raw, err := m.box.Open(rec.PrivateKeySealed, []byte(rec.ID))
	if err != nil {
		return nil, fmt.Errorf("open private key %s: %w", rec.ID, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key %s: unexpected size %d", rec.ID, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// VerificationKey implementa KeyResolver: acepta ACTIVE, ROTATING y RETIRED.
func (m *KeyManager) VerificationKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}
	if v, ok := m.pubs.Get(kid); ok {
		return v.(ed25519.PublicKey), nil
	}
	rec, err := m.repo.GetByKID(ctx, kid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
		}
		return nil, err
	}
	if !rec.Status.Verifiable() || len(rec.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	pub := ed25519.PublicKey(append([]byte(nil), rec.PublicKey...))
	m.pubs.SetDefault(kid, pub)
	return pub, nil
}

// ListPublicKeys devuelve las claves ACTIVE y ROTATING para distribución pública.
func (m *KeyManager) ListPublicKeys(ctx context.Context) ([]PublicKey, error) {
	recs, err := m.repo.ListByStatus(ctx, repository.KeyStatusActive, repository.KeyStatusRotating)
	if err != nil {
		return nil, err
	}
	out := make([]PublicKey, 0, len(recs))
	for _, r := range recs {
		if len(r.PublicKey) != ed25519.PublicKeySize {
			continue
		}
		out = append(out, PublicKey{KID: r.ID, Key: ed25519.PublicKey(r.PublicKey), Status: r.Status})
	}
	return out, nil
}

// JWKSJSON devuelve el documento JWKS (cache corto).
func (m *KeyManager) JWKSJSON(ctx context.Context) ([]byte, error) {
	now := m.now()
	m.mu.RLock()
	if now.Before(m.jwksUntil) && len(m.lastJWKS) > 0 {
		b := m.lastJWKS
		m.mu.RUnlock()
		return b, nil
	}
	m.mu.RUnlock()

	keys, err := m.ListPublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	b, err := BuildJWKS(keys)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastJWKS = b
	m.jwksUntil = now.Add(m.jwksTTL)
	m.mu.Unlock()
	return b, nil
}

// Rotate pasa la ACTIVE a ROTATING y crea una nueva ACTIVE.
func (m *KeyManager) Rotate(ctx context.Context) (*repository.SigningKey, error) {
	cur, err := m.repo.GetCurrent(ctx)
	switch {
	case err == nil && cur.Status == repository.KeyStatusActive:
		if err := m.repo.UpdateStatus(ctx, cur.ID, repository.KeyStatusActive, repository.KeyStatusRotating, m.now().UTC()); err != nil {
			return nil, err
		}
	case err == nil, errors.Is(err, repository.ErrNotFound):
	default:
		return nil, err
	}
	rec, err := m.generate(ctx)
	if err != nil {
		return nil, err
	}
	m.Invalidate()
	logger.Named("keys").Info("signing key rotated", logger.KeyID(rec.ID))
	out := *rec
	out.PrivateKeySealed = nil
	return &out, nil
}

// Retire pasa una clave ROTATING a RETIRED (sigue verificable hasta el purge).
func (m *KeyManager) Retire(ctx context.Context, kid string) error {
	if err := m.repo.UpdateStatus(ctx, kid, repository.KeyStatusRotating, repository.KeyStatusRetired, m.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: %s is not ROTATING", ErrKeyState, kid)
		}
		return err
	}
	m.Invalidate()
	return nil
}

// PurgeRetired borra el material de claves RETIRED rotadas hace más de olderThan.
func (m *KeyManager) PurgeRetired(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := m.repo.DeleteRetiredBefore(ctx, m.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.pubs.Flush()
		logger.Named("keys").Info("retired keys purged", zap.Int("count", n))
	}
	return n, nil
}

// Invalidate descarta caches locales (clave activa, JWKS, públicas).
func (m *KeyManager) Invalidate() {
	m.mu.Lock()
	m.activeKID = ""
	m.activePriv = nil
	m.cacheUntil = time.Time{}
	m.lastJWKS = nil
	m.jwksUntil = time.Time{}
	m.mu.Unlock()
	m.pubs.Flush()
}
