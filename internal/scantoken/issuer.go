// Package scantoken emite scan tokens de un solo uso ligados a (miembro, evento)
// y persiste su sombra para que attendance pueda quemarlos.
package scantoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/metrics"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultTTL es la vida de un token. Acota el valor de un QR capturado.
	DefaultTTL = 30 * time.Second
	// BurnTypeSingleUse es el único modo de consumo.
	BurnTypeSingleUse = "single_use"
)

var (
	ErrPassNotFound = errors.New("member pass not found")
	ErrPassRevoked  = errors.New("member pass revoked")
	ErrInvalidInput = errors.New("user id and event id are required")
)

var tracer = otel.Tracer("github.com/dropDatabas3/leopass/internal/scantoken")

// Issued es el resultado de IssueToken.
type Issued struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	JTI       string    `json:"-"`
	KeyID     string    `json:"-"`
}

// Issuer mintea tokens member.
type Issuer struct {
	store repository.Store
	codec *jwt.Codec
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

// Option configura el Issuer.
type Option func(*Issuer)

func WithTTL(d time.Duration) Option         { return func(i *Issuer) { i.ttl = d } }
func WithClock(now func() time.Time) Option  { return func(i *Issuer) { i.now = now } }
func WithIDGenerator(f func() string) Option { return func(i *Issuer) { i.newID = f } }

// NewIssuer crea un Issuer que firma con codec y persiste en store.
func NewIssuer(store repository.Store, codec *jwt.Codec, opts ...Option) *Issuer {
	i := &Issuer{
		store: store,
		codec: codec,
		ttl:   DefaultTTL,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IssueToken exige un pase PROVISIONED o ACTIVE, firma un token con
// iat = nbf = now y exp = now+ttl, y persiste la sombra antes de devolverlo.
// Tokens previos del mismo (usuario, evento) siguen siendo válidos.
func (i *Issuer) IssueToken(ctx context.Context, userID, eventID string) (*Issued, error) {
	ctx, span := tracer.Start(ctx, "Issuer.IssueToken")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	if userID == "" || eventID == "" {
		return nil, ErrInvalidInput
	}

	pass, err := i.store.Passes().Get(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPassNotFound
		}
		return nil, fmt.Errorf("load pass: %w", err)
	}
	if !pass.Status.Usable() {
		return nil, ErrPassRevoked
	}

	now := i.now().UTC().Truncate(time.Second)
	claims := jwt.NewMemberClaims(i.newID(), userID, eventID, now, i.ttl)
	token, kid, err := i.codec.Sign(ctx, claims)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	shadow := &repository.ScanToken{
		JTI:          claims.JTI,
		EventID:      eventID,
		UserID:       userID,
		IssuedAt:     claims.IssuedTime(),
		NotBefore:    claims.NotBeforeTime(),
		ExpiresAt:    claims.ExpiresTime(),
		SigningKeyID: kid,
		BurnType:     BurnTypeSingleUse,
	}
	if err := i.store.ScanTokens().Create(ctx, shadow); err != nil {
		return nil, fmt.Errorf("persist scan token: %w", err)
	}

	metrics.TokensIssued.Inc()
	logger.From(ctx).Debug("scan token issued",
		logger.EventID(eventID), logger.UserID(userID), logger.JTI(claims.JTI), logger.KeyID(kid))

	return &Issued{Token: token, ExpiresAt: shadow.ExpiresAt, JTI: claims.JTI, KeyID: kid}, nil
}

// MinRefreshDelay es la espera mínima entre refrescos del QR del miembro.
const MinRefreshDelay = 5 * time.Second

// RefreshDelay es cuánto esperar antes de pedir un token nuevo: 5s antes
// de que expire el actual, nunca menos de MinRefreshDelay.
func RefreshDelay(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Sub(now) - 5*time.Second
	if d < MinRefreshDelay {
		return MinRefreshDelay
	}
	return d
}
