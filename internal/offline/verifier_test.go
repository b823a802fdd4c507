package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/leopass/internal/attendance"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/security/secretbox"
	"github.com/dropDatabas3/leopass/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	km    *jwt.KeyManager
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *countingFetcher) FetchJWKS(ctx context.Context) ([]byte, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, ErrOffline
	}
	return f.km.JWKSJSON(ctx)
}

type signer struct {
	t     *testing.T
	km    *jwt.KeyManager
	codec *jwt.Codec
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i + 1)
	}
	box, err := secretbox.New(master, jwt.SecretPurpose)
	require.NoError(t, err)
	km, err := jwt.NewKeyManager(memory.New().Keys(), box)
	require.NoError(t, err)
	return &signer{t: t, km: km, codec: jwt.NewCodec(km)}
}

func (s *signer) token(jti string, now time.Time) string {
	s.t.Helper()
	tok, _, err := s.codec.Sign(context.Background(), jwt.NewMemberClaims(jti, "user-1", "ev-1", now, 30*time.Second))
	require.NoError(s.t, err)
	return tok
}

func TestVerifier_CachesAndRefreshesOnUnknownKid(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t)
	f := &countingFetcher{km: s.km}
	v := NewVerifier(NewJWKSCache(openTestDB(t)), f)

	out, err := v.Verify(ctx, s.token("j-1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "j-1", out.Claims.JTI)
	assert.Equal(t, jwt.KindMember, out.Claims.Kind)
	assert.EqualValues(t, 1, f.calls.Load())

	_, err = v.Verify(ctx, s.token("j-2", time.Now()))
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls.Load(), "known kid must not refetch")

	_, err = s.km.Rotate(ctx)
	require.NoError(t, err)
	_, err = v.Verify(ctx, s.token("j-3", time.Now()))
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestVerifier_WorksOfflineFromPersistedCache(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t)
	db := openTestDB(t)
	f := &countingFetcher{km: s.km}
	// La clave tiene que existir antes de cachear el JWKS.
	_, err := s.km.EnsureActiveKey(ctx)
	require.NoError(t, err)
	require.NoError(t, NewVerifier(NewJWKSCache(db), f).Refresh(ctx))
	cached, _, err := NewJWKSCache(db).Load(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)

	f.fail.Store(true)
	fresh := NewVerifier(NewJWKSCache(db), f)
	_, err = fresh.Verify(ctx, s.token("j-1", time.Now()))
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls.Load())

	// Cache vencido y sin red: se sigue usando lo que hay.
	fresh.now = func() time.Time { return time.Now().Add(7 * time.Hour) }
	tok := s.token("j-2", time.Now().Add(7*time.Hour))
	_, err = fresh.Verify(ctx, tok)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestVerifier_UnknownKeyWithoutNetwork(t *testing.T) {
	s := newSigner(t)
	f := &countingFetcher{km: s.km}
	f.fail.Store(true)
	v := NewVerifier(NewJWKSCache(openTestDB(t)), f)

	_, err := v.Verify(context.Background(), s.token("j-1", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOffline))
}

func TestVerifier_RejectsOutsideWindowAndTampered(t *testing.T) {
	ctx := context.Background()
	s := newSigner(t)
	v := NewVerifier(NewJWKSCache(openTestDB(t)), &countingFetcher{km: s.km})

	_, err := v.Verify(ctx, s.token("old", time.Now().Add(-30*time.Second-91*time.Second)))
	assert.ErrorIs(t, err, attendance.ErrTokenExpired)

	_, err = v.Verify(ctx, s.token("future", time.Now().Add(2*time.Minute)))
	assert.ErrorIs(t, err, attendance.ErrTokenNotYetValid)

	_, err = v.Verify(ctx, s.token("skewed", time.Now().Add(-30*time.Second-60*time.Second)))
	assert.NoError(t, err)

	tok := []byte(s.token("tamper", time.Now()))
	last := len(tok) - 2
	if tok[last] == 'A' {
		tok[last] = 'B'
	} else {
		tok[last] = 'A'
	}
	_, err = v.Verify(ctx, string(tok))
	assert.ErrorIs(t, err, jwt.ErrBadSignature)

	_, err = v.Verify(ctx, "not-a-token")
	assert.ErrorIs(t, err, jwt.ErrMalformed)
}
