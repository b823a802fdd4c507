package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/notify"
	"github.com/dropDatabas3/leopass/internal/scantoken"
	"github.com/dropDatabas3/leopass/internal/security/secretbox"
	"github.com/dropDatabas3/leopass/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
	done   chan struct{}
}

func (r *recordingEmitter) Emit(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

type fixture struct {
	t       *testing.T
	store   repository.Store
	keys    *jwt.KeyManager
	codec   *jwt.Codec
	issuer  *scantoken.Issuer
	engine  *Engine
	emitter *recordingEmitter
	now     time.Time
	mu      sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, memory.New())
}

func newFixtureWithStore(t *testing.T, st repository.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	box, err := secretbox.New(make([]byte, 32), jwt.SecretPurpose)
	require.NoError(t, err)
	km, err := jwt.NewKeyManager(st.Keys(), box)
	require.NoError(t, err)

	f := &fixture{
		t:       t,
		store:   st,
		keys:    km,
		codec:   jwt.NewCodec(km),
		now:     time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC),
		emitter: &recordingEmitter{done: make(chan struct{}, 64)},
	}
	f.issuer = scantoken.NewIssuer(st, f.codec, scantoken.WithClock(f.clock))
	f.engine = NewEngine(st, f.codec, km, WithClock(f.clock), WithEmitter(f.emitter))

	grace := 10
	require.NoError(t, st.Passes().UpsertEvent(ctx, repository.Event{
		ID: "ev-1", Name: "Club night", StartTime: f.now.Add(-5 * time.Minute), EndTime: f.now.Add(60 * time.Minute),
	}))
	require.NoError(t, st.Passes().UpsertEvent(ctx, repository.Event{
		ID: "ev-late", Name: "Later", StartTime: f.now.Add(3 * time.Hour), EndTime: f.now.Add(4 * time.Hour), AutoCheckoutGraceMin: &grace,
	}))
	require.NoError(t, st.Passes().UpsertPass(ctx, repository.MemberEventPass{ID: "p-1", EventID: "ev-1", UserID: "u-1", Status: repository.PassProvisioned}))
	require.NoError(t, st.Passes().UpsertPass(ctx, repository.MemberEventPass{ID: "p-2", EventID: "ev-1", UserID: "u-2", Status: repository.PassActive}))
	require.NoError(t, st.Passes().UpsertPass(ctx, repository.MemberEventPass{ID: "p-3", EventID: "ev-late", UserID: "u-1", Status: repository.PassProvisioned}))
	return f
}

func (f *fixture) issue(userID, eventID string) *scantoken.Issued {
	f.t.Helper()
	out, err := f.issuer.IssueToken(context.Background(), userID, eventID)
	require.NoError(f.t, err)
	return out
}

// forge firma un token válido sin pasar por el issuer (sin sombra o con sombra a medida).
func (f *fixture) forge(jti, userID, eventID string) string {
	f.t.Helper()
	tok, _, err := f.codec.Sign(context.Background(), jwt.NewMemberClaims(jti, userID, eventID, f.clock(), 30*time.Second))
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) scan(token, key string) (*Result, error) {
	return f.engine.ProcessScan(context.Background(), ScanRequest{
		Token: token, IdempotencyKey: key, ScannerActorID: "steward-1", ScannerDeviceID: "dev-1",
	})
}

func (f *fixture) waitEvents(n int) []notify.Event {
	f.t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.emitter.done:
		case <-time.After(2 * time.Second):
			f.t.Fatalf("expected %d notify events, got %d", n, i)
		}
	}
	f.emitter.mu.Lock()
	defer f.emitter.mu.Unlock()
	return append([]notify.Event(nil), f.emitter.events...)
}

func TestProcessScan_CheckInThenCheckOut(t *testing.T) {
	f := newFixture(t)
	start := f.clock()

	first, err := f.scan(f.issue("u-1", "ev-1").Token, "")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, first.Action)
	assert.Nil(t, first.Session.CheckOutTs)
	require.NotNil(t, first.Session.CheckInTs)
	assert.True(t, first.Session.CheckInTs.Equal(start))
	assert.Equal(t, start.Add(30*time.Second), first.TokenExpiresAt)

	f.advance(2 * time.Minute)
	second, err := f.scan(f.issue("u-1", "ev-1").Token, "")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, second.Action)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	require.NotNil(t, second.Session.CheckOutTs)
	assert.True(t, second.Session.CheckOutTs.Equal(start.Add(2*time.Minute)))

	// Un tercer scan abre una visita nueva.
	f.advance(time.Minute)
	third, err := f.scan(f.issue("u-1", "ev-1").Token, "")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, third.Action)
	assert.NotEqual(t, first.Session.ID, third.Session.ID)

	events := f.waitEvents(3)
	kinds := map[notify.Kind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
		assert.Equal(t, "u-1", ev.UserID)
	}
	assert.Equal(t, 2, kinds[notify.KindCheckedIn])
	assert.Equal(t, 1, kinds[notify.KindCheckedOut])
}

func TestProcessScan_FirstCheckInActivatesPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scan(f.issue("u-1", "ev-1").Token, "")
	require.NoError(t, err)

	pass, err := f.store.Passes().Get(ctx, "ev-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, repository.PassActive, pass.Status)
	require.NotNil(t, pass.ActivatedAt)
	assert.True(t, pass.ActivatedAt.Equal(f.clock()))
}

func TestProcessScan_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue("u-1", "ev-1")

	a, err := f.scan(issued.Token, "retry-key")
	require.NoError(t, err)
	f.advance(5 * time.Second)
	b, err := f.scan(issued.Token, "  RETRY-KEY ")
	require.NoError(t, err)

	assert.Equal(t, a.Action, b.Action)
	assert.Equal(t, a.Session, b.Session)
	assert.Equal(t, a.TokenExpiresAt, b.TokenExpiresAt)
	assert.False(t, a.Replayed)
	assert.True(t, b.Replayed)

	shadow, err := f.store.ScanTokens().GetForUpdate(ctx, issued.JTI)
	require.NoError(t, err)
	require.NotNil(t, shadow.ConsumedIdempotencyKey)
	assert.Equal(t, "retry-key", *shadow.ConsumedIdempotencyKey)
	assert.True(t, shadow.UsedAt.Equal(*a.Session.CheckInTs), "used_at is set once, by the first call")

	open, err := f.store.Sessions().FindOpen(ctx, "ev-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, a.Session.ID, open.ID, "replay did not toggle the session")
}

func TestProcessScan_ReplayReflectsOriginalTransition(t *testing.T) {
	f := newFixture(t)
	in := f.issue("u-1", "ev-1")
	first, err := f.scan(in.Token, "k-in")
	require.NoError(t, err)

	f.advance(time.Minute)
	_, err = f.scan(f.issue("u-1", "ev-1").Token, "k-out")
	require.NoError(t, err)

	replay, err := f.scan(in.Token, "k-in")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, replay.Action)
	assert.Equal(t, first.Session, replay.Session)
	assert.Nil(t, replay.Session.CheckOutTs)
}

func TestProcessScan_ConsumedWithDifferentOrNoKey(t *testing.T) {
	f := newFixture(t)
	tok := f.issue("u-1", "ev-1").Token

	_, err := f.scan(tok, "first")
	require.NoError(t, err)

	_, err = f.scan(tok, "second")
	require.ErrorIs(t, err, ErrTokenConsumed)
	assert.Equal(t, ClassConflict, Classify(err))

	_, err = f.scan(tok, "")
	require.ErrorIs(t, err, ErrTokenConsumed)

	tok2 := f.issue("u-2", "ev-1").Token
	_, err = f.scan(tok2, "")
	require.NoError(t, err)
	_, err = f.scan(tok2, "")
	require.ErrorIs(t, err, ErrTokenConsumed, "no key on either call is not a replay")
}

func TestProcessScan_IdempotencyKeyReusedAcrossTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scan(f.issue("u-1", "ev-1").Token, "shared")
	require.NoError(t, err)

	other := f.issue("u-2", "ev-1")
	_, err = f.scan(other.Token, "SHARED")
	require.ErrorIs(t, err, ErrIdempotencyKeyReused)

	shadow, err := f.store.ScanTokens().GetForUpdate(ctx, other.JTI)
	require.NoError(t, err)
	assert.Nil(t, shadow.UsedAt, "rejected scan must not consume the token")
	_, err = f.store.Sessions().FindOpen(ctx, "ev-1", "u-2")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProcessScan_TokenWindow(t *testing.T) {
	f := newFixture(t)
	issued := f.issue("u-1", "ev-1") // exp = now+30s

	_, err := f.engine.ProcessScan(context.Background(), ScanRequest{
		Token: issued.Token, ScannerActorID: "steward-1", ScannedAt: issued.ExpiresAt.Add(91 * time.Second),
	})
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, ClassTemporal, Classify(err))
	assert.True(t, Classify(err).Retryable())

	_, err = f.engine.ProcessScan(context.Background(), ScanRequest{
		Token: issued.Token, ScannerActorID: "steward-1", ScannedAt: f.clock().Add(-91 * time.Second),
	})
	require.ErrorIs(t, err, ErrTokenNotYetValid)

	res, err := f.engine.ProcessScan(context.Background(), ScanRequest{
		Token: issued.Token, ScannerActorID: "steward-1", ScannedAt: issued.ExpiresAt.Add(90 * time.Second),
	})
	require.NoError(t, err, "skew tolerance is inclusive")
	assert.Equal(t, ActionCheckIn, res.Action)
}

func TestProcessScan_ExpiredAgainstEngineClock(t *testing.T) {
	f := newFixture(t)
	issued := f.issue("u-1", "ev-1")
	f.advance(30*time.Second + 91*time.Second)
	_, err := f.scan(issued.Token, "")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestProcessScan_EventWindow(t *testing.T) {
	f := newFixture(t)

	// ev-late abre en 3h: el token es válido pero el evento no.
	_, err := f.scan(f.issue("u-1", "ev-late").Token, "")
	require.ErrorIs(t, err, ErrEventNotOpen)

	// end + grace(5m por defecto) + skew(90s) => cerrado a +66m30s.
	f.advance(66*time.Minute + 31*time.Second)
	_, err = f.scan(f.issue("u-1", "ev-1").Token, "")
	require.ErrorIs(t, err, ErrEventClosed)
	assert.Equal(t, ClassTemporal, Classify(err))
}

func TestProcessScan_EventWindowHonoursGrace(t *testing.T) {
	f := newFixture(t)
	// ev-late: end = +4h, grace 10m => último scan válido a +4h11m30s.
	f.advance(4*time.Hour + 11*time.Minute)
	res, err := f.scan(f.issue("u-1", "ev-late").Token, "")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, res.Action)
}

func TestProcessScan_IdentityFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Sin sombra.
	_, err := f.scan(f.forge("ghost", "u-1", "ev-1"), "")
	require.ErrorIs(t, err, ErrTokenNotRecognised)
	assert.Equal(t, ClassIdentity, Classify(err))

	// Sombra con otro evento.
	tok := f.forge("jti-ev", "u-1", "ev-1")
	require.NoError(t, f.store.ScanTokens().Create(ctx, &repository.ScanToken{
		JTI: "jti-ev", EventID: "ev-late", UserID: "u-1",
		IssuedAt: f.clock(), NotBefore: f.clock(), ExpiresAt: f.clock().Add(30 * time.Second),
	}))
	_, err = f.scan(tok, "")
	require.ErrorIs(t, err, ErrTokenEventMismatch)

	// Sombra con otro usuario.
	tok = f.forge("jti-user", "u-1", "ev-1")
	require.NoError(t, f.store.ScanTokens().Create(ctx, &repository.ScanToken{
		JTI: "jti-user", EventID: "ev-1", UserID: "u-2",
		IssuedAt: f.clock(), NotBefore: f.clock(), ExpiresAt: f.clock().Add(30 * time.Second),
	}))
	_, err = f.scan(tok, "")
	require.ErrorIs(t, err, ErrTokenUserMismatch)

	// Sin pase.
	tok = f.forge("jti-nopass", "u-9", "ev-1")
	require.NoError(t, f.store.ScanTokens().Create(ctx, &repository.ScanToken{
		JTI: "jti-nopass", EventID: "ev-1", UserID: "u-9",
		IssuedAt: f.clock(), NotBefore: f.clock(), ExpiresAt: f.clock().Add(30 * time.Second),
	}))
	_, err = f.scan(tok, "")
	require.ErrorIs(t, err, ErrPassNotFound)
	assert.Equal(t, ClassIdentity, Classify(err))
}

func TestProcessScan_RevokedPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue("u-1", "ev-1")
	require.NoError(t, f.store.Passes().UpsertPass(ctx, repository.MemberEventPass{ID: "p-1", EventID: "ev-1", UserID: "u-1", Status: repository.PassRevoked}))

	_, err := f.scan(issued.Token, "")
	require.ErrorIs(t, err, ErrPassRevoked)
	assert.Equal(t, ClassConflict, Classify(err))
	assert.False(t, Classify(err).Retryable())
}

func TestProcessScan_RejectsTamperedAndMalformed(t *testing.T) {
	f := newFixture(t)
	tok := f.issue("u-1", "ev-1").Token

	_, err := f.scan("not-a-token", "")
	require.ErrorIs(t, err, jwt.ErrMalformed)
	assert.Equal(t, ClassMalformed, Classify(err))

	last := tok[len(tok)-2]
	repl := byte('A')
	if last == 'A' {
		repl = 'B'
	}
	bad := tok[:len(tok)-2] + string(repl) + tok[len(tok)-1:]
	_, err = f.scan(bad, "")
	require.Error(t, err)
	assert.Contains(t, []Class{ClassIdentity, ClassMalformed}, Classify(err))
}

func TestProcessScan_ConcurrentSameToken(t *testing.T) {
	for _, sameKey := range []bool{false, true} {
		f := newFixture(t)
		ctx := context.Background()
		issued := f.issue("u-1", "ev-1")

		const n = 8
		var wg sync.WaitGroup
		results := make([]*Result, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := "k-" + string(rune('a'+i))
				if sameKey {
					key = "same"
				}
				results[i], errs[i] = f.engine.ProcessScan(ctx, ScanRequest{Token: issued.Token, IdempotencyKey: key, ScannerActorID: "s"})
			}(i)
		}
		wg.Wait()

		fresh := 0
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				require.False(t, sameKey, "same key must never fail: %v", errs[i])
				require.ErrorIs(t, errs[i], ErrTokenConsumed)
				continue
			}
			if !results[i].Replayed {
				fresh++
			}
		}
		assert.Equal(t, 1, fresh, "exactly one call performs the transition (sameKey=%v)", sameKey)

		open, err := f.store.Sessions().FindOpen(ctx, "ev-1", "u-1")
		require.NoError(t, err)
		require.NotNil(t, open.CheckInTs)
		assert.Nil(t, open.CheckOutTs)
	}
}

func TestClassify(t *testing.T) {
	cases := map[error]Class{
		ErrTokenExpired:          ClassTemporal,
		ErrEventClosed:           ClassTemporal,
		ErrTokenUserMismatch:     ClassIdentity,
		jwt.ErrBadSignature:      ClassIdentity,
		jwt.ErrKeyNotFound:       ClassIdentity,
		jwt.ErrUnsupportedHeader: ClassMalformed,
		ErrIdempotencyKeyReused:  ClassConflict,
		ErrSessionConflict:       ClassConflict,
		context.DeadlineExceeded: ClassUnknown,
		nil:                      ClassUnknown,
	}
	for err, want := range cases {
		assert.Equal(t, want, Classify(err), "%v", err)
	}
	assert.True(t, ClassUnknown.Retryable())
	assert.False(t, ClassIdentity.Retryable())
}

func TestNormalizeIdempotencyKey(t *testing.T) {
	assert.Equal(t, "abc-1", NormalizeIdempotencyKey("  ABC-1\t"))
	assert.Equal(t, "", NormalizeIdempotencyKey("   "))
}
