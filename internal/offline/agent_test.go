package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/leopass/internal/attendance"
	"github.com/dropDatabas3/leopass/internal/domain/repository"
	healthctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/health"
	keysctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/keys"
	scanctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/scan"
	tokenctrl "github.com/dropDatabas3/leopass/internal/http/v2/controllers/token"
	"github.com/dropDatabas3/leopass/internal/http/v2/router"
	healthsvc "github.com/dropDatabas3/leopass/internal/http/v2/services/health"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/rate"
	"github.com/dropDatabas3/leopass/internal/scantoken"
	"github.com/dropDatabas3/leopass/internal/security/secretbox"
	"github.com/dropDatabas3/leopass/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveServer corre el router real; down simula una caída del gateway.
type liveServer struct {
	*httptest.Server
	issuer *scantoken.Issuer
	store  *memory.Store
	down   atomic.Bool
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	box, err := secretbox.New(make([]byte, 32), jwt.SecretPurpose)
	require.NoError(t, err)
	km, err := jwt.NewKeyManager(st.Keys(), box)
	require.NoError(t, err)
	codec := jwt.NewCodec(km)

	now := time.Now().UTC()
	require.NoError(t, st.Passes().UpsertEvent(ctx, repository.Event{
		ID: "ev-1", Name: "Season opener", StartTime: now.Add(-time.Hour), EndTime: now.Add(2 * time.Hour),
	}))
	require.NoError(t, st.Passes().UpsertPass(ctx, repository.MemberEventPass{
		ID: "p-1", EventID: "ev-1", UserID: "user-1", Status: repository.PassActive,
	}))

	ls := &liveServer{issuer: scantoken.NewIssuer(st, codec), store: st}
	h := router.New(router.Deps{
		Scan:        scanctrl.NewController(attendance.NewEngine(st, codec, km)),
		Token:       tokenctrl.NewController(ls.issuer),
		Keys:        keysctrl.NewController(km),
		Health:      healthctrl.NewController(healthsvc.NewService(st, km, nil)),
		Limiter:     rate.NewMemoryLimiter(),
		ScanPolicy:  rate.ScanPolicy,
		TokenPolicy: rate.TokenPolicy,
	})
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ls.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *liveServer) token(t *testing.T) string {
	t.Helper()
	out, err := ls.issuer.IssueToken(context.Background(), "user-1", "ev-1")
	require.NoError(t, err)
	return out.Token
}

func newTestAgent(t *testing.T, ls *liveServer) *Components {
	t.Helper()
	cfg := AgentConfig{
		BaseURL:       ls.URL,
		ActorID:       "steward-1",
		DeviceID:      "gate-a",
		QueueCapacity: DefaultCapacity,
		QueueMaxAge:   DefaultMaxAge,
		JWKSRefresh:   DefaultJWKSRefresh,
		ClockSkew:     attendance.DefaultClockSkew,
		CheckInterval: time.Second,
	}
	return cfg.Build(openTestDB(t))
}

func TestAgent_OnlineThenOfflineThenSync(t *testing.T) {
	ctx := context.Background()
	ls := newLiveServer(t)
	c := newTestAgent(t, ls)

	assert.True(t, c.Monitor.Check(ctx))

	out, err := c.Agent.Scan(ctx, ls.token(t))
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Nil(t, out.Queued)
	assert.Equal(t, "check_in", out.Result.Action)
	assert.Equal(t, "user-1", out.Claims.Subject)
	sessionID := out.Result.SessionID

	// Se cae la red: el scan queda en cola con su clave y el monitor pasa a offline.
	ls.down.Store(true)
	out, err = c.Agent.Scan(ctx, ls.token(t))
	require.NoError(t, err)
	require.NotNil(t, out.Queued)
	assert.False(t, c.Monitor.Online())
	key := out.Queued.IdempotencyKey
	assert.NotEmpty(t, key)

	out, err = c.Agent.Scan(ctx, ls.token(t))
	require.NoError(t, err)
	require.NotNil(t, out.Queued, "offline scans go straight to the queue")

	n, err := c.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, c.Monitor.Check(ctx))

	// Vuelve la red: el flush aplica check_out y luego un nuevo check_in.
	ls.down.Store(false)
	assert.True(t, c.Monitor.Check(ctx))

	n, err = c.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sess, err := ls.store.Sessions().FindOpen(ctx, "ev-1", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, sessionID, sess.ID)

	closed, err := ls.store.Sessions().GetByID(ctx, sessionID)
	require.NoError(t, err)
	assert.NotNil(t, closed.CheckOutTs)
}

func TestAgent_RejectsInvalidTokenWithoutQueueing(t *testing.T) {
	ctx := context.Background()
	ls := newLiveServer(t)
	c := newTestAgent(t, ls)

	_, err := c.Agent.Scan(ctx, "garbage")
	require.ErrorIs(t, err, jwt.ErrMalformed)

	n, err := c.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAgent_ConflictIsNotQueued(t *testing.T) {
	ctx := context.Background()
	ls := newLiveServer(t)
	c := newTestAgent(t, ls)
	require.True(t, c.Monitor.Check(ctx))

	tok := ls.token(t)
	_, err := c.Agent.Scan(ctx, tok)
	require.NoError(t, err)

	// Segundo escaneo del mismo QR: clave nueva, token ya consumido.
	_, err = c.Agent.Scan(ctx, tok)
	require.Error(t, err)
	assert.Equal(t, "conflict", Class(err))
	assert.True(t, NeedsReview(err))
	assert.True(t, c.Monitor.Online())
}

type stubReady struct {
	mu  sync.Mutex
	err error
}

func (p *stubReady) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *stubReady) Ready(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type countingFlusher struct {
	calls atomic.Int32
	rep   FlushReport
}

func (f *countingFlusher) Flush(context.Context) (FlushReport, error) {
	f.calls.Add(1)
	return f.rep, nil
}

func TestMonitor_FlushesOnlyOnTransition(t *testing.T) {
	ctx := context.Background()
	p := &stubReady{}
	f := &countingFlusher{}
	m := NewMonitor(p, f, time.Second)

	assert.False(t, m.Online())
	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx))
	assert.EqualValues(t, 1, f.calls.Load())

	p.set(ErrOffline)
	assert.False(t, m.Check(ctx))
	p.set(nil)
	assert.True(t, m.Check(ctx))
	assert.EqualValues(t, 2, f.calls.Load())

	m.MarkOffline()
	f.rep = FlushReport{Stopped: true}
	assert.False(t, m.Check(ctx), "a flush cut short by the network leaves the monitor offline")
	assert.EqualValues(t, 3, f.calls.Load())
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	f := &countingFlusher{}
	m := NewMonitor(&stubReady{}, f, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, f.calls.Load())
}
