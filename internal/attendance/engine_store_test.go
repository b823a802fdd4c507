package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/leopass/internal/store"
	"github.com/dropDatabas3/leopass/internal/store/pg/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sqlFixtures devuelve un constructor de fixture por backend SQL. Postgres
// solo corre con LEOPASS_PG_DSN.
func sqlFixtures() map[string]func(t *testing.T) *fixture {
	return map[string]func(t *testing.T) *fixture{
		"sqlite": func(t *testing.T) *fixture {
			t.Helper()
			st, err := store.Open(context.Background(), store.Config{Driver: store.DriverSQLite, DSN: ":memory:", Migrate: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return newFixtureWithStore(t, st)
		},
		"postgres": func(t *testing.T) *fixture {
			t.Helper()
			return newFixtureWithStore(t, pgtest.Open(t))
		},
	}
}

func forEachSQLFixture(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, mk := range sqlFixtures() {
		t.Run(name, func(t *testing.T) { fn(t, mk(t)) })
	}
}

func TestProcessScan_SQL_ToggleAndReplay(t *testing.T) {
	forEachSQLFixture(t, testSQLToggleAndReplay)
}

func testSQLToggleAndReplay(t *testing.T, f *fixture) {
	start := f.clock()

	in := f.issue("u-1", "ev-1")
	first, err := f.scan(in.Token, "Gate-Key")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, first.Action)
	require.NotNil(t, first.Session.CheckInTs)
	assert.True(t, first.Session.CheckInTs.Equal(start))

	replay, err := f.scan(in.Token, "gate-key")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, ActionCheckIn, replay.Action)
	assert.Equal(t, first.Session.ID, replay.Session.ID)

	_, err = f.scan(in.Token, "other")
	require.ErrorIs(t, err, ErrTokenConsumed)

	f.advance(3 * time.Minute)
	out, err := f.scan(f.issue("u-1", "ev-1").Token, "")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, out.Action)
	assert.Equal(t, first.Session.ID, out.Session.ID)
	require.NotNil(t, out.Session.CheckOutTs)
	assert.True(t, out.Session.CheckOutTs.Equal(start.Add(3*time.Minute)))

	p, err := f.store.Passes().Get(context.Background(), "ev-1", "u-1")
	require.NoError(t, err)
	assert.True(t, p.Status.Usable())
	require.NotNil(t, p.ActivatedAt)
	assert.True(t, p.ActivatedAt.Equal(start))

	f.waitEvents(2)
}

func TestProcessScan_SQL_KeyReuseRejected(t *testing.T) {
	forEachSQLFixture(t, testSQLKeyReuseRejected)
}

func testSQLKeyReuseRejected(t *testing.T, f *fixture) {

	_, err := f.scan(f.issue("u-1", "ev-1").Token, "shared")
	require.NoError(t, err)
	_, err = f.scan(f.issue("u-2", "ev-1").Token, "shared")
	require.ErrorIs(t, err, ErrIdempotencyKeyReused)
}

func TestProcessScan_SQL_ConcurrentSameToken(t *testing.T) {
	forEachSQLFixture(t, testSQLConcurrentSameToken)
}

func testSQLConcurrentSameToken(t *testing.T, f *fixture) {
	issued := f.issue("u-2", "ev-1")

	const n = 6
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.ProcessScan(context.Background(), ScanRequest{
				Token: issued.Token, IdempotencyKey: "same", ScannerActorID: "s",
			})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			fresh++
		}
		assert.Equal(t, ActionCheckIn, results[i].Action)
	}
	assert.Equal(t, 1, fresh)
}
