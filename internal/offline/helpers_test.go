package offline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	db.bolt.NoSync = true
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedSubmitter responde según el token; tokens sin guion devuelven éxito.
type scriptedSubmitter struct {
	mu      sync.Mutex
	errs    map[string]error
	calls   []Scan
	replays map[string]bool
}

func (s *scriptedSubmitter) Submit(_ context.Context, sc Scan) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sc)
	if err := s.errs[sc.Token]; err != nil {
		return nil, err
	}
	return &Result{Action: "check_in", SessionID: "s-" + sc.Token, Replayed: s.replays[sc.Token]}, nil
}

func (s *scriptedSubmitter) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Token)
	}
	return out
}

func scanOf(token string) Scan {
	return Scan{Token: token, IdempotencyKey: "key-" + token, ScannedAt: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
}
