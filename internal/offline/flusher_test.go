package offline

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlush_OldestFirstAndStopsWhenOffline(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(openTestDB(t), WithQueueClock(clock.Now))

	_, err := q.Enqueue(ctx, scanOf("stale"))
	require.NoError(t, err)
	clock.Advance(49 * time.Hour)
	for _, tok := range []string{"ok", "conflict", "boom", "down", "later"} {
		_, err := q.Enqueue(ctx, scanOf(tok))
		require.NoError(t, err)
	}

	sub := &scriptedSubmitter{
		errs: map[string]error{
			"conflict": &RejectedError{Status: http.StatusConflict, Code: "TOKEN_ALREADY_CONSUMED", Class: "conflict"},
			"boom":     &RejectedError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Class: "unknown"},
			"down":     ErrOffline,
		},
		replays: map[string]bool{"ok": true},
	}
	f := NewFlusher(q, sub)
	f.now = clock.Now

	rep, err := f.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "conflict", "boom", "down"}, sub.tokens())
	assert.Equal(t, 1, rep.Submitted)
	assert.Equal(t, 1, rep.Replayed)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, rep.Stale)
	assert.True(t, rep.Stopped)
	assert.ErrorIs(t, rep.LastError, ErrOffline)

	items, err := q.List(ctx)
	require.NoError(t, err)
	byToken := map[string]Item{}
	for _, it := range items {
		byToken[it.Token] = it
	}
	require.Len(t, byToken, 5)
	assert.NotContains(t, byToken, "ok")

	assert.True(t, byToken["stale"].NeedsReview)
	assert.Equal(t, StaleReason, byToken["stale"].LastError)
	assert.Zero(t, byToken["stale"].Retries)

	assert.True(t, byToken["conflict"].NeedsReview)
	assert.Equal(t, 1, byToken["conflict"].Retries)
	assert.Contains(t, byToken["conflict"].LastError, "TOKEN_ALREADY_CONSUMED")

	assert.False(t, byToken["boom"].NeedsReview)
	assert.Equal(t, 1, byToken["boom"].Retries)

	assert.False(t, byToken["down"].NeedsReview)
	assert.Equal(t, 1, byToken["down"].Retries)
	assert.Zero(t, byToken["later"].Retries)

	// Segunda pasada con red: los marcados no se reintentan.
	sub.errs = nil
	sub.calls = nil
	rep, err = f.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"boom", "down", "later"}, sub.tokens())
	assert.Equal(t, 3, rep.Submitted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Stale)
	assert.False(t, rep.Stopped)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFlush_KeepsOriginalKeyAndTimestamp(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(openTestDB(t))
	_, err := q.Enqueue(ctx, scanOf("a"))
	require.NoError(t, err)

	sub := &scriptedSubmitter{}
	_, err = NewFlusher(q, sub).Flush(ctx)
	require.NoError(t, err)
	require.Len(t, sub.calls, 1)
	assert.Equal(t, scanOf("a"), sub.calls[0])
}

func TestFlush_RateLimitCountsAsOffline(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(openTestDB(t))
	for _, tok := range []string{"a", "b"} {
		_, err := q.Enqueue(ctx, scanOf(tok))
		require.NoError(t, err)
	}
	sub := &scriptedSubmitter{errs: map[string]error{"a": &RejectedError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED"}}}
	rep, err := NewFlusher(q, sub).Flush(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Stopped)
	assert.Equal(t, []string{"a"}, sub.tokens())
}

type blockingSubmitter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSubmitter) Submit(ctx context.Context, s Scan) (*Result, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &Result{Action: "check_in"}, nil
}

func TestFlush_SingleFlight(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(openTestDB(t))
	_, err := q.Enqueue(ctx, scanOf("a"))
	require.NoError(t, err)

	sub := &blockingSubmitter{started: make(chan struct{}), release: make(chan struct{})}
	f := NewFlusher(q, sub)

	done := make(chan FlushReport)
	go func() {
		rep, _ := f.Flush(ctx)
		done <- rep
	}()
	<-sub.started

	_, err = f.Flush(ctx)
	assert.ErrorIs(t, err, ErrFlushInProgress)

	close(sub.release)
	rep := <-done
	assert.Equal(t, 1, rep.Submitted)
}

func TestFlush_ContextCancelledDoesNotCountRetry(t *testing.T) {
	q := NewQueue(openTestDB(t))
	_, err := q.Enqueue(context.Background(), scanOf("a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFlusher(q, &scriptedSubmitter{}).Flush(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
