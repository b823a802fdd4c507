package offline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SubmitSuccess(t *testing.T) {
	type captured struct {
		header http.Header
		path   string
		body   map[string]any
	}
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{header: r.Header.Clone(), path: r.URL.Path}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		seen <- c
		w.Header().Set("Idempotent-Replayed", "true")
		_, _ = w.Write([]byte(`{"action":"check_out","attendanceSession":{"id":"sess-1","eventId":"ev-1","checkOutTs":"2026-03-01T18:00:00Z"},"tokenExpiresAt":"2026-03-01T18:00:30Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithActor("steward-1", "attendance:scan"))
	res, err := c.Submit(context.Background(), Scan{
		Token: "tok", ScannerDeviceID: "gate-a", IdempotencyKey: "k-1",
		ScannedAt: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "check_out", res.Action)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.True(t, res.Replayed)
	require.NotNil(t, res.CheckOutTs)

	got := <-seen
	assert.Equal(t, "/v2/scan", got.path)
	assert.Equal(t, "k-1", got.header.Get("Idempotency-Key"))
	assert.Equal(t, "steward-1", got.header.Get("X-Actor-ID"))
	assert.Equal(t, "attendance:scan", got.header.Get("X-Actor-Scopes"))
	assert.Equal(t, "tok", got.body["token"])
	assert.Equal(t, "gate-a", got.body["scannerDeviceId"])
	assert.Equal(t, "2026-03-01T18:00:00Z", got.body["scannedAt"])
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		connectivity bool
		review       bool
		class        string
	}{
		{"conflict", http.StatusConflict, `{"code":"TOKEN_ALREADY_CONSUMED","message":"x","class":"conflict"}`, false, true, "conflict"},
		{"identity", http.StatusUnauthorized, `{"code":"TOKEN_NOT_RECOGNISED","class":"identity"}`, false, true, "identity"},
		{"expired", http.StatusBadRequest, `{"code":"TOKEN_EXPIRED","class":"temporal"}`, false, true, "temporal"},
		{"unavailable", http.StatusServiceUnavailable, `{"code":"SERVICE_UNAVAILABLE"}`, true, false, "unknown"},
		{"gateway", http.StatusBadGateway, `<html>bad gateway</html>`, true, false, "unknown"},
		{"rate limited", http.StatusTooManyRequests, `{"code":"RATE_LIMITED"}`, true, false, "unknown"},
		{"internal", http.StatusInternalServerError, `{"code":"INTERNAL_ERROR","class":"unknown"}`, false, false, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Submit(context.Background(), scanOf("t"))
			require.Error(t, err)
			var rej *RejectedError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tt.status, rej.Status)
			assert.Equal(t, tt.connectivity, IsConnectivity(err))
			assert.Equal(t, tt.review, NeedsReview(err))
			assert.Equal(t, tt.class, Class(err))
		})
	}
}

func TestClient_UnreachableIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url)
	_, err := c.Submit(context.Background(), scanOf("t"))
	require.ErrorIs(t, err, ErrOffline)
	assert.True(t, IsConnectivity(err))
	assert.False(t, NeedsReview(err))
	assert.Error(t, c.Ready(context.Background()))
}

func TestClient_ReadyAndJWKS(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/readyz":
			if down.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		case "/.well-known/jwks.json":
			_, _ = w.Write([]byte(`{"keys":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.NoError(t, c.Ready(context.Background()))
	down.Store(true)
	err := c.Ready(context.Background())
	assert.True(t, IsConnectivity(err))

	doc, err := c.FetchJWKS(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[]}`, string(doc))
}
