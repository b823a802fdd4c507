package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/leopass/internal/attendance"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/scantoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrTokenConsumed.WithClass("conflict").WithDetail("x"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "TOKEN_ALREADY_CONSUMED", body["code"])
	assert.Equal(t, "conflict", body["class"])
	assert.Equal(t, "x", body["detail"])

	rec = httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("db down"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestWithCopies(t *testing.T) {
	d := ErrBadRequest.WithDetail("nope")
	assert.Empty(t, ErrBadRequest.Detail)
	assert.Equal(t, "nope", d.Detail)
}

func TestFromScanError(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
		class  string
	}{
		{fmt.Errorf("wrap: %w", jwt.ErrMalformed), "TOKEN_MALFORMED", 400, "malformed"},
		{attendance.ErrTokenExpired, "TOKEN_EXPIRED", 400, "temporal"},
		{attendance.ErrEventClosed, "EVENT_CLOSED", 400, "temporal"},
		{jwt.ErrBadSignature, "TOKEN_NOT_RECOGNISED", 401, "identity"},
		{attendance.ErrTokenUserMismatch, "TOKEN_MISMATCH", 401, "identity"},
		{attendance.ErrTokenConsumed, "TOKEN_ALREADY_CONSUMED", 409, "conflict"},
		{attendance.ErrIdempotencyKeyReused, "IDEMPOTENCY_KEY_REUSED", 409, "conflict"},
		{attendance.ErrPassRevoked, "PASS_REVOKED", 409, "conflict"},
		{fmt.Errorf("boom"), "INTERNAL_ERROR", 500, "unknown"},
	}
	for _, tc := range cases {
		got := FromScanError(tc.err)
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
		assert.Equal(t, tc.status, got.HTTPStatus, tc.err.Error())
		assert.Equal(t, tc.class, got.Class, tc.err.Error())
		assert.ErrorIs(t, got, tc.err)
	}
}

func TestFromIssueError(t *testing.T) {
	assert.Equal(t, 404, FromIssueError(scantoken.ErrPassNotFound).HTTPStatus)
	assert.Equal(t, "PASS_REVOKED", FromIssueError(scantoken.ErrPassRevoked).Code)
	assert.Equal(t, 503, FromIssueError(fmt.Errorf("x: %w", jwt.ErrSigningUnavailable)).HTTPStatus)
	assert.Equal(t, 400, FromIssueError(scantoken.ErrInvalidInput).HTTPStatus)
}
