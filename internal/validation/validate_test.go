package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Token  string `validate:"required,max=4096"`
	Window string `validate:"omitempty,duration"`
	Kind   string `validate:"oneof=log kafka"`
	Inner  struct {
		Scope string `validate:"scope"`
	}
}

func TestStruct(t *testing.T) {
	ok := sample{Token: "x", Window: "30s", Kind: "log"}
	ok.Inner.Scope = "attendance:scan"
	require.NoError(t, Struct(ok))

	bad := sample{Window: "soon", Kind: "smtp"}
	bad.Inner.Scope = "BAD scope"
	err := Struct(bad)
	require.Error(t, err)

	var fe FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Token is required", fe["Token"])
	assert.Contains(t, fe["Window"], "duration")
	assert.Contains(t, fe["Kind"], "one of [log kafka]")
	assert.Contains(t, fe, "Inner.Scope")
	assert.Contains(t, err.Error(), "validation failed:")
}

func TestVar_IdempotencyKey(t *testing.T) {
	assert.NoError(t, Var("Idempotency-Key", "abc", "idemkey"))
	assert.Error(t, Var("Idempotency-Key", "   ", "idemkey"))

	long := make([]byte, MaxIdempotencyKeyLen+1)
	for i := range long {
		long[i] = 'a'
	}
	err := Var("Idempotency-Key", string(long), "idemkey")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Idempotency-Key must be 1..200 characters")
}

func TestValidScopeName(t *testing.T) {
	for _, s := range []string{"a", "attendance:scan", "member:token", "a_b-c.d:x2"} {
		assert.True(t, ValidScopeName(s), s)
	}
	for _, s := range []string{"", "BAD", "bad space", ":lead", "trail:", "semi;colon"} {
		assert.False(t, ValidScopeName(s), s)
	}
}

func TestParseScopes(t *testing.T) {
	got := ParseScopes("attendance:scan, member:token attendance:scan BAD ;x")
	assert.Equal(t, []string{"attendance:scan", "member:token"}, got)
	assert.Empty(t, ParseScopes(""))
}
