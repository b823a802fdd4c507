package pgtest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "lp_testrepos_keylifecycle_postgres", SchemaName("TestRepos_KeyLifecycle/postgres"))
	long := SchemaName(strings.Repeat("Abc/", 40))
	assert.Len(t, long, 63)
	assert.True(t, strings.HasPrefix(long, "lp_abc_abc"))
}

func TestWithSearchPath(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db/leopass?search_path=lp_x",
		WithSearchPath("postgres://u:p@db/leopass", "lp_x"))
	assert.Equal(t, "postgres://u:p@db/leopass?sslmode=disable&search_path=lp_x",
		WithSearchPath("postgres://u:p@db/leopass?sslmode=disable", "lp_x"))
	assert.Equal(t, "host=db dbname=leopass search_path=lp_x",
		WithSearchPath("host=db dbname=leopass", "lp_x"))
}
