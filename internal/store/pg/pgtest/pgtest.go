// Package pgtest abre stores Postgres aislados para tests de integración.
// Sin LEOPASS_PG_DSN los tests que lo usan se saltean.
package pgtest

import (
	"context"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/dropDatabas3/leopass/internal/store"
	"github.com/dropDatabas3/leopass/internal/store/pg"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// EnvDSN es la variable con el DSN de la base de tests.
const EnvDSN = "LEOPASS_PG_DSN"

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// Open crea un schema propio del test, aplica las migraciones y devuelve el
// store apuntando a ese schema. El schema se borra al terminar.
func Open(t testing.TB) *pg.Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(EnvDSN))
	if dsn == "" {
		t.Skipf("%s no definido", EnvDSN)
	}
	ctx := context.Background()
	schema := SchemaName(t.Name())
	ident := pgx.Identifier{schema}.Sanitize()

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+ident)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
		_ = admin.Close(context.Background())
	})

	st, err := pg.New(ctx, WithSearchPath(dsn, schema), pg.PoolConfig{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = store.Migrate(ctx, st)
	require.NoError(t, err)
	return st
}

// SchemaName deriva un identificador válido (<= 63 bytes) del nombre del test.
func SchemaName(testName string) string {
	s := "lp_" + strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(testName), "_"), "_")
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

// WithSearchPath agrega search_path al DSN, en formato URL o key=value.
func WithSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}
