// passctl administra claves, base de datos y el agente offline del escáner.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dropDatabas3/leopass/internal/config"
	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/http/v2/server"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"github.com/dropDatabas3/leopass/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globals struct {
	configPath string
	out        string
}

func (g *globals) print(v any, text func()) {
	if g.out == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	text()
}

// core abre el store configurado (sin migrar) y el key manager.
type core struct {
	cfg   *config.Config
	store repository.Store
	keys  *jwt.KeyManager
}

func (g *globals) openCore(ctx context.Context, migrate bool) (*core, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Storage.Driver,
		DSN:      cfg.Storage.DSN,
		MaxConns: 2,
		Migrate:  migrate,
	})
	if err != nil {
		return nil, err
	}
	box, err := server.MasterBox(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	km, err := jwt.NewKeyManager(st.Keys(), box)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &core{cfg: cfg, store: st, keys: km}, nil
}

func (c *core) Close() { _ = c.store.Close() }

func main() {
	_ = godotenv.Load()

	g := &globals{out: envOr("PASSCTL_OUT", "text")}
	root := &cobra.Command{
		Use:           "passctl",
		Short:         "CLI de leopass: claves, migraciones, seed y agente offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(logger.Config{Env: "dev", Level: envOr("LOG_LEVEL", "warn")})
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("CONFIG_PATH"), "ruta a config.yaml (env CONFIG_PATH)")
	root.PersistentFlags().StringVar(&g.out, "out", g.out, "formato de salida: json|text")

	root.AddCommand(
		keysCmd(g),
		migrateCmd(g),
		seedCmd(g),
		tokenCmd(g),
		scanCmd(g),
		queueCmd(g),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
