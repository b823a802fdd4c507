package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dropDatabas3/leopass/internal/config"
	"github.com/dropDatabas3/leopass/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Serve atiende en ln hasta que ctx termine y luego hace un shutdown
// ordenado con server.shutdown_timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.Config
	srv := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       config.Duration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout:      config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}
	log := logger.Named("server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("store", a.Store.Name()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 20*time.Second))
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Run escucha en server.addr.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}
