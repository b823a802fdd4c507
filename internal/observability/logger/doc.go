// Package logger expone un zap.Logger de proceso con scoping por contexto.
//
//   - Init(Config) una vez en main; L()/Named() en cualquier parte.
//   - Los middlewares HTTP inyectan un logger con request_id/actor_id via ToContext.
//   - From(ctx) cae al singleton si el contexto no trae logger.
//   - "dev" usa consola con colores, "prod" JSON. Nivel via LOG_LEVEL.
//
// Uso:
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "leopass"})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Info("scan processed", logger.JTI(jti), logger.Action("check_in"))
package logger
