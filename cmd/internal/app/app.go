// Package app wires the perch server runtime: config, logging, storage, and
// the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"perch/cmd/identity"
	authapi "perch/cmd/internal/auth/api"
	"perch/cmd/internal/auth/guard"
	"perch/cmd/internal/auth/session"
	"perch/cmd/security/password"
)

// App is the perch server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool
	rdb       *redis.Client

	auth    *authapi.Handler
	sweeper *session.Sweeper
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}

	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled", "reason", "PERCH_DATABASE_URL not set")
		return a, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbPool = pool
	a.dbEnabled = true

	a.rdb = NewRedisClient(ctx, cfg, log)

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, sessCfg.RelaxedMode); err != nil {
		pool.Close()
		return nil, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}

	idStore, err := identity.NewPostgresStore(pool, pwCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	verifier, err := identity.NewVerifier(idStore, pwCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	tokens, err := session.NewTokenIssuer(sessCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	var (
		cache    session.Cache    = session.NoopCache{}
		denylist session.Denylist = session.NoopDenylist{}
	)
	if a.rdb != nil {
		cache = session.NewRedisCache(a.rdb)
		denylist = session.NewRedisDenylist(a.rdb)
	}

	liveness := session.StoreLiveness{Store: idStore}
	refreshStore := session.NewPostgresRefreshStore(pool)
	sessionStore := session.NewPostgresSessionStore(pool)

	apiCfg := authapi.LoadConfigFromEnv()
	auditor := authapi.NewAuditor(log, pool, apiCfg.AuditEnabled)

	sessionSvc := session.NewService(sessCfg, tokens, refreshStore, sessionStore, cache, denylist, liveness, log)
	monitor := session.NewMonitor(sessCfg, tokens, refreshStore, sessionStore, cache, denylist, liveness, auditor, log)
	a.sweeper = session.NewSweeper(refreshStore, monitor, cfg.SweepInterval, log)

	guardCfg, err := guard.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	attempts := guard.New(guardCfg, guard.NewPostgresStore(pool))

	a.auth = authapi.NewHandler(log, apiCfg, verifier, sessionSvc, monitor, attempts, auditor)

	return a, nil
}

// Run starts the HTTP server and the background sweeper, and blocks until
// context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "redis_enabled", a.rdb != nil)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if a.sweeper != nil {
		go a.sweeper.Run(sweepCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.close()
	return err
}

func (a *App) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}
