// Package daemon composes the bridge process: configuration, lock,
// store, provider adapter, session actor and gateway, wired through fx
// lifecycle hooks.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/season179/wabridge/internal/bus"
	"github.com/season179/wabridge/internal/config"
	"github.com/season179/wabridge/internal/engine"
	"github.com/season179/wabridge/internal/gateway"
	"github.com/season179/wabridge/internal/lock"
	"github.com/season179/wabridge/internal/logging"
	"github.com/season179/wabridge/internal/provider"
	"github.com/season179/wabridge/internal/session"
	"github.com/season179/wabridge/internal/store"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override; empty = use config value
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideAdapter,
			provideSupervisor,
			provideActor,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// First run without a config file uses defaults.
		cfg = config.Default()
	}
	logger.Info("configuration loaded", zap.String("listen_addr", cfg.ListenAddr))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, logger *zap.Logger) (provider.Client, error) {
	adapter, err := provider.NewAdapter(context.Background(), p.SessionName, logger)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

func provideSupervisor(cfg *config.Config) *engine.Supervisor {
	return engine.NewSupervisor(
		cfg.Reconnect.MaxAttempts,
		cfg.Reconnect.FirstDelay(),
		cfg.Reconnect.RetryDelay(),
	)
}

func provideActor(db *store.DB, client provider.Client, b *bus.Bus, sup *engine.Supervisor, logger *zap.Logger) *engine.Actor {
	return engine.NewActor(db, client, b, sup, engine.RealClock(), logger)
}

func provideServer(p Params, cfg *config.Config, actor *engine.Actor, db *store.DB, b *bus.Bus, logger *zap.Logger) *gateway.Server {
	addr := cfg.ListenAddr
	if p.ListenAddr != "" {
		addr = p.ListenAddr
	}
	return gateway.NewServer(addr, p.SessionName, actor, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *gateway.Server, lk *lock.Lock, client provider.Client, actor *engine.Actor, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The actor owns provider initialization; it runs on its
			// own goroutine from here on.
			actor.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gateway server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("gateway shutdown error", zap.Error(err))
			}
			actor.Stop()
			if err := client.Destroy(ctx); err != nil {
				logger.Warn("provider teardown error", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close error", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
