// Package app composes the client's components with fx.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/cache"
	"github.com/matheus3301/handychat/internal/config"
	"github.com/matheus3301/handychat/internal/lock"
	"github.com/matheus3301/handychat/internal/logging"
	"github.com/matheus3301/handychat/internal/media"
	"github.com/matheus3301/handychat/internal/outbox"
	"github.com/matheus3301/handychat/internal/push"
	"github.com/matheus3301/handychat/internal/readstate"
	"github.com/matheus3301/handychat/internal/session"
	"github.com/matheus3301/handychat/internal/store"
	intsync "github.com/matheus3301/handychat/internal/sync"
	"github.com/matheus3301/handychat/internal/tracing"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// ServiceName is reported as the trace resource and HTTP user agent default.
const ServiceName = "handychat"

// Params holds what the entry point resolved before the graph is built.
type Params struct {
	Profile    string
	ConfigPath string // empty = session.ConfigPath()
	Command    string // recorded in the profile lock
	Exclusive  bool   // take the profile lock; the interactive client does
	Console    bool   // log to stderr as well as the log file
}

// Module returns the fx module wiring every client component.
func Module(p Params) fx.Option {
	return fx.Module("handychat",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideClock,
			provideBus,
			provideLock,
			provideStore,
			provideSession,
			provideOnboarding,
			provideTracing,
			provideAPI,
			provideCache,
			providePreparer,
			providePipeline,
			provideTracker,
			provideEngine,
			provideRegistrar,
			provideWatcher,
			newClient,
		),
		fx.Invoke(registerLifecycle),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Path:    session.LogPath(p.Profile),
		Profile: p.Profile,
		Level:   cfg.Log.Level,
		Console: p.Console || cfg.Log.Console,
	})
}

func provideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideLock returns a nil lock for non-exclusive commands.
func provideLock(p Params, logger *zap.Logger) (*lock.ProfileLock, error) {
	if !p.Exclusive {
		return nil, nil
	}
	l, err := lock.Acquire(session.Dir(p.Profile), p.Command)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("command", p.Command))
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	path := session.DBPath(p.Profile)
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store ready",
		zap.String("path", path),
		zap.Uint("version", result.Version),
		zap.Bool("migrated", result.Changed))
	return db, nil
}

func provideSession(db *store.DB, clock clockwork.Clock, logger *zap.Logger) *session.Session {
	return session.New(db, clock, logger)
}

func provideOnboarding(db *store.DB) *session.Onboarding {
	return session.NewOnboarding(db)
}

func provideTracing(p Params, cfg *config.Config, logger *zap.Logger) (*tracing.Provider, error) {
	var w io.Writer = io.Discard
	if cfg.Tracing.Exporter == tracing.ExporterStdout {
		// The terminal belongs to the UI; spans go next to the log file.
		f, err := os.OpenFile(filepath.Join(session.LogDir(p.Profile), "traces.jsonl"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		w = f
	}
	return tracing.Setup(context.Background(), cfg.Tracing, ServiceName, w, logger)
}

func provideAPI(cfg *config.Config, sess *session.Session, logger *zap.Logger) *api.Client {
	return api.New(api.Options{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout.Duration,
		GetRetries: cfg.API.GetRetries,
		UserAgent:  cfg.API.UserAgent,
		Logger:     logger.Named("api"),
	}, sess)
}

func provideCache(client *api.Client, cfg *config.Config, clock clockwork.Clock, b *bus.Bus, logger *zap.Logger) *cache.Cache {
	return cache.New(client, cache.Options{
		StaleAfter:     cfg.Cache.StaleAfter.Duration,
		IdleEvictAfter: cfg.Cache.IdleEvictAfter.Duration,
		MaxThreads:     cfg.Cache.MaxThreads,
		SweepInterval:  cfg.Cache.SweepInterval.Duration,
		Clock:          clock,
		Bus:            b,
		Logger:         logger.Named("cache"),
	})
}

func providePreparer(p Params, cfg *config.Config, logger *zap.Logger) *media.Preparer {
	ff := media.FFmpeg{FFmpegPath: cfg.Attachments.FFmpegPath, FFprobePath: cfg.Attachments.FFprobePath}
	return media.NewPreparer(media.PolicyFromConfig(cfg.Attachments), ff, ff,
		session.CacheDir(p.Profile), logger.Named("media"))
}

func providePipeline(client *api.Client, c *cache.Cache, sess *session.Session, cfg *config.Config, clock clockwork.Clock, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.New(client, c, outbox.Options{
		UploadConcurrency: cfg.Outbox.UploadConcurrency,
		SelfID:            sess.UserID,
		Clock:             clock,
		Bus:               b,
		Logger:            logger.Named("outbox"),
	})
}

func provideTracker(client *api.Client, c *cache.Cache, cfg *config.Config, clock clockwork.Clock, b *bus.Bus, logger *zap.Logger) *readstate.Tracker {
	return readstate.New(client, c, readstate.Options{
		Dwell:          cfg.ReadState.Dwell.Duration,
		CoalesceWindow: cfg.ReadState.CoalesceWindow.Duration,
		Clock:          clock,
		Bus:            b,
		Logger:         logger.Named("readstate"),
	})
}

func provideEngine(c *cache.Cache, cfg *config.Config, clock clockwork.Clock, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(c, b, clock, cfg.Sync.PollInterval.Duration, logger.Named("sync"))
}

func provideRegistrar(client *api.Client, db *store.DB, logger *zap.Logger) *push.Registrar {
	return push.NewRegistrar(client, db, logger.Named("push"))
}

// provideWatcher reloads the attachment policy when the config file changes.
// Other sections need a restart.
func provideWatcher(p Params, preparer *media.Preparer, b *bus.Bus, logger *zap.Logger) *config.Watcher {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.NewWatcher(path, func(cfg *config.Config) {
		preparer.SetPolicy(media.PolicyFromConfig(cfg.Attachments))
		b.Emit(bus.KindConfigReloaded, cfg)
	}, logger.Named("config"))
}

type lifecycleDeps struct {
	fx.In

	Params    Params
	Config    *config.Config
	Lock      *lock.ProfileLock
	Store     *store.DB
	Session   *session.Session
	Tracing   *tracing.Provider
	Cache     *cache.Cache
	Pipeline  *outbox.Pipeline
	Tracker   *readstate.Tracker
	Engine    *intsync.Engine
	Registrar *push.Registrar
	Watcher   *config.Watcher
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	runCtx, cancel := context.WithCancel(context.Background())
	watcherDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Session.Restore(ctx); err != nil {
				return err
			}
			if token := os.Getenv(config.EnvToken); token != "" && !d.Session.Active() {
				if err := d.Session.Initialize(ctx, token); err != nil {
					d.Logger.Warn("ignoring token from environment", zap.Error(err))
				}
			}
			d.Session.OnTeardown(d.Registrar.TeardownHook)
			// Nothing of the previous user survives a logout. The pipeline
			// settles first so its last writes land before the cache is wiped.
			d.Session.OnTeardown(func(context.Context) {
				d.Pipeline.Reset()
				d.Tracker.Reset()
				d.Cache.Reset()
			})

			d.Cache.Start()
			d.Pipeline.Start(runCtx)
			if d.Params.Exclusive {
				// Only the long-running client polls and follows the config file.
				d.Engine.Start(runCtx)
				go func() {
					defer close(watcherDone)
					if err := d.Watcher.Run(runCtx); err != nil {
						d.Logger.Warn("config watcher stopped", zap.Error(err))
					}
				}()
			} else {
				close(watcherDone)
			}
			d.Logger.Info("client started",
				zap.String("api", d.Config.API.BaseURL),
				zap.Bool("logged_in", d.Session.Active()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-watcherDone
			d.Engine.Stop()
			d.Pipeline.Stop()
			d.Tracker.Close()
			d.Cache.Stop()
			if err := d.Tracing.Shutdown(ctx); err != nil {
				d.Logger.Warn("tracing shutdown", zap.Error(err))
			}
			if err := d.Store.Close(); err != nil {
				d.Logger.Warn("closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("releasing profile lock", zap.Error(err))
			}
			d.Logger.Info("client stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
