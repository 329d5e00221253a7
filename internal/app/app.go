package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/clash"
	"github.com/MrSnakeDoc/relayswitch/internal/config"
	"github.com/MrSnakeDoc/relayswitch/internal/engine"
	"github.com/MrSnakeDoc/relayswitch/internal/history"
	"github.com/MrSnakeDoc/relayswitch/internal/httpserver"
	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/metrics"
	"github.com/MrSnakeDoc/relayswitch/internal/monitor"
	"github.com/MrSnakeDoc/relayswitch/internal/probe"
	"github.com/MrSnakeDoc/relayswitch/internal/redis"
	"github.com/MrSnakeDoc/relayswitch/internal/scheduler"
	"github.com/MrSnakeDoc/relayswitch/internal/utils"
	"github.com/MrSnakeDoc/relayswitch/internal/version"
)

type App struct {
	cfg     *config.Config
	logger  logger.Logger
	store   *history.Store
	engine  *engine.Engine
	metrics *metrics.Recorder
}

// New opens the configured history backend and builds the engine. The
// caller must Close the app.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	backend, err := OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("history backend ready", logger.String("backend", backend.Name()))

	rec := metrics.New()
	store := history.NewStore(backend, log)
	eng := engine.New(store, engine.WithLogger(log), engine.WithMetrics(rec))

	return &App{
		cfg:     cfg,
		logger:  log,
		store:   store,
		engine:  eng,
		metrics: rec,
	}, nil
}

// OpenBackend connects the history backend named by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (history.Backend, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return history.NewFileBackend(cfg.HistoryFile), nil

	case config.BackendRedis:
		log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.Connect(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return history.NewRedisBackend(client, cfg.RedisKey), nil

	case config.BackendBadger:
		b, err := history.OpenBadger(history.DefaultBadgerConfig(cfg.BadgerDir), log)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Close() {
	utils.CloseLogged(a.store, "history backend", a.logger)
}

// Run monitors every enabled task of tf until ctx is done, or until every
// task has succeeded once when once is set. It also serves the HTTP API
// and prunes the history in the background.
func (a *App) Run(ctx context.Context, tf *config.TaskFile, once bool) error {
	a.logger.Infof("🚀 Starting relayswitch %s", version.String())

	ctl, err := clash.NewClient(clash.Options{
		Controller: tf.Clash.Controller,
		Secret:     tf.Clash.Secret,
	})
	if err != nil {
		return err
	}
	if v, err := ctl.Version(ctx); err != nil {
		a.logger.Warn("controller not reachable yet",
			logger.String("controller", ctl.BaseURL()),
			logger.Error(err))
	} else {
		a.logger.Info("controller reachable",
			logger.String("controller", ctl.BaseURL()),
			logger.String("version", v))
	}

	prober, err := probe.New(probe.Options{
		ProxyURL: tf.Clash.HTTPProxy,
		Timeout:  a.cfg.ProbeTimeout,
	})
	if err != nil {
		return err
	}

	pruner := scheduler.NewPruner(a.engine, a.logger, a.cfg.PruneInterval)
	pruner.Start(ctx)
	defer pruner.Stop()
	a.logger.Info("history pruner started", logger.Duration("interval", a.cfg.PruneInterval))

	var server *httpserver.Server
	errCh := make(chan error, 1)
	if a.cfg.APIEnabled {
		server = httpserver.New(a.cfg.ListenAddr, deps.Deps{
			Logger:       a.logger,
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			AllowedCIDRS: a.cfg.AllowedCIDRS,
			TrustProxy:   a.cfg.TrustProxy,
			Engine:       a.engine,
			Backend:      a.store.Backend(),
			Metrics:      a.metrics,
			PruneTrigger: pruner.Trigger,
		})
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
	}

	settings := monitor.Settings{
		Interval:     tf.Monitoring.Interval(),
		MaxRotations: tf.Monitoring.MaxRotations,
		Once:         once || tf.Monitoring.Once,
		VerifyCount:  tf.Monitoring.VerifyCount,
	}
	sup := monitor.NewSupervisor(settings, monitor.Deps{
		Engine:     a.engine,
		Controller: ctl,
		Prober:     prober,
		Metrics:    a.metrics,
		Log:        a.logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	supCh := make(chan error, 1)
	go func() { supCh <- sup.Run(runCtx, Tasks(tf)) }()

	var runErr error
	select {
	case runErr = <-supCh:
		if runErr == nil && ctx.Err() == nil {
			a.logger.Info("✅ every task succeeded")
		}
	case runErr = <-errCh:
		cancel()
		<-supCh
	}
	if ctx.Err() != nil {
		a.logger.Info("⏳ Shutting down gracefully...")
	}

	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer stop()
		if err := server.Stop(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("failed to stop server: %w", err))
		}
	}

	a.logger.Info("✅ relayswitch stopped cleanly")
	return runErr
}

// Tasks converts the task file entries to monitor tasks.
func Tasks(tf *config.TaskFile) []monitor.Task {
	tasks := make([]monitor.Task, 0, len(tf.Tasks))
	for _, t := range tf.Tasks {
		tasks = append(tasks, monitor.Task{
			Name:    t.Name,
			Group:   t.GroupName,
			Service: t.Service,
			Enabled: t.IsEnabled(),
		})
	}
	return tasks
}
