package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/subgate-microservice/subgate-sub000/internal/data/db"
	"github.com/subgate-microservice/subgate-sub000/internal/data/uow"
	httpserver "github.com/subgate-microservice/subgate-sub000/internal/http"
	"github.com/subgate-microservice/subgate-sub000/internal/observability"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
	"github.com/subgate-microservice/subgate-sub000/internal/realtime/bus"
)

type App struct {
	Log     *logger.Logger
	Cfg     Config
	DB      *db.Service
	Metrics *observability.Metrics
	Bus     bus.Bus
	UoW     *uow.Factory
	Router  *gin.Engine

	server       *httpserver.Server
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, cfg.OTel)

	a.DB, err = db.Open(cfg.DB, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init db: %w", err)
	}

	if cfg.MetricsEnabled {
		a.Metrics, err = observability.NewMetrics()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	a.Bus, err = wireBus(log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := uow.Deps{
		DB:        a.DB.DB(),
		Log:       log,
		Publisher: a.Bus,
	}
	if a.Metrics != nil {
		deps.Hooks = observability.NewUowHooks(a.Metrics)
	}
	a.UoW, err = uow.NewFactory(deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init unit of work factory: %w", err)
	}

	a.server, err = wireServer(log, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = a.server.Engine
	return a, nil
}

func wireBus(log *logger.Logger, cfg Config) (bus.Bus, error) {
	if !cfg.Redis.Enabled {
		log.Info("Redis disabled, publishing events in process")
		return bus.NewMemoryBus(log), nil
	}
	b, err := bus.NewRedisBus(log, cfg.Redis.RedisConfig)
	if err != nil {
		return nil, fmt.Errorf("init redis bus: %w", err)
	}
	return b, nil
}

// Run serves HTTP and, when configured, purges old logs until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTP.Addr)
		return a.server.Run(ctx, a.Cfg.HTTP.Addr, a.Cfg.HTTP.ShutdownTimeout)
	})
	if a.Cfg.Retention.MaxAge > 0 {
		g.Go(func() error {
			a.runRetention(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) runRetention(ctx context.Context) {
	ticker := time.NewTicker(a.Cfg.Retention.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-a.Cfg.Retention.MaxAge)
			if _, err := a.UoW.Store().PurgeBefore(ctx, nil, cutoff); err != nil {
				a.Log.Warn("Log retention failed", "cutoff", cutoff, "error", err)
			}
		}
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn("Closing event bus failed", "error", err)
		}
	}
	if a.Metrics != nil {
		_ = a.Metrics.Shutdown(ctx)
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn("Closing db failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
