package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	apphttp "github.com/yungbote/videoreview-backend/internal/http"
	"github.com/yungbote/videoreview-backend/internal/observability"
	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Server   *apphttp.Server
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg, err := LoadConfig()
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)
	metrics := observability.Init(log)

	clients, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	theDB := clients.DB.DB()
	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, clients, reposet)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}
	if cfg.ServesAPI() {
		a.Server = wireServer(log, cfg, wireHandlers(log, theDB, cfg, serviceset), metrics)
	}
	return a, nil
}

// Run blocks until ctx is cancelled or a component fails, then stops everything it started.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return errors.New("app not initialized")
	}
	g, ctx := errgroup.WithContext(ctx)

	if a.Metrics != nil {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Cfg.Redis.Addr)
	}

	if a.Clients.Bus != nil && a.Cfg.ServesAPI() {
		log := a.Log.With("component", "job_events")
		if err := a.Clients.Bus.StartForwarder(ctx, func(m realtime.Message) {
			log.Debug("job event", "owner", m.Channel, "event", m.Event, "data", m.Data)
		}); err != nil {
			return fmt.Errorf("subscribe job events: %w", err)
		}
	}

	if a.Cfg.RunsJobs() {
		if err := a.Clients.Media.AssertReady(ctx); err != nil {
			return fmt.Errorf("media tools: %w", err)
		}
		switch {
		case a.Services.TemporalRunner != nil:
			if err := a.Services.TemporalRunner.Start(ctx); err != nil {
				return fmt.Errorf("start temporal worker: %w", err)
			}
		case a.Services.JobWorker != nil:
			a.Services.JobWorker.Start(ctx)
			g.Go(func() error {
				<-ctx.Done()
				a.Services.JobWorker.Wait()
				return nil
			})
		}
	}

	if a.Server != nil {
		g.Go(func() error {
			a.Log.Info("HTTP server listening", "addr", a.Cfg.Addr)
			return a.Server.Run(ctx, a.Cfg.Addr)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
