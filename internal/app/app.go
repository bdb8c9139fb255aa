package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/coordinator"
	"github.com/ternarybob/harvester/internal/services/crawler"
	"github.com/ternarybob/harvester/internal/services/identity"
	"github.com/ternarybob/harvester/internal/services/output"
	"github.com/ternarybob/harvester/internal/services/scheduler"
	"github.com/ternarybob/harvester/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Collaborators
	Fetcher    interfaces.Fetcher
	Discoverer interfaces.Discoverer
	Extractor  interfaces.Extractor
	Sink       *output.FileSink

	Coordinator      *coordinator.Coordinator
	SchedulerService *scheduler.Service
}

// New initializes the application with all dependencies. No browser is started until the
// first page is fetched.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Int("node_id", cfg.Coordinator.NodeID).
		Int("total_nodes", cfg.Coordinator.TotalNodes).
		Str("ledger", cfg.Storage.Ledger).
		Str("progress", cfg.Storage.Progress).
		Str("fetch_mode", app.Fetcher.Mode()).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initStorage() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	crawlerConfig := &a.Config.Crawler

	a.Fetcher = crawler.NewLazyFetcher(crawler.NewFetcherConfig(crawlerConfig), a.Logger)
	a.Discoverer = crawler.NewCatalogDiscoverer(
		a.Fetcher,
		crawlerConfig.BaseURL,
		crawlerConfig.MaxPagesPerSubject,
		crawlerConfig.MaxCoursesPerSubject,
		a.Logger,
	)
	a.Extractor = crawler.NewCourseExtractor(a.Fetcher, a.Logger)

	sink, err := output.NewFileSink(&a.Config.Output, a.Logger)
	if err != nil {
		return err
	}
	a.Sink = sink

	c, err := coordinator.New(
		a.StorageManager.LedgerStorage(),
		a.StorageManager.ProgressStorage(),
		coordinator.Collaborators{
			Discoverer: a.Discoverer,
			Extractor:  a.Extractor,
			Sink:       a.Sink,
		},
		coordinator.OptionsFromConfig(&a.Config.Coordinator),
		a.Logger,
	)
	if err != nil {
		return err
	}
	a.Coordinator = c
	return nil
}

// Seeds returns seeds, or the configured seeds when none are given
func (a *App) Seeds(seeds []string) []string {
	if len(seeds) > 0 {
		return seeds
	}
	return a.Config.Crawler.Seeds
}

// SessionID derives the session id for seeds (or the configured seeds)
func (a *App) SessionID(seeds []string) (string, error) {
	return identity.DeriveSessionID(a.Seeds(seeds))
}

// RunSession runs one session to completion, interruption or abort
func (a *App) RunSession(ctx context.Context, seeds []string) (*models.SessionSummary, error) {
	return a.Coordinator.Run(ctx, a.Seeds(seeds))
}

// StartScheduler runs sessions over the configured seeds on the [schedule] cron expression
func (a *App) StartScheduler() error {
	a.SchedulerService = scheduler.NewService(func(ctx context.Context) error {
		_, err := a.RunSession(ctx, nil)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}, a.Logger)

	return a.SchedulerService.Start(a.Config.Schedule.Cron, a.Config.Schedule.RunOnStart)
}

// Close closes all application resources
func (a *App) Close() error {
	var errs []error

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
			errs = append(errs, err)
		}
	}

	if a.Fetcher != nil {
		if err := a.Fetcher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close fetcher")
			errs = append(errs, err)
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
