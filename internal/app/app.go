// -----------------------------------------------------------------------
// App - composition root owning every component handle
// -----------------------------------------------------------------------

package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/providers/brightdata"
	"github.com/ternarybob/colligo/internal/providers/vision"
	"github.com/ternarybob/colligo/internal/services/aggregation"
	"github.com/ternarybob/colligo/internal/services/jobs"
	"github.com/ternarybob/colligo/internal/services/media"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/storage/badger"
	"github.com/ternarybob/colligo/internal/storage/sqlite"
	"github.com/ternarybob/colligo/internal/workers"
)

// App wires storage, providers, workers and services together. Components
// start in dependency order and shut down in reverse.
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage interfaces.StorageManager

	cacheDB *badger.BadgerDB
	Cache   interfaces.SummaryCache

	Provider   interfaces.AcquisitionProvider
	Classifier interfaces.Classifier
	Engine     *aggregation.Engine
	Media      interfaces.MediaStore

	Collector        *workers.Collector
	ClassifierWorker *workers.ClassifierWorker
	Scheduler        *scheduler.Runner

	JobService interfaces.JobService
}

// New initializes the application: storage, then providers, then workers,
// then services. Nothing is started yet; call Start after New succeeds.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
	}
	a.Storage = storage

	cacheDB, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize summary cache: %w", err)
	}
	a.cacheDB = cacheDB
	a.Cache = badger.NewSummaryCache(cacheDB, logger)

	a.Provider = brightdata.NewClient(
		config.BrightData.APIToken,
		brightdata.WithBaseURL(config.BrightData.BaseURL),
		brightdata.WithRateLimit(config.BrightData.RateLimit),
		brightdata.WithLogger(logger),
	)
	a.Classifier = vision.NewProvider(&config.Claude, &config.Gemini, &config.LLM, logger)
	a.Engine = aggregation.NewEngine(storage.Results(), storage.Overrides(), logger)

	if config.Media.Enabled {
		store, err := media.NewStore(&config.Media, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Media store unavailable; re-hosting disabled")
		} else {
			a.Media = store
		}
	}

	a.Collector = workers.NewCollector(storage, a.Provider, a.Media, config, logger)
	a.ClassifierWorker = workers.NewClassifierWorker(storage, a.Classifier, a.Engine, a.Cache, config, logger)
	a.Scheduler = scheduler.NewRunner(storage.Schedules(), storage.CollectionJobs(), config, logger)

	a.JobService = jobs.NewService(storage, a.Engine, a.Cache, a.Collector, a.ClassifierWorker, logger)

	logger.Info().Msg("Application initialized")
	return a, nil
}

// Start brings up the background loops: workers first, scheduler last so it
// never enqueues into a queue nothing is draining.
func (a *App) Start() error {
	if err := a.Collector.Start(); err != nil {
		return fmt.Errorf("failed to start collector: %w", err)
	}
	if err := a.ClassifierWorker.Start(); err != nil {
		return fmt.Errorf("failed to start classifier worker: %w", err)
	}
	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start schedule runner: %w", err)
		}
	} else {
		a.Logger.Info().Msg("Schedule runner disabled by configuration")
	}

	a.Logger.Info().Msg("Application started")
	return nil
}

// Close shuts everything down in reverse startup order
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Schedule runner stop failed")
		}
	}
	if a.ClassifierWorker != nil {
		if err := a.ClassifierWorker.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Classifier worker stop failed")
		}
	}
	if a.Collector != nil {
		if err := a.Collector.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Collector stop failed")
		}
	}

	if a.cacheDB != nil {
		if err := a.cacheDB.RunGC(); err != nil {
			a.Logger.Warn().Err(err).Msg("Cache value log GC failed")
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Summary cache close failed")
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
