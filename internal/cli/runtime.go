package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	_ "github.com/mattn/go-sqlite3"

	"go-report-pipeline/internal/config"
	"go-report-pipeline/internal/dispatch"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/internal/token"
	"go-report-pipeline/pkg/utils"
)

// runtime holds the collaborators shared by all commands.
type runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	sourceDB   *sql.DB
	outputs    *utils.OutputManager
	worker     *pipeline.Worker
	spawner    dispatch.Spawner
	dispatcher *dispatch.Dispatcher
}

func newRuntime(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &runtime{cfg: cfg, logger: logger, outputs: utils.NewOutputManager(cfg.OutputDir)}

	var err error
	if rt.store, err = store.Open(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if cfg.SourceDBPath != "" {
		if rt.sourceDB, err = sql.Open("sqlite3", "file:"+cfg.SourceDBPath+"?mode=ro"); err != nil {
			rt.close()
			return nil, fmt.Errorf("open source database: %w", err)
		}
	}

	catalog, err := pipeline.LoadCatalog(cfg.CatalogPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("report catalog not found, no reports can be started", "file", cfg.CatalogPath)
		catalog = pipeline.Catalog{}
	case err != nil:
		rt.close()
		return nil, err
	}

	sources := &pipeline.Sources{DB: rt.sourceDB, BaseDir: cfg.SourceDir}
	rt.worker = pipeline.NewWorker(rt.store, sources, pipeline.Options{
		Policy: pipeline.CheckpointPolicy{
			SmallJobLimit:  cfg.SmallJobLimit,
			LargeJobLimit:  cfg.LargeJobLimit,
			MediumInterval: cfg.MediumInterval,
			LargeInterval:  cfg.LargeInterval,
			MinElapsed:     cfg.CheckpointElapsed,
		},
		Heartbeat: cfg.HeartbeatInterval,
		Logger:    logger,
	})

	switch cfg.SpawnMode {
	case config.SpawnProcess:
		rt.spawner = &dispatch.ProcessSpawner{Logger: logger}
	default:
		rt.spawner = dispatch.NewGoroutineSpawner(rt.worker, rt.store, logger)
	}

	rt.dispatcher = dispatch.New(rt.store, token.NewGate(rt.store, cfg.TokenCacheTTL), catalog, sources,
		rt.spawner, rt.outputs, dispatch.Options{
			StaleAfter:  cfg.StaleAfter,
			JobTTL:      cfg.JobTTL,
			MaxPageSize: cfg.MaxPageSize,
		}, logger)
	return rt, nil
}

// wait blocks until in-process workers have finished.
func (rt *runtime) wait() {
	if s, ok := rt.spawner.(*dispatch.GoroutineSpawner); ok {
		rt.logger.Info("waiting for running workers")
		s.Wait()
	}
}

func (rt *runtime) close() error {
	var result *multierror.Error
	if rt.sourceDB != nil {
		if err := rt.sourceDB.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close source database: %w", err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close job store: %w", err))
		}
	}
	return result.ErrorOrNil()
}
