package main

import (
	"context"
	"fmt"
	"log/slog"

	"vizflow/internal/agent"
	"vizflow/internal/compute"
	"vizflow/internal/config"
	"vizflow/internal/datasource"
	"vizflow/internal/domain"
)

// newRouter builds the dataset source router with an opener for every
// object store that has credentials. The returned close func releases
// client resources.
func newRouter(ctx context.Context, cfg *config.Config) (*datasource.Router, func(), error) {
	router := datasource.NewRouter()
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.S3.Configured() {
		s3o, err := datasource.NewS3Opener(datasource.S3Config{
			Endpoint: cfg.S3.Endpoint,
			Region:   cfg.S3.Region,
			KeyID:    cfg.S3.KeyID,
			Secret:   cfg.S3.Secret,
			URLStyle: cfg.S3.URLStyle,
		})
		if err != nil {
			return nil, closeAll, fmt.Errorf("s3 source: %w", err)
		}
		router.S3 = s3o
	}
	if cfg.GCS.Configured() || cfg.GCS.Endpoint != "" {
		gcso, err := datasource.NewGCSOpener(ctx, datasource.GCSConfig{
			CredentialsFile: cfg.GCS.CredentialsFile,
			Endpoint:        cfg.GCS.Endpoint,
		})
		if err != nil {
			return nil, closeAll, fmt.Errorf("gcs source: %w", err)
		}
		router.GCS = gcso
		closers = append(closers, func() { _ = gcso.Close() })
	}
	if cfg.Azure.Configured() {
		azo, err := datasource.NewAzureOpener(datasource.AzureConfig{
			AccountName: cfg.Azure.AccountName,
			AccountKey:  cfg.Azure.AccountKey,
			ServiceURL:  cfg.Azure.ServiceURL,
		})
		if err != nil {
			return nil, closeAll, fmt.Errorf("azure source: %w", err)
		}
		router.Azure = azo
	}
	return router, closeAll, nil
}

// loadDatasets reads the manifest named by DATASETS_FILE. No manifest means
// no datasets.
func loadDatasets(ctx context.Context, cfg *config.Config, opener datasource.Opener, logger *slog.Logger) ([]domain.Dataset, error) {
	if cfg.DatasetsFile == "" {
		return nil, nil
	}
	m, err := datasource.LoadManifest(cfg.DatasetsFile)
	if err != nil {
		return nil, err
	}
	return datasource.NewLoader(opener, logger).Load(ctx, m)
}

// reloadDatasets reloads the manifest into backend. Failures keep the
// previous datasets.
func reloadDatasets(ctx context.Context, cfg *config.Config, opener datasource.Opener, backend agent.Backend, logger *slog.Logger) {
	datasets, err := loadDatasets(ctx, cfg, opener, logger)
	if err != nil {
		logger.Error("reload datasets", "error", err)
		return
	}
	if err := backend.Reload(ctx, datasets...); err != nil {
		logger.Error("reload datasets", "error", err)
		return
	}
	logger.Info("datasets reloaded", "datasets", len(datasets))
}

// newBackend creates the configured backend holding datasets. The returned
// close func releases the DuckDB handle, if any.
func newBackend(ctx context.Context, cfg *config.Config, datasets []domain.Dataset, logger *slog.Logger) (agent.Backend, func() error, error) {
	noop := func() error { return nil }
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backend != config.BackendDuckDB {
		return agent.NewMemoryBackend(compute.Engine{Logger: logger}, datasets...), noop, nil
	}

	db, err := agent.OpenDuckDB("")
	if err != nil {
		return nil, noop, err
	}
	if cfg.MaxMemoryGB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET max_memory='%dGB'", cfg.MaxMemoryGB)); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("set max_memory: %w", err)
		}
		logger.Info("memory limit set", "max_memory_gb", cfg.MaxMemoryGB)
	}
	backend := agent.NewDuckDBBackend(db)
	if err := backend.Load(ctx, datasets...); err != nil {
		_ = db.Close()
		return nil, noop, err
	}
	return backend, db.Close, nil
}
