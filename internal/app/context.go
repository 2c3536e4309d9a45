package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tidyplan/internal/config"
	"tidyplan/internal/domain"
	"tidyplan/internal/repo"
)

// ResolveDatasetAndConfig picks the active dataset and ensures a dataset +
// config exist in DB, seeding defaults if missing. It prefers overrides, then
// single-dataset DB. If the dataset does not exist, it is created on the fly.
func ResolveDatasetAndConfig(ctx context.Context, workspace, datasetOverride string, r repo.Repo) (string, *config.Config, error) {
	datasetID := datasetOverride
	if datasetID == "" {
		if d, err := r.SingleDataset(ctx); err == nil {
			datasetID = d.ID
		} else {
			return "", nil, fmt.Errorf("dataset not specified; use --dataset")
		}
	}
	seedCfg := config.Default(datasetID)

	if _, err := r.GetDataset(ctx, datasetID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createDataset(ctx, r, datasetID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetDatasetConfig(ctx, datasetID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			now := time.Now().UTC().Format(time.RFC3339)
			tx, txErr := r.DB.BeginTx(ctx, nil)
			if txErr != nil {
				return "", nil, txErr
			}
			defer tx.Rollback()
			if err := r.UpsertDatasetConfig(ctx, tx, datasetID, now, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed dataset config: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return "", nil, err
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Dataset.ID = datasetID
	return datasetID, cfg, nil
}

// createDataset inserts a minimal dataset footprint using the seed config.
func createDataset(ctx context.Context, r repo.Repo, datasetID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(datasetID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	d := domain.Dataset{
		ID:        datasetID,
		Name:      datasetID,
		Status:    "draft",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.InsertDataset(ctx, tx, d); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	if err := r.UpsertDatasetConfig(ctx, tx, datasetID, now, seedCfg); err != nil {
		return fmt.Errorf("insert dataset config: %w", err)
	}
	return tx.Commit()
}
