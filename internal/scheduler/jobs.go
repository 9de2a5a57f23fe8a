package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"soilwatch/internal/types"
)

// GranuleFetcher abstracts the SMAP download-and-decode cycle so the
// job can be tested without network or HDF5 dependencies.
type GranuleFetcher interface {
	Fetch(ctx context.Context) ([]types.SoilMoistureRecord, error)
}

// RecordWriter abstracts the storage upsert the ingestion job needs.
type RecordWriter interface {
	Upsert(ctx context.Context, records []types.SoilMoistureRecord) error
}

// UpdateChecker abstracts the secure-update check.
type UpdateChecker interface {
	CheckForUpdate(ctx context.Context) (types.UpdateOutcome, error)
}

// NewIngestionTask builds the recurring SMAP ingestion job: fetch the
// granule, decode it, and upsert every record. A failed cycle leaves
// the previous day's data untouched.
func NewIngestionTask(fetcher GranuleFetcher, writer RecordWriter, interval time.Duration, logger *slog.Logger) Task {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("task", "smap_ingestion")

	return Task{
		Name:     "smap_ingestion",
		Interval: interval,
		Run: func(ctx context.Context) error {
			records, err := fetcher.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetching granule: %w", err)
			}
			if err := writer.Upsert(ctx, records); err != nil {
				return fmt.Errorf("storing %d records: %w", len(records), err)
			}
			logger.InfoContext(ctx, "ingestion cycle stored records", "records", len(records))
			return nil
		},
	}
}

// NewUpdateCheckTask builds the recurring secure-update check job.
func NewUpdateCheckTask(checker UpdateChecker, interval time.Duration, logger *slog.Logger) Task {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("task", "update_check")

	return Task{
		Name:     "update_check",
		Interval: interval,
		Run: func(ctx context.Context) error {
			outcome, err := checker.CheckForUpdate(ctx)
			if err != nil {
				return fmt.Errorf("checking for updates: %w", err)
			}
			logger.InfoContext(ctx, "update check finished",
				"status", string(outcome.Status),
				"applied", outcome.Applied,
			)
			return nil
		},
	}
}
