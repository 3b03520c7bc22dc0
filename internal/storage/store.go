package storage

import (
	"context"

	"convexsplat/internal/model"
)

// Store defines the persistence operations of the training loop:
// checkpoints keyed by run and iteration, plus per-run summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string, iteration int) (model.Checkpoint, bool, error)
	LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	ListCheckpoints(ctx context.Context, runID string) ([]int, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
}
