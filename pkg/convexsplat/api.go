// Package convexsplat is the embedding API of the trainer: construct a
// Client, then drive training runs against a configured store and output
// directory.
package convexsplat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"convexsplat/internal/model"
	"convexsplat/internal/render"
	"convexsplat/internal/runrec"
	"convexsplat/internal/storage"
	"convexsplat/internal/train"
)

const (
	defaultDBPath    = "convexsplat.db"
	defaultOutputDir = "output"
	defaultSeedCount = 1000
)

type Options struct {
	StoreKind string
	DBPath    string
	OutputDir string
}

type Client struct {
	store     storage.Store
	outputDir string
}

// TrainRequest configures one training run. Zero values select defaults:
// an unset Config becomes the default profile, missing views a synthetic
// orbit, a missing engine the built-in software renderer.
type TrainRequest struct {
	RunID       string
	DatasetPath string
	Light       bool
	Outdoor     bool
	Config      train.Config

	Views  []render.View
	Engine render.Engine
	Seed   *model.PrimitiveSet

	// Pipeline is forwarded to every Engine.Render call unchanged.
	Pipeline render.PipelineConfig

	// Resume restores the latest stored checkpoint for RunID before
	// running.
	Resume bool

	ProgressEvery int
	OnProgress    func(iteration int, loss, emaLoss float64, primitives int)
	EvaluateAt    []int
	OnEvaluate    func(iteration int, set *model.PrimitiveSet)
	CheckpointAt  []int
}

type TrainSummary struct {
	RunID           string
	OutputDir       string
	FirstIteration  int
	Iterations      int
	Mutations       int
	FinalLoss       float64
	EMALoss         float64
	FinalPrimitives int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, outputDir: outputDir}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Train executes one optimization run end to end: seed construction,
// the loop, checkpoint persistence, and the run record and index.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	cfg := req.Config
	if cfg == (train.Config{}) {
		cfg = train.DefaultConfig()
	}
	cfg = train.Adapt(cfg, req.Light, req.Outdoor)

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	views := req.Views
	if len(views) == 0 {
		orbit, err := render.SyntheticOrbit(8, 64, 64, 4)
		if err != nil {
			return TrainSummary{}, err
		}
		views = orbit
	}
	engine := req.Engine
	if engine == nil {
		engine = render.NewSoftwareEngine()
	}

	seed := req.Seed
	if seed == nil {
		extent, err := render.SceneExtent(views)
		if err != nil {
			return TrainSummary{}, err
		}
		seed, err = train.ConstructSeedSet(cfg, defaultSeedCount, extent/2)
		if err != nil {
			return TrainSummary{}, err
		}
	}

	hooks := train.Hooks{
		ProgressEvery: req.ProgressEvery,
		OnProgress:    req.OnProgress,
		EvaluateAt:    req.EvaluateAt,
		OnEvaluate:    req.OnEvaluate,
		CheckpointAt:  req.CheckpointAt,
		OnCheckpoint: func(cp model.Checkpoint) error {
			cp.VersionedRecord = storage.CurrentVersion()
			return c.store.SaveCheckpoint(ctx, cp)
		},
	}

	loop, err := train.NewLoop(cfg, runID, engine, views, seed, req.Pipeline, hooks)
	if err != nil {
		return TrainSummary{}, err
	}
	if req.Resume {
		cp, ok, err := c.store.LatestCheckpoint(ctx, runID)
		if err != nil {
			return TrainSummary{}, fmt.Errorf("load checkpoint: %w", err)
		}
		if !ok {
			return TrainSummary{}, fmt.Errorf("no checkpoint stored for run %s", runID)
		}
		if err := loop.Restore(cp); err != nil {
			return TrainSummary{}, fmt.Errorf("restore checkpoint: %w", err)
		}
	}

	runDir := filepath.Join(c.outputDir, runID)
	createdAt := time.Now().UTC().Format(time.RFC3339)
	if err := runrec.Write(runDir, runrec.Record{
		RunID:        runID,
		CreatedAtUTC: createdAt,
		DatasetPath:  req.DatasetPath,
		Light:        req.Light,
		Outdoor:      req.Outdoor,
		Config:       cfg,
	}); err != nil {
		return TrainSummary{}, err
	}

	result, runErr := loop.Run(ctx)
	summary := model.RunSummary{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		CreatedAtUTC:    createdAt,
		Iterations:      result.Iterations,
		FinalLoss:       result.FinalLoss,
		FinalPrimitives: result.FinalPrimitives,
		Light:           req.Light,
		Outdoor:         req.Outdoor,
	}
	if err := c.store.SaveRunSummary(ctx, summary); err != nil && runErr == nil {
		runErr = fmt.Errorf("save run summary: %w", err)
	}
	if err := runrec.AppendIndex(c.outputDir, summary); err != nil && runErr == nil {
		runErr = fmt.Errorf("append run index: %w", err)
	}

	return TrainSummary{
		RunID:           runID,
		OutputDir:       runDir,
		FirstIteration:  result.FirstIteration,
		Iterations:      result.Iterations,
		Mutations:       result.Mutations,
		FinalLoss:       result.FinalLoss,
		EMALoss:         result.EMALoss,
		FinalPrimitives: result.FinalPrimitives,
	}, runErr
}

// Runs lists every stored run summary, oldest first.
func (c *Client) Runs(ctx context.Context) ([]model.RunSummary, error) {
	return c.store.ListRuns(ctx)
}

// Checkpoints lists the stored checkpoint iterations of a run.
func (c *Client) Checkpoints(ctx context.Context, runID string) ([]int, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	return c.store.ListCheckpoints(ctx, runID)
}

// Checkpoint fetches one stored checkpoint.
func (c *Client) Checkpoint(ctx context.Context, runID string, iteration int) (model.Checkpoint, bool, error) {
	if runID == "" {
		return model.Checkpoint{}, false, errors.New("run id is required")
	}
	return c.store.GetCheckpoint(ctx, runID, iteration)
}
