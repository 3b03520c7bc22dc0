package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"convexsplat/internal/runrec"
	"convexsplat/internal/storage"
	"convexsplat/internal/train"
	api "convexsplat/pkg/convexsplat"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "checkpoints":
		return runCheckpoints(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: convexsplatctl <init|train|runs|checkpoints|export> [flags]", msg)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "convexsplat.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "convexsplat.db", "sqlite database path")
	outputDir := fs.String("output", "output", "output directory for run records")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	dataset := fs.String("dataset", "", "dataset path recorded with the run")
	resume := fs.Bool("resume", false, "resume from the latest stored checkpoint of run-id")
	light := fs.Bool("light", false, "light capture profile: keep base thresholds")
	outdoor := fs.Bool("outdoor", false, "outdoor scene profile")

	def := train.DefaultConfig()
	iterations := fs.Int("iterations", def.Iterations, "total optimization iterations")
	seed := fs.Int64("seed", 0, "rng seed")
	positionLRInit := fs.Float64("position-lr-init", def.PositionLRInit, "initial position learning rate")
	positionLRFinal := fs.Float64("position-lr-final", def.PositionLRFinal, "final position learning rate")
	featureLR := fs.Float64("feature-lr", def.FeatureLR, "color feature learning rate")
	opacityLR := fs.Float64("opacity-lr", def.OpacityLR, "opacity learning rate")
	sigmaLR := fs.Float64("sigma-lr", def.SigmaLR, "sigma learning rate")
	deltaLR := fs.Float64("delta-lr", def.DeltaLR, "delta learning rate")
	lambdaDSSIM := fs.Float64("lambda-dssim", def.LambdaDSSIM, "structural dissimilarity weight in the loss")
	densifyFrom := fs.Int("densify-from", def.DensifyFromIter, "first densification iteration")
	densifyUntil := fs.Int("densify-until", def.DensifyUntilIter, "end of the growth phase")
	densifyInterval := fs.Int("densify-interval", def.DensificationInterval, "densification cadence in iterations")
	gradThreshold := fs.Float64("densify-grad-threshold", def.DensifyGradThreshold, "mean gradient threshold for densification")
	opacityResetInterval := fs.Int("opacity-reset-interval", def.OpacityResetInterval, "opacity reset cadence in iterations")
	resetOpacityUntil := fs.Int("reset-opacity-until", def.ResetOpacityUntil, "last iteration of post-growth opacity resets")
	minOpacity := fs.Float64("min-opacity", def.MinOpacity, "prune threshold on opacity")
	maskThreshold := fs.Float64("mask-threshold", def.MaskThreshold, "prune threshold on mask activation")
	removeSizeThreshold := fs.Float64("remove-size-threshold", def.RemoveSizeThreshold, "screen-size prune threshold (fraction of image height)")
	maxDegree := fs.Int("max-degree", def.MaxDegree, "maximum color basis degree")
	whiteBackground := fs.Bool("white-background", false, "render on a white background")
	randomBackground := fs.Bool("random-background", false, "render on a random background each iteration")

	saveList := fs.String("save-iterations", "", "comma-separated checkpoint iterations, e.g. 7000,30000")
	testList := fs.String("test-iterations", "", "comma-separated evaluation iterations")
	progressEvery := fs.Int("progress-every", 10, "progress report cadence in iterations (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg := def
	isLight := *light
	isOutdoor := *outdoor
	datasetPath := *dataset
	if *runID != "" {
		rec, ok, err := runrec.Load(filepath.Join(*outputDir, *runID))
		if err != nil {
			return err
		}
		if ok {
			cfg = rec.Config
			if !setFlags["light"] {
				isLight = rec.Light
			}
			if !setFlags["outdoor"] {
				isOutdoor = rec.Outdoor
			}
			if !setFlags["dataset"] {
				datasetPath = rec.DatasetPath
			}
		}
	}
	overrideFromFlags(&cfg, setFlags, map[string]any{
		"iterations":             *iterations,
		"seed":                   *seed,
		"position-lr-init":       *positionLRInit,
		"position-lr-final":      *positionLRFinal,
		"feature-lr":             *featureLR,
		"opacity-lr":             *opacityLR,
		"sigma-lr":               *sigmaLR,
		"delta-lr":               *deltaLR,
		"lambda-dssim":           *lambdaDSSIM,
		"densify-from":           *densifyFrom,
		"densify-until":          *densifyUntil,
		"densify-interval":       *densifyInterval,
		"densify-grad-threshold": *gradThreshold,
		"opacity-reset-interval": *opacityResetInterval,
		"reset-opacity-until":    *resetOpacityUntil,
		"min-opacity":            *minOpacity,
		"mask-threshold":         *maskThreshold,
		"remove-size-threshold":  *removeSizeThreshold,
		"max-degree":             *maxDegree,
		"white-background":       *whiteBackground,
		"random-background":      *randomBackground,
	})

	saveAt, err := parseIterationList(*saveList)
	if err != nil {
		return fmt.Errorf("save-iterations: %w", err)
	}
	testAt, err := parseIterationList(*testList)
	if err != nil {
		return fmt.Errorf("test-iterations: %w", err)
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath, OutputDir: *outputDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.Train(ctx, api.TrainRequest{
		RunID:         *runID,
		DatasetPath:   datasetPath,
		Light:         isLight,
		Outdoor:       isOutdoor,
		Config:        cfg,
		Resume:        *resume,
		CheckpointAt:  saveAt,
		EvaluateAt:    testAt,
		ProgressEvery: *progressEvery,
		OnProgress: func(iteration int, loss, emaLoss float64, primitives int) {
			fmt.Printf("iter %s  loss=%.5f  ema=%.5f  primitives=%s\n",
				humanize.Comma(int64(iteration)), loss, emaLoss, humanize.Comma(int64(primitives)))
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("run %s finished: iterations=%s final_loss=%.5f primitives=%s output=%s\n",
		summary.RunID,
		humanize.Comma(int64(summary.Iterations)),
		summary.FinalLoss,
		humanize.Comma(int64(summary.FinalPrimitives)),
		summary.OutputDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "convexsplat.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	runs, err := client.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, r := range runs {
		profile := "indoor"
		if r.Light {
			profile = "light"
		} else if r.Outdoor {
			profile = "outdoor"
		}
		fmt.Printf("%s  %s  iterations=%s  loss=%.5f  primitives=%s  profile=%s\n",
			r.RunID,
			r.CreatedAtUTC,
			humanize.Comma(int64(r.Iterations)),
			r.FinalLoss,
			humanize.Comma(int64(r.FinalPrimitives)),
			profile)
	}
	return nil
}

func runCheckpoints(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "convexsplat.db", "sqlite database path")
	runID := fs.String("run-id", "", "run id to list checkpoints for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("checkpoints requires -run-id")
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	iterations, err := client.Checkpoints(ctx, *runID)
	if err != nil {
		return err
	}
	if len(iterations) == 0 {
		fmt.Printf("no checkpoints stored for run %s\n", *runID)
		return nil
	}
	for _, it := range iterations {
		fmt.Printf("%s  iteration %s\n", *runID, humanize.Comma(int64(it)))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "convexsplat.db", "sqlite database path")
	outputDir := fs.String("output", "output", "output directory for exported point clouds")
	runID := fs.String("run-id", "", "run id to export")
	iteration := fs.Int("iteration", 0, "checkpoint iteration to export (0 selects the latest)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("export requires -run-id")
	}

	client, err := api.New(api.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	it := *iteration
	if it == 0 {
		iterations, err := client.Checkpoints(ctx, *runID)
		if err != nil {
			return err
		}
		if len(iterations) == 0 {
			return fmt.Errorf("no checkpoints stored for run %s", *runID)
		}
		it = iterations[len(iterations)-1]
	}
	cp, ok, err := client.Checkpoint(ctx, *runID, it)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s has no checkpoint at iteration %d", *runID, it)
	}

	path, err := writePointCloud(filepath.Join(*outputDir, *runID), it, &cp.Set)
	if err != nil {
		return err
	}
	fmt.Printf("exported %s primitives from iteration %s to %s\n",
		humanize.Comma(int64(cp.Set.Len())), humanize.Comma(int64(it)), path)
	return nil
}
