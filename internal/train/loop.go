package train

import (
	"context"
	"fmt"
	"math/rand"

	"convexsplat/internal/gradstats"
	"convexsplat/internal/model"
	"convexsplat/internal/optim"
	"convexsplat/internal/pop"
	"convexsplat/internal/render"
	"convexsplat/internal/sched"
)

const (
	groupPosition = "position"
	groupSigma    = "sigma"
	groupDelta    = "delta"
	groupOpacity  = "opacity"
	groupMask     = "mask"
	groupFeature  = "feature"
)

// emaWeight is the blend factor of the running loss estimate: each
// iteration contributes emaWeight of the fresh loss.
const emaWeight = 0.4

// sigmaFloor keeps direct shape parameters strictly positive after an
// optimizer step.
const sigmaFloor = 1e-6

// Phase names the two regimes of the loop: Growing runs densification and
// statistics accumulation, Stabilizing only periodic pruning.
type Phase int

const (
	PhaseGrowing Phase = iota
	PhaseStabilizing
)

func (p Phase) String() string {
	if p == PhaseGrowing {
		return "growing"
	}
	return "stabilizing"
}

// Hooks are the loop's observation points. All callbacks are optional;
// OnCheckpoint errors abort the run because a requested checkpoint that
// cannot be written must not be silently skipped.
type Hooks struct {
	ProgressEvery int
	OnProgress    func(iteration int, loss, emaLoss float64, primitives int)

	EvaluateAt []int
	OnEvaluate func(iteration int, set *model.PrimitiveSet)

	CheckpointAt []int
	OnCheckpoint func(cp model.Checkpoint) error
}

// Result summarizes a completed (or interrupted) run.
type Result struct {
	FirstIteration  int
	Iterations      int
	Mutations       int
	FinalLoss       float64
	EMALoss         float64
	FinalPrimitives int
}

// Loop drives the full optimization: render, loss, backward, optimizer
// step, plus the phase-dependent population control. It owns the primitive
// set, the optimizer state and the gradient statistics, and keeps the
// three index-aligned at every observation point.
type Loop struct {
	cfg    Config
	runID  string
	engine render.Engine
	views  []render.View
	hooks  Hooks

	set  *model.PrimitiveSet
	opt  *optim.Adam
	acc  *gradstats.Accumulator
	ctrl *pop.Controller
	sch  *sched.Scheduler
	rng  *rand.Rand

	pipeline    render.PipelineConfig
	sceneExtent float64
	queue       []int

	iteration int
	phase     Phase
	ema       float64

	evaluateAt   map[int]bool
	checkpointAt map[int]bool
}

func NewLoop(cfg Config, runID string, engine render.Engine, views []render.View, seed *model.PrimitiveSet, pipeline render.PipelineConfig, hooks Hooks) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if engine == nil {
		return nil, fmt.Errorf("render engine is required")
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("at least one view is required")
	}
	if seed == nil || seed.Len() == 0 {
		return nil, fmt.Errorf("seed set must not be empty")
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("seed set: %w", err)
	}
	if seed.MaxDegree != cfg.MaxDegree {
		return nil, fmt.Errorf("seed set max degree %d does not match config %d", seed.MaxDegree, cfg.MaxDegree)
	}

	extent, err := render.SceneExtent(views)
	if err != nil {
		return nil, fmt.Errorf("scene extent: %w", err)
	}
	sch, err := sched.NewScheduler(cfg.schedulerGroups())
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	opt, err := optim.NewAdam(adamSpecs(cfg.MaxDegree), seed.Len())
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	acc, err := gradstats.NewAccumulator(seed.Len())
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	ctrl, err := pop.NewController(cfg.popConfig(), cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("population controller: %w", err)
	}

	l := &Loop{
		cfg:          cfg,
		runID:        runID,
		engine:       engine,
		views:        views,
		hooks:        hooks,
		set:          seed,
		opt:          opt,
		acc:          acc,
		ctrl:         ctrl,
		sch:          sch,
		rng:          rand.New(rand.NewSource(cfg.Seed + 1)),
		pipeline:     pipeline,
		sceneExtent:  extent,
		evaluateAt:   iterationSet(hooks.EvaluateAt),
		checkpointAt: iterationSet(hooks.CheckpointAt),
	}
	return l, nil
}

func adamSpecs(maxDegree int) []optim.GroupSpec {
	return []optim.GroupSpec{
		{Name: groupPosition, Width: 3},
		{Name: groupSigma, Width: 1},
		{Name: groupDelta, Width: 1},
		{Name: groupOpacity, Width: 1},
		{Name: groupMask, Width: 1},
		{Name: groupFeature, Width: model.FeatureSize(maxDegree)},
	}
}

func iterationSet(at []int) map[int]bool {
	set := make(map[int]bool, len(at))
	for _, it := range at {
		set[it] = true
	}
	return set
}

// Restore resumes from a checkpoint: the first iteration executed by Run
// will be cp.Iteration + 1. Must be called before Run.
func (l *Loop) Restore(cp model.Checkpoint) error {
	if cp.Iteration < 0 || cp.Iteration >= l.cfg.Iterations {
		return fmt.Errorf("checkpoint iteration %d outside run horizon %d", cp.Iteration, l.cfg.Iterations)
	}
	restored := cp.Set.Clone()
	if err := restored.Validate(); err != nil {
		return fmt.Errorf("checkpoint set: %w", err)
	}
	if restored.Len() == 0 {
		return fmt.Errorf("checkpoint set is empty")
	}
	if restored.MaxDegree != l.cfg.MaxDegree {
		return fmt.Errorf("checkpoint max degree %d does not match config %d", restored.MaxDegree, l.cfg.MaxDegree)
	}
	if err := l.opt.Restore(cp.Optimizer); err != nil {
		return fmt.Errorf("checkpoint optimizer: %w", err)
	}
	if l.opt.Len() != restored.Len() {
		return fmt.Errorf("checkpoint optimizer rows %d do not match set %d", l.opt.Len(), restored.Len())
	}
	l.set = restored
	l.acc.ResetTo(restored.Len())
	l.iteration = cp.Iteration
	if cp.Iteration >= l.cfg.DensifyUntilIter {
		l.phase = PhaseStabilizing
	}
	return nil
}

// Checkpoint snapshots the loop at its current iteration. The set is
// deep-copied so the snapshot never aliases live state.
func (l *Loop) Checkpoint() model.Checkpoint {
	return model.Checkpoint{
		RunID:     l.runID,
		Iteration: l.iteration,
		Set:       *l.set.Clone(),
		Optimizer: l.opt.State(),
	}
}

func (l *Loop) Set() *model.PrimitiveSet { return l.set }
func (l *Loop) Iteration() int           { return l.iteration }
func (l *Loop) Phase() Phase             { return l.phase }
func (l *Loop) SceneExtent() float64     { return l.sceneExtent }

// Run executes iterations until the configured horizon or until the
// context is cancelled. It can be called once per loop.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	res := Result{FirstIteration: l.iteration + 1}
	for it := l.iteration + 1; it <= l.cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return l.finish(res), err
		}
		if l.phase == PhaseGrowing && it >= l.cfg.DensifyUntilIter {
			l.phase = PhaseStabilizing
		}
		rates := l.sch.Update(it)
		if it%l.cfg.DegreeInterval == 0 {
			l.set.IncreaseDegree()
		}

		view := l.nextView()
		out, err := l.engine.Render(view, l.set, l.pipeline, l.background())
		if err != nil {
			return l.finish(res), fmt.Errorf("iteration %d: render: %w", it, err)
		}
		loss, residual, err := Loss(out.Image, view.GroundTruth, l.set.MaskLogits, l.cfg.LambdaDSSIM)
		if err != nil {
			return l.finish(res), fmt.Errorf("iteration %d: loss: %w", it, err)
		}
		grads, err := l.engine.Backward(view, l.set, out, residual)
		if err != nil {
			return l.finish(res), fmt.Errorf("iteration %d: backward: %w", it, err)
		}
		if len(grads.Positions) != l.set.Len() {
			return l.finish(res), fmt.Errorf("iteration %d: gradients misaligned: got=%d want=%d", it, len(grads.Positions), l.set.Len())
		}

		mutated, err := l.controlPopulation(it, view, out, grads)
		if err != nil {
			return l.finish(res), fmt.Errorf("iteration %d: %w", it, err)
		}
		if mutated {
			res.Mutations++
		}

		// A structural mutation invalidates this iteration's gradient
		// indices, so the optimizer step is skipped for that iteration.
		// The final iteration is observed but never stepped.
		if !mutated && it < l.cfg.Iterations {
			if err := l.applyStep(rates, grads); err != nil {
				return l.finish(res), fmt.Errorf("iteration %d: step: %w", it, err)
			}
		}

		l.ema = emaWeight*loss + (1-emaWeight)*l.ema
		l.iteration = it
		res.FinalLoss = loss

		if err := l.observe(it, loss); err != nil {
			return l.finish(res), fmt.Errorf("iteration %d: %w", it, err)
		}
	}
	return l.finish(res), nil
}

// controlPopulation runs the phase-dependent structural work and reports
// whether indices were invalidated this iteration.
func (l *Loop) controlPopulation(it int, view render.View, out *render.Output, grads *render.Gradients) (bool, error) {
	if l.phase == PhaseGrowing {
		for i, visible := range out.Visibility {
			if !visible {
				continue
			}
			r := out.ScreenRadii[i] / float64(view.Height)
			if r > l.set.MaxRadii[i] {
				l.set.MaxRadii[i] = r
			}
		}
		if err := l.acc.Record(out.Visibility, grads.Positions, out.DensitySignal); err != nil {
			return false, fmt.Errorf("statistics: %w", err)
		}

		mutated := false
		if it > l.cfg.DensifyFromIter && it%l.cfg.DensificationInterval == 0 {
			sizeThreshold := 0.0
			if it > l.cfg.OpacityResetInterval {
				sizeThreshold = l.cfg.RemoveSizeThreshold
			}
			if _, err := l.ctrl.DensifyAndPrune(l.set, l.opt, l.acc, l.sceneExtent, sizeThreshold); err != nil {
				return false, fmt.Errorf("densify: %w", err)
			}
			mutated = true
		}
		if it%l.cfg.OpacityResetInterval == 0 || (l.cfg.WhiteBackground && it == l.cfg.DensifyFromIter) {
			if err := l.ctrl.ResetOpacity(l.set, l.opt); err != nil {
				return mutated, fmt.Errorf("opacity reset: %w", err)
			}
		}
		return mutated, nil
	}

	mutated := false
	if it%l.cfg.PruneInterval == 0 {
		if _, err := l.ctrl.OnlyPrune(l.set, l.opt, l.acc); err != nil {
			return false, fmt.Errorf("prune: %w", err)
		}
		mutated = true
	}
	if it%l.cfg.OpacityResetInterval == 0 && it < l.cfg.ResetOpacityUntil {
		if err := l.ctrl.ResetOpacity(l.set, l.opt); err != nil {
			return mutated, fmt.Errorf("opacity reset: %w", err)
		}
	}
	return mutated, nil
}

func (l *Loop) applyStep(rates map[string]float64, g *render.Gradients) error {
	if err := l.opt.StepVec3(groupPosition, rates[groupPosition], l.set.Positions, g.Positions); err != nil {
		return err
	}
	if err := l.opt.StepScalar(groupSigma, rates[groupSigma], l.set.Sigmas, g.Sigmas); err != nil {
		return err
	}
	if err := l.opt.StepScalar(groupDelta, rates[groupDelta], l.set.Deltas, g.Deltas); err != nil {
		return err
	}
	if err := l.opt.StepScalar(groupOpacity, rates[groupOpacity], l.set.Opacities, g.Opacities); err != nil {
		return err
	}
	if err := l.opt.StepScalar(groupMask, rates[groupMask], l.set.MaskLogits, g.MaskLogits); err != nil {
		return err
	}
	if err := l.opt.StepRows(groupFeature, rates[groupFeature], l.set.Features, g.Features); err != nil {
		return err
	}
	for i := range l.set.Opacities {
		if l.set.Opacities[i] < 0 {
			l.set.Opacities[i] = 0
		} else if l.set.Opacities[i] > 1 {
			l.set.Opacities[i] = 1
		}
		if l.set.Sigmas[i] < sigmaFloor {
			l.set.Sigmas[i] = sigmaFloor
		}
		if l.set.Deltas[i] < sigmaFloor {
			l.set.Deltas[i] = sigmaFloor
		}
	}
	return nil
}

func (l *Loop) observe(it int, loss float64) error {
	if l.hooks.OnProgress != nil && l.hooks.ProgressEvery > 0 && it%l.hooks.ProgressEvery == 0 {
		l.hooks.OnProgress(it, loss, l.ema, l.set.Len())
	}
	if l.evaluateAt[it] && l.hooks.OnEvaluate != nil {
		l.hooks.OnEvaluate(it, l.set)
	}
	if l.checkpointAt[it] && l.hooks.OnCheckpoint != nil {
		if err := l.hooks.OnCheckpoint(l.Checkpoint()); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return nil
}

func (l *Loop) finish(res Result) Result {
	res.Iterations = l.iteration
	res.EMALoss = l.ema
	res.FinalPrimitives = l.set.Len()
	return res
}

// nextView pops one view index from a shuffled queue, reshuffling when the
// queue empties so every view is visited once per epoch.
func (l *Loop) nextView() render.View {
	if len(l.queue) == 0 {
		l.queue = l.rng.Perm(len(l.views))
	}
	idx := l.queue[len(l.queue)-1]
	l.queue = l.queue[:len(l.queue)-1]
	return l.views[idx]
}

func (l *Loop) background() [3]float64 {
	if l.cfg.RandomBackground {
		return [3]float64{l.rng.Float64(), l.rng.Float64(), l.rng.Float64()}
	}
	if l.cfg.WhiteBackground {
		return [3]float64{1, 1, 1}
	}
	return [3]float64{0, 0, 0}
}
