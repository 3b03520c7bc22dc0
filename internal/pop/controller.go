package pop

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"convexsplat/internal/gradstats"
	"convexsplat/internal/model"
	"convexsplat/internal/optim"
)

// ErrPopulationExtinct reports a mutation that would leave zero
// primitives. The reference logic left this unguarded; here it is an
// invariant violation and the mutation is not applied.
var ErrPopulationExtinct = errors.New("population mutation would remove all primitives")

type Config struct {
	DensifyGradThreshold float64
	MinOpacity           float64
	MaskThreshold        float64

	// SplitSizeQuantile is the sigma quantile above which a densification
	// candidate is split instead of cloned.
	SplitSizeQuantile float64
	SplitChildren     int
	// ScalingCloning shrinks the shape of split children.
	ScalingCloning float64
	// SigmaScaling, DeltaScaling and OpacityCloning blend clone children
	// from the parent toward the Set* targets.
	SigmaScaling    float64
	DeltaScaling    float64
	OpacityCloning  float64
	ShiftingCloning float64
	SetOpacity      float64
	SetSigma        float64
	SetDelta        float64

	// OpacityReset is the ceiling applied by opacity resets.
	OpacityReset float64
	// SceneExtentFactor bounds the scene-relative size prune.
	SceneExtentFactor float64
}

// Controller decides and applies the structural mutations of the
// primitive set: clones, splits, prunes and opacity resets. Every mutation
// resizes the optimizer momentum and the gradient statistics in the same
// atomic step, so no caller ever observes a partially mutated population.
type Controller struct {
	cfg Config
	rng *rand.Rand
}

type MutationReport struct {
	Before        int `json:"before"`
	After         int `json:"after"`
	Cloned        int `json:"cloned"`
	SplitParents  int `json:"split_parents"`
	SplitChildren int `json:"split_children"`
	Pruned        int `json:"pruned"`
}

func NewController(cfg Config, seed int64) (*Controller, error) {
	if cfg.DensifyGradThreshold <= 0 {
		return nil, fmt.Errorf("densify gradient threshold must be > 0")
	}
	if cfg.MinOpacity < 0 || cfg.MinOpacity > 1 {
		return nil, fmt.Errorf("min opacity must be in [0,1]")
	}
	if cfg.MaskThreshold < 0 || cfg.MaskThreshold > 1 {
		return nil, fmt.Errorf("mask threshold must be in [0,1]")
	}
	if cfg.SplitSizeQuantile <= 0 || cfg.SplitSizeQuantile >= 1 {
		return nil, fmt.Errorf("split size quantile must be in (0,1)")
	}
	if cfg.SplitChildren < 2 {
		return nil, fmt.Errorf("split children must be >= 2")
	}
	if cfg.ScalingCloning <= 0 || cfg.ScalingCloning > 1 {
		return nil, fmt.Errorf("split scaling must be in (0,1]")
	}
	if cfg.OpacityReset <= 0 || cfg.OpacityReset > 1 {
		return nil, fmt.Errorf("opacity reset ceiling must be in (0,1]")
	}
	if cfg.SceneExtentFactor <= 0 {
		return nil, fmt.Errorf("scene extent factor must be > 0")
	}
	return &Controller{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

// DensifyAndPrune runs the growth-phase decision procedure: clone or
// split every primitive whose mean accumulated gradient exceeds the
// threshold, then prune by opacity, mask, and (when sizeThreshold > 0)
// projected screen size and scene-relative extent.
func (c *Controller) DensifyAndPrune(set *model.PrimitiveSet, opt *optim.Adam, acc *gradstats.Accumulator, sceneExtent, sizeThreshold float64) (MutationReport, error) {
	n := set.Len()
	report := MutationReport{Before: n, After: n}
	if n == 0 {
		return report, ErrPopulationExtinct
	}
	if acc.Len() != n || opt.Len() != n {
		return report, fmt.Errorf("state out of alignment: set=%d stats=%d optimizer=%d", n, acc.Len(), opt.Len())
	}

	splitCut := c.sigmaQuantile(set.Sigmas)

	block := &model.PrimitiveSet{MaxDegree: set.MaxDegree, ActiveDegree: set.ActiveDegree}
	splitParent := make([]bool, n)
	for i := 0; i < n; i++ {
		if acc.MeanGradient(i) <= c.cfg.DensifyGradThreshold {
			continue
		}
		if set.Sigmas[i] > splitCut {
			splitParent[i] = true
			for k := 0; k < c.cfg.SplitChildren; k++ {
				c.appendSplitChild(block, set, i)
			}
			report.SplitParents++
			report.SplitChildren += c.cfg.SplitChildren
		} else {
			c.appendClone(block, set, i)
			report.Cloned++
		}
	}

	prune := make([]bool, n)
	for i := 0; i < n; i++ {
		prune[i] = c.lowValue(set, i) || c.oversized(set, i, sceneExtent, sizeThreshold)
		if prune[i] && !splitParent[i] {
			report.Pruned++
		}
	}

	return c.apply(set, opt, acc, block, func(i int) bool {
		return !prune[i] && !splitParent[i]
	}, report)
}

// OnlyPrune is the post-growth reduced form: pruning by opacity and mask
// only, no densification and no size threshold.
func (c *Controller) OnlyPrune(set *model.PrimitiveSet, opt *optim.Adam, acc *gradstats.Accumulator) (MutationReport, error) {
	n := set.Len()
	report := MutationReport{Before: n, After: n}
	if n == 0 {
		return report, ErrPopulationExtinct
	}
	for i := 0; i < n; i++ {
		if c.lowValue(set, i) {
			report.Pruned++
		}
	}
	empty := &model.PrimitiveSet{MaxDegree: set.MaxDegree, ActiveDegree: set.ActiveDegree}
	return c.apply(set, opt, acc, empty, func(i int) bool {
		return !c.lowValue(set, i)
	}, report)
}

// ResetOpacity caps every opacity at the configured ceiling and clears
// the opacity momentum so stale moments cannot immediately regrow the old
// values. Not a structural mutation: indices stay valid.
func (c *Controller) ResetOpacity(set *model.PrimitiveSet, opt *optim.Adam) error {
	for i := range set.Opacities {
		if set.Opacities[i] > c.cfg.OpacityReset {
			set.Opacities[i] = c.cfg.OpacityReset
		}
	}
	return opt.ZeroGroup("opacity")
}

func (c *Controller) apply(set *model.PrimitiveSet, opt *optim.Adam, acc *gradstats.Accumulator, block *model.PrimitiveSet, keepAt func(int) bool, report MutationReport) (MutationReport, error) {
	n := set.Len()
	added := block.Len()
	keep := make([]bool, n, n+added)
	survivors := 0
	for i := 0; i < n; i++ {
		keep[i] = keepAt(i)
		if keep[i] {
			survivors++
		}
	}
	if survivors+added == 0 {
		return report, ErrPopulationExtinct
	}

	if added > 0 {
		if err := set.Append(block); err != nil {
			return report, err
		}
		opt.Append(added)
		for i := 0; i < added; i++ {
			keep = append(keep, true)
		}
	}
	after, err := set.Compact(keep)
	if err != nil {
		return report, err
	}
	if err := opt.Compact(keep); err != nil {
		return report, err
	}
	acc.ResetTo(after)
	report.After = after
	return report, nil
}

func (c *Controller) lowValue(set *model.PrimitiveSet, i int) bool {
	if set.Opacities[i] < c.cfg.MinOpacity {
		return true
	}
	return sigmoid(set.MaskLogits[i]) < c.cfg.MaskThreshold
}

func (c *Controller) oversized(set *model.PrimitiveSet, i int, sceneExtent, sizeThreshold float64) bool {
	if sizeThreshold <= 0 {
		return false
	}
	if set.MaxRadii[i] > sizeThreshold {
		return true
	}
	return set.Sigmas[i] > c.cfg.SceneExtentFactor*sceneExtent
}

func (c *Controller) sigmaQuantile(sigmas []float64) float64 {
	sorted := append([]float64(nil), sigmas...)
	sort.Float64s(sorted)
	return stat.Quantile(c.cfg.SplitSizeQuantile, stat.Empirical, sorted, nil)
}

func (c *Controller) appendSplitChild(block, set *model.PrimitiveSet, i int) {
	dir := c.unitVector()
	block.Positions = append(block.Positions, set.Positions[i].Add(dir.Scale(set.Sigmas[i])))
	block.Sigmas = append(block.Sigmas, set.Sigmas[i]*c.cfg.ScalingCloning)
	block.Deltas = append(block.Deltas, set.Deltas[i])
	block.Opacities = append(block.Opacities, set.Opacities[i])
	block.MaskLogits = append(block.MaskLogits, set.MaskLogits[i])
	block.Features = append(block.Features, append([]float64(nil), set.Features[i]...))
	block.MaxRadii = append(block.MaxRadii, 0)
}

func (c *Controller) appendClone(block, set *model.PrimitiveSet, i int) {
	dir := c.unitVector()
	shift := c.cfg.ShiftingCloning * set.Sigmas[i]
	block.Positions = append(block.Positions, set.Positions[i].Add(dir.Scale(shift)))
	block.Sigmas = append(block.Sigmas, blend(set.Sigmas[i], c.cfg.SetSigma, c.cfg.SigmaScaling))
	block.Deltas = append(block.Deltas, blend(set.Deltas[i], c.cfg.SetDelta, c.cfg.DeltaScaling))
	block.Opacities = append(block.Opacities, clamp01(blend(set.Opacities[i], c.cfg.SetOpacity, c.cfg.OpacityCloning)))
	block.MaskLogits = append(block.MaskLogits, set.MaskLogits[i])
	block.Features = append(block.Features, append([]float64(nil), set.Features[i]...))
	block.MaxRadii = append(block.MaxRadii, 0)
}

// blend moves a parent value toward a configured target; weight 1 keeps
// the parent value.
func blend(parent, target, weight float64) float64 {
	return weight*parent + (1-weight)*target
}

func (c *Controller) unitVector() model.Vec3 {
	for {
		v := model.Vec3{c.rng.NormFloat64(), c.rng.NormFloat64(), c.rng.NormFloat64()}
		n := v.Norm()
		if n > 1e-12 {
			return v.Scale(1 / n)
		}
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
