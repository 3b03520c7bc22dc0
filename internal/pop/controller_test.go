package pop

import (
	"errors"
	"testing"

	"convexsplat/internal/gradstats"
	"convexsplat/internal/model"
	"convexsplat/internal/optim"
)

func testConfig() Config {
	return Config{
		DensifyGradThreshold: 0.000025,
		MinOpacity:           0.03,
		MaskThreshold:        0.01,
		SplitSizeQuantile:    0.9,
		SplitChildren:        2,
		ScalingCloning:       0.63,
		SigmaScaling:         0.88,
		DeltaScaling:         1.0,
		OpacityCloning:       0.5,
		ShiftingCloning:      1.0,
		SetOpacity:           0.1,
		SetSigma:             0.00095,
		SetDelta:             0.1,
		OpacityReset:         0.2,
		SceneExtentFactor:    0.1,
	}
}

func buildState(t *testing.T, n int) (*model.PrimitiveSet, *optim.Adam, *gradstats.Accumulator) {
	t.Helper()
	set := &model.PrimitiveSet{MaxDegree: 1}
	for i := 0; i < n; i++ {
		set.Positions = append(set.Positions, model.Vec3{float64(i), 0, 0})
		set.Sigmas = append(set.Sigmas, 0.001)
		set.Deltas = append(set.Deltas, 0.1)
		set.Opacities = append(set.Opacities, 0.5)
		set.MaskLogits = append(set.MaskLogits, 3.0)
		set.Features = append(set.Features, make([]float64, model.FeatureSize(1)))
		set.MaxRadii = append(set.MaxRadii, 0)
	}
	opt, err := optim.NewAdam([]optim.GroupSpec{
		{Name: "position", Width: 3},
		{Name: "sigma", Width: 1},
		{Name: "delta", Width: 1},
		{Name: "opacity", Width: 1},
		{Name: "mask", Width: 1},
		{Name: "feature", Width: model.FeatureSize(1)},
	}, n)
	if err != nil {
		t.Fatalf("new adam: %v", err)
	}
	acc, err := gradstats.NewAccumulator(n)
	if err != nil {
		t.Fatalf("new accumulator: %v", err)
	}
	return set, opt, acc
}

func recordGradients(t *testing.T, acc *gradstats.Accumulator, n int, hot []int) {
	t.Helper()
	visible := make([]bool, n)
	grads := make([]model.Vec3, n)
	density := make([]float64, n)
	for i := range visible {
		visible[i] = true
	}
	for _, i := range hot {
		grads[i] = model.Vec3{1, 0, 0}
	}
	if err := acc.Record(visible, grads, density); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func checkAlignment(t *testing.T, set *model.PrimitiveSet, opt *optim.Adam, acc *gradstats.Accumulator) {
	t.Helper()
	if err := set.Validate(); err != nil {
		t.Fatalf("set validate: %v", err)
	}
	if opt.Len() != set.Len() || acc.Len() != set.Len() {
		t.Fatalf("alignment broken: set=%d optimizer=%d stats=%d", set.Len(), opt.Len(), acc.Len())
	}
}

func TestDensifyAndPruneGrowthArithmetic(t *testing.T) {
	set, opt, acc := buildState(t, 100)
	ctrl, err := NewController(testConfig(), 7)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	// Ten densification candidates: indices 0-4 stay at the common sigma
	// (cloned), indices 5-9 get a large sigma (split).
	hot := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	for i := 5; i < 10; i++ {
		set.Sigmas[i] = 0.1
	}
	// Three unrelated primitives die of low opacity.
	for _, i := range []int{20, 21, 22} {
		set.Opacities[i] = 0.001
	}
	recordGradients(t, acc, 100, hot)

	report, err := ctrl.DensifyAndPrune(set, opt, acc, 10, 0)
	if err != nil {
		t.Fatalf("densify and prune: %v", err)
	}

	if report.Cloned != 5 || report.SplitParents != 5 || report.SplitChildren != 10 || report.Pruned != 3 {
		t.Fatalf("report = %+v, want 5 clones, 5 split parents, 10 children, 3 pruned", report)
	}
	// 100 + 5 clones + 10 children - 5 split parents - 3 pruned = 107.
	if report.After != 107 || set.Len() != 107 {
		t.Fatalf("population after = %d, want 107", set.Len())
	}
	checkAlignment(t, set, opt, acc)
}

func TestDensifyResetsStatistics(t *testing.T) {
	set, opt, acc := buildState(t, 10)
	ctrl, err := NewController(testConfig(), 1)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	recordGradients(t, acc, 10, []int{0, 3})

	if _, err := ctrl.DensifyAndPrune(set, opt, acc, 10, 0); err != nil {
		t.Fatalf("densify and prune: %v", err)
	}
	for i := 0; i < acc.Len(); i++ {
		if acc.MeanGradient(i) != 0 {
			t.Fatalf("statistics for %d not reset after mutation", i)
		}
	}
}

func TestSplitChildrenShrinkAndParentRemoved(t *testing.T) {
	set, opt, acc := buildState(t, 10)
	ctrl, err := NewController(testConfig(), 3)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	set.Sigmas[0] = 0.5
	recordGradients(t, acc, 10, []int{0})

	report, err := ctrl.DensifyAndPrune(set, opt, acc, 10, 0)
	if err != nil {
		t.Fatalf("densify and prune: %v", err)
	}
	if report.SplitParents != 1 || report.SplitChildren != 2 {
		t.Fatalf("report = %+v, want 1 split into 2", report)
	}
	if set.Len() != 11 {
		t.Fatalf("population = %d, want 11", set.Len())
	}
	for _, sigma := range set.Sigmas {
		if sigma == 0.5 {
			t.Fatal("split parent sigma still present, parent not removed")
		}
	}
	wantChild := 0.5 * 0.63
	found := 0
	for _, sigma := range set.Sigmas {
		if sigma == wantChild {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("found %d children with shrunken sigma, want 2", found)
	}
}

func TestSizeThresholdPrunesOversized(t *testing.T) {
	set, opt, acc := buildState(t, 10)
	ctrl, err := NewController(testConfig(), 5)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	set.MaxRadii[4] = 0.9            // oversized on screen
	set.Sigmas[7] = 2.0              // oversized relative to the scene
	recordGradients(t, acc, 10, nil) // no densification candidates

	report, err := ctrl.DensifyAndPrune(set, opt, acc, 10, 0.3)
	if err != nil {
		t.Fatalf("densify and prune: %v", err)
	}
	if report.Pruned != 2 || set.Len() != 8 {
		t.Fatalf("report = %+v len=%d, want 2 pruned of 10", report, set.Len())
	}
}

func TestOnlyPruneIgnoresSize(t *testing.T) {
	set, opt, acc := buildState(t, 10)
	ctrl, err := NewController(testConfig(), 5)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	set.MaxRadii[4] = 0.9
	set.Opacities[1] = 0.001
	set.MaskLogits[2] = -10

	report, err := ctrl.OnlyPrune(set, opt, acc)
	if err != nil {
		t.Fatalf("only prune: %v", err)
	}
	if report.Pruned != 2 || set.Len() != 8 {
		t.Fatalf("report = %+v len=%d, want only opacity/mask prunes", report, set.Len())
	}
	checkAlignment(t, set, opt, acc)
}

func TestResetOpacityCapsAtCeiling(t *testing.T) {
	set, opt, _ := buildState(t, 3)
	ctrl, err := NewController(testConfig(), 5)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	set.Opacities = []float64{0.05, 0.5, 0.9}

	if err := ctrl.ResetOpacity(set, opt); err != nil {
		t.Fatalf("reset opacity: %v", err)
	}
	want := []float64{0.05, 0.2, 0.2}
	for i, w := range want {
		if set.Opacities[i] != w {
			t.Fatalf("opacity %d = %v, want %v", i, set.Opacities[i], w)
		}
	}
}

func TestExtinctionFailsLoudlyWithoutMutating(t *testing.T) {
	set, opt, acc := buildState(t, 4)
	ctrl, err := NewController(testConfig(), 5)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	for i := range set.Opacities {
		set.Opacities[i] = 0.001
	}
	gen := set.Generation

	_, err = ctrl.OnlyPrune(set, opt, acc)
	if !errors.Is(err, ErrPopulationExtinct) {
		t.Fatalf("error = %v, want ErrPopulationExtinct", err)
	}
	if set.Len() != 4 || set.Generation != gen {
		t.Fatal("failed mutation must leave the set untouched")
	}
}

func TestNewControllerValidatesConfig(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.DensifyGradThreshold = 0 },
		func(c *Config) { c.MinOpacity = -0.1 },
		func(c *Config) { c.SplitSizeQuantile = 1.0 },
		func(c *Config) { c.SplitChildren = 1 },
		func(c *Config) { c.ScalingCloning = 0 },
		func(c *Config) { c.OpacityReset = 0 },
		func(c *Config) { c.SceneExtentFactor = 0 },
	}
	for i, mutate := range bad {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := NewController(cfg, 1); err == nil {
			t.Fatalf("case %d: expected config error, got nil", i)
		}
	}
}
