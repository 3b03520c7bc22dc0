package train

import "testing"

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestAdaptLightKeepsDefaults(t *testing.T) {
	def := DefaultConfig()
	got := Adapt(def, true, false)
	if got != def {
		t.Fatalf("light profile must keep defaults, got %+v", got)
	}
	got = Adapt(def, true, true)
	if got != def {
		t.Fatalf("light profile must keep defaults regardless of outdoor, got %+v", got)
	}
}

func TestAdaptOutdoorOverrides(t *testing.T) {
	got := Adapt(DefaultConfig(), false, true)
	if got.SetSigma != 0.001 {
		t.Fatalf("set sigma = %v, want 0.001", got.SetSigma)
	}
	if got.DensifyGradThreshold != 0.000001 {
		t.Fatalf("grad threshold = %v, want 1e-6", got.DensifyGradThreshold)
	}
	if got.SigmaLR != 0.004 {
		t.Fatalf("sigma lr = %v, want 0.004", got.SigmaLR)
	}
	if got.ResetOpacityUntil != 18000 {
		t.Fatalf("reset opacity until = %v, want 18000", got.ResetOpacityUntil)
	}
	if got.ScalingCloning != 0.6 {
		t.Fatalf("scaling cloning = %v, want 0.6", got.ScalingCloning)
	}
	// Untouched by the outdoor profile.
	if got.PositionLRInit != DefaultConfig().PositionLRInit {
		t.Fatalf("position lr init changed to %v", got.PositionLRInit)
	}
}

func TestAdaptIndoorHeavyOverrides(t *testing.T) {
	got := Adapt(DefaultConfig(), false, false)
	if got.SigmaScaling != 0.85 {
		t.Fatalf("sigma scaling = %v, want 0.85", got.SigmaScaling)
	}
	if got.SetSigma != 0.0009 {
		t.Fatalf("set sigma = %v, want 0.0009", got.SetSigma)
	}
	if got.DensifyGradThreshold != 0.000006 {
		t.Fatalf("grad threshold = %v, want 6e-6", got.DensifyGradThreshold)
	}
	if got.MaskThreshold != 0.02 {
		t.Fatalf("mask threshold = %v, want 0.02", got.MaskThreshold)
	}
	if got.ScalingCloning != 0.7 {
		t.Fatalf("scaling cloning = %v, want 0.7", got.ScalingCloning)
	}
	if got.PositionLRInit != 0.0004 || got.PositionLRFinal != 0.000004 {
		t.Fatalf("position lr = %v..%v, want 4e-4..4e-6", got.PositionLRInit, got.PositionLRFinal)
	}
	if got.DensifyUntilIter != 9500 {
		t.Fatalf("densify until = %v, want 9500", got.DensifyUntilIter)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Iterations = 0 },
		func(c *Config) { c.PositionLRMaxSteps = 0 },
		func(c *Config) { c.DensificationInterval = 0 },
		func(c *Config) { c.DensifyUntilIter = c.DensifyFromIter },
		func(c *Config) { c.OpacityResetInterval = 0 },
		func(c *Config) { c.PruneInterval = 0 },
		func(c *Config) { c.DegreeInterval = 0 },
		func(c *Config) { c.MaxDegree = -1 },
		func(c *Config) { c.LambdaDSSIM = 1.5 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected config error, got nil", i)
		}
	}
}
