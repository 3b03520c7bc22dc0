package train

import (
	"fmt"

	"convexsplat/internal/pop"
	"convexsplat/internal/sched"
)

// Config is the full optimization configuration, immutable once the loop
// is constructed. Domain-conditional overrides go through Adapt before
// construction; nothing mutates a config afterwards.
type Config struct {
	Iterations int   `json:"iterations"`
	Seed       int64 `json:"seed"`

	PositionLRInit       float64 `json:"position_lr_init"`
	PositionLRFinal      float64 `json:"position_lr_final"`
	PositionLRDelayMult  float64 `json:"position_lr_delay_mult"`
	PositionLRDelaySteps int     `json:"position_lr_delay_steps"`
	PositionLRMaxSteps   int     `json:"position_lr_max_steps"`
	FeatureLR            float64 `json:"feature_lr"`
	OpacityLR            float64 `json:"opacity_lr"`
	MaskLR               float64 `json:"mask_lr"`
	DeltaLR              float64 `json:"delta_lr"`
	SigmaLR              float64 `json:"sigma_lr"`

	LambdaDSSIM float64 `json:"lambda_dssim"`

	DensificationInterval int     `json:"densification_interval"`
	DensifyFromIter       int     `json:"densify_from_iter"`
	DensifyUntilIter      int     `json:"densify_until_iter"`
	DensifyGradThreshold  float64 `json:"densify_grad_threshold"`
	OpacityResetInterval  int     `json:"opacity_reset_interval"`
	OpacityReset          float64 `json:"opacity_reset"`
	ResetOpacityUntil     int     `json:"reset_opacity_until"`
	PruneInterval         int     `json:"prune_interval"`
	RemoveSizeThreshold   float64 `json:"remove_size_threshold"`
	MinOpacity            float64 `json:"min_opacity"`
	MaskThreshold         float64 `json:"mask_threshold"`

	SplitSizeQuantile float64 `json:"split_size_quantile"`
	SplitChildren     int     `json:"split_children"`
	SceneExtentFactor float64 `json:"scene_extent_factor"`
	ScalingCloning    float64 `json:"scaling_cloning"`
	SigmaScaling      float64 `json:"sigma_scaling_cloning"`
	DeltaScaling      float64 `json:"delta_scaling_cloning"`
	OpacityCloning    float64 `json:"opacity_cloning"`
	ShiftingCloning   float64 `json:"shifting_cloning"`
	SetOpacity        float64 `json:"set_opacity"`
	SetSigma          float64 `json:"set_sigma"`
	SetDelta          float64 `json:"set_delta"`

	MaxDegree      int `json:"max_degree"`
	DegreeInterval int `json:"degree_interval"`

	WhiteBackground  bool `json:"white_background"`
	RandomBackground bool `json:"random_background"`
}

func DefaultConfig() Config {
	return Config{
		Iterations: 30_000,

		PositionLRInit:      0.0005,
		PositionLRFinal:     0.000005,
		PositionLRDelayMult: 0.01,
		PositionLRMaxSteps:  30_000,
		FeatureLR:           0.0025,
		OpacityLR:           0.01,
		MaskLR:              0.01,
		DeltaLR:             0.005,
		SigmaLR:             0.0045,

		LambdaDSSIM: 0.2,

		DensificationInterval: 200,
		DensifyFromIter:       500,
		DensifyUntilIter:      9_000,
		DensifyGradThreshold:  0.000025,
		OpacityResetInterval:  3_000,
		OpacityReset:          0.2,
		ResetOpacityUntil:     5_000,
		PruneInterval:         1_000,
		RemoveSizeThreshold:   0.3,
		MinOpacity:            0.03,
		MaskThreshold:         0.01,

		SplitSizeQuantile: 0.9,
		SplitChildren:     2,
		SceneExtentFactor: 0.1,
		ScalingCloning:    0.63,
		SigmaScaling:      0.88,
		DeltaScaling:      1.0,
		OpacityCloning:    0.5,
		ShiftingCloning:   1.0,
		SetOpacity:        0.1,
		SetSigma:          0.00095,
		SetDelta:          0.1,

		MaxDegree:      3,
		DegreeInterval: 1_000,
	}
}

// Adapt applies the domain-conditional threshold remapping selected by the
// light/outdoor toggles. It is a pure transformation: callers apply it
// once before loop construction and thread the result everywhere.
func Adapt(cfg Config, light, outdoor bool) Config {
	if !light && outdoor {
		cfg.SetSigma = 0.001
		cfg.DensifyGradThreshold = 0.000001
		cfg.SigmaLR = 0.004
		cfg.ResetOpacityUntil = 18_000
		cfg.ScalingCloning = 0.6
	}
	if !light && !outdoor {
		cfg.SigmaScaling = 0.85
		cfg.SetSigma = 0.0009
		cfg.DensifyGradThreshold = 0.000006
		cfg.MaskThreshold = 0.02
		cfg.ScalingCloning = 0.7
		cfg.PositionLRInit = 0.0004
		cfg.PositionLRFinal = 0.000004
		cfg.DensifyUntilIter = 9_500
	}
	return cfg
}

func (c Config) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be > 0")
	}
	if c.PositionLRMaxSteps <= 0 {
		return fmt.Errorf("position lr max steps must be > 0")
	}
	if c.DensificationInterval <= 0 {
		return fmt.Errorf("densification interval must be > 0")
	}
	if c.DensifyFromIter < 0 || c.DensifyUntilIter <= c.DensifyFromIter {
		return fmt.Errorf("densify window [%d, %d] is invalid", c.DensifyFromIter, c.DensifyUntilIter)
	}
	if c.OpacityResetInterval <= 0 {
		return fmt.Errorf("opacity reset interval must be > 0")
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("prune interval must be > 0")
	}
	if c.DegreeInterval <= 0 {
		return fmt.Errorf("degree interval must be > 0")
	}
	if c.MaxDegree < 0 {
		return fmt.Errorf("max degree must be >= 0")
	}
	if c.LambdaDSSIM < 0 || c.LambdaDSSIM > 1 {
		return fmt.Errorf("lambda dssim must be in [0,1]")
	}
	return nil
}

func (c Config) popConfig() pop.Config {
	return pop.Config{
		DensifyGradThreshold: c.DensifyGradThreshold,
		MinOpacity:           c.MinOpacity,
		MaskThreshold:        c.MaskThreshold,
		SplitSizeQuantile:    c.SplitSizeQuantile,
		SplitChildren:        c.SplitChildren,
		ScalingCloning:       c.ScalingCloning,
		SigmaScaling:         c.SigmaScaling,
		DeltaScaling:         c.DeltaScaling,
		OpacityCloning:       c.OpacityCloning,
		ShiftingCloning:      c.ShiftingCloning,
		SetOpacity:           c.SetOpacity,
		SetSigma:             c.SetSigma,
		SetDelta:             c.SetDelta,
		OpacityReset:         c.OpacityReset,
		SceneExtentFactor:    c.SceneExtentFactor,
	}
}

func (c Config) schedulerGroups() []sched.Group {
	return []sched.Group{
		{Name: groupPosition, Schedule: sched.Exponential{
			Init:       c.PositionLRInit,
			Final:      c.PositionLRFinal,
			DelayMult:  c.PositionLRDelayMult,
			DelaySteps: c.PositionLRDelaySteps,
			MaxSteps:   c.PositionLRMaxSteps,
		}},
		{Name: groupSigma, Schedule: sched.Constant{Value: c.SigmaLR}},
		{Name: groupDelta, Schedule: sched.Constant{Value: c.DeltaLR}},
		{Name: groupOpacity, Schedule: sched.Constant{Value: c.OpacityLR}},
		{Name: groupMask, Schedule: sched.Constant{Value: c.MaskLR}},
		{Name: groupFeature, Schedule: sched.Constant{Value: c.FeatureLR}},
	}
}
