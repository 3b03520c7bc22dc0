package main

import (
	"fmt"
	"strconv"
	"strings"

	"convexsplat/internal/train"
)

// overrideFromFlags applies explicitly-set CLI flags on top of a config
// loaded from a stored run record, so resume invocations only need the
// flags they want to change.
func overrideFromFlags(cfg *train.Config, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "iterations":
			cfg.Iterations = v.(int)
		case "seed":
			cfg.Seed = v.(int64)
		case "position-lr-init":
			cfg.PositionLRInit = v.(float64)
		case "position-lr-final":
			cfg.PositionLRFinal = v.(float64)
		case "feature-lr":
			cfg.FeatureLR = v.(float64)
		case "opacity-lr":
			cfg.OpacityLR = v.(float64)
		case "sigma-lr":
			cfg.SigmaLR = v.(float64)
		case "delta-lr":
			cfg.DeltaLR = v.(float64)
		case "lambda-dssim":
			cfg.LambdaDSSIM = v.(float64)
		case "densify-from":
			cfg.DensifyFromIter = v.(int)
		case "densify-until":
			cfg.DensifyUntilIter = v.(int)
		case "densify-interval":
			cfg.DensificationInterval = v.(int)
		case "densify-grad-threshold":
			cfg.DensifyGradThreshold = v.(float64)
		case "opacity-reset-interval":
			cfg.OpacityResetInterval = v.(int)
		case "reset-opacity-until":
			cfg.ResetOpacityUntil = v.(int)
		case "min-opacity":
			cfg.MinOpacity = v.(float64)
		case "mask-threshold":
			cfg.MaskThreshold = v.(float64)
		case "remove-size-threshold":
			cfg.RemoveSizeThreshold = v.(float64)
		case "max-degree":
			cfg.MaxDegree = v.(int)
		case "white-background":
			cfg.WhiteBackground = v.(bool)
		case "random-background":
			cfg.RandomBackground = v.(bool)
		}
	}
}

// parseIterationList parses a comma-separated iteration list such as
// "7000,30000".
func parseIterationList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		it, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid iteration %q: %w", part, err)
		}
		if it <= 0 {
			return nil, fmt.Errorf("iteration must be > 0, got %d", it)
		}
		out = append(out, it)
	}
	return out, nil
}
