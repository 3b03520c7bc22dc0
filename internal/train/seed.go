package train

import (
	"fmt"
	"math"
	"math/rand"

	"convexsplat/internal/model"
)

// ConstructSeedSet builds the initial population: count primitives placed
// uniformly inside a ball of the given radius around the origin, with the
// configured starting shape, opacity and a mildly open mask. Feature
// vectors are allocated for the configured maximum degree and start at
// zero, which renders as mid-gray.
func ConstructSeedSet(cfg Config, count int, radius float64) (*model.PrimitiveSet, error) {
	if count <= 0 {
		return nil, fmt.Errorf("seed count must be > 0")
	}
	if radius <= 0 {
		return nil, fmt.Errorf("seed radius must be > 0")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	set := &model.PrimitiveSet{MaxDegree: cfg.MaxDegree}
	for i := 0; i < count; i++ {
		set.Positions = append(set.Positions, ballPoint(rng, radius))
		set.Sigmas = append(set.Sigmas, cfg.SetSigma)
		set.Deltas = append(set.Deltas, cfg.SetDelta)
		set.Opacities = append(set.Opacities, cfg.SetOpacity)
		set.MaskLogits = append(set.MaskLogits, 2.0)
		set.Features = append(set.Features, make([]float64, model.FeatureSize(cfg.MaxDegree)))
		set.MaxRadii = append(set.MaxRadii, 0)
	}
	return set, nil
}

func ballPoint(rng *rand.Rand, radius float64) model.Vec3 {
	for {
		v := model.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		n := v.Norm()
		if n < 1e-12 {
			continue
		}
		r := radius * math.Cbrt(rng.Float64())
		return v.Scale(r / n)
	}
}
