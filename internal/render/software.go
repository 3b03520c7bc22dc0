package render

import (
	"fmt"
	"math"

	"convexsplat/internal/model"
)

// SoftwareEngine is a small deterministic point-splat renderer. It stands
// in for the accelerator-backed rasterizer in tests and smoke runs the way
// the built-in scapes stand in for real environments: plausible signals,
// exact index alignment, no hardware. Production runs plug in an external
// Engine.
type SoftwareEngine struct {
	// PositionGradScale converts pixel residual magnitude into a synthetic
	// viewspace positional gradient.
	PositionGradScale float64
}

func NewSoftwareEngine() *SoftwareEngine {
	return &SoftwareEngine{PositionGradScale: 1e-3}
}

func (e *SoftwareEngine) Render(view View, set *model.PrimitiveSet, _ PipelineConfig, background [3]float64) (*Output, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("render input: %w", err)
	}
	n := set.Len()
	out := &Output{
		Image:         NewImage(view.Width, view.Height),
		Visibility:    make([]bool, n),
		ScreenRadii:   make([]float64, n),
		DensitySignal: make([]float64, n),
		ViewSigma:     make([]float64, n),
	}
	for p := 0; p < len(out.Image.Pix); p += 3 {
		out.Image.Pix[p] = background[0]
		out.Image.Pix[p+1] = background[1]
		out.Image.Pix[p+2] = background[2]
	}

	focal := float64(view.Height)
	for i := 0; i < n; i++ {
		px, py, depth, ok := project(view, set.Positions[i])
		if !ok {
			continue
		}
		out.Visibility[i] = true
		out.ScreenRadii[i] = set.Sigmas[i] * focal / depth
		out.ViewSigma[i] = set.Sigmas[i] / depth
		out.DensitySignal[i] = set.Opacities[i] * set.Sigmas[i] / depth

		alpha := set.Opacities[i] * sigmoid(set.MaskLogits[i])
		idx := out.Image.index(px, py)
		for c := 0; c < 3; c++ {
			color := clamp01(0.5 + set.Features[i][c])
			out.Image.Pix[idx+c] = out.Image.Pix[idx+c]*(1-alpha) + color*alpha
		}
	}
	return out, nil
}

func (e *SoftwareEngine) Backward(view View, set *model.PrimitiveSet, out *Output, residual Image) (*Gradients, error) {
	n := set.Len()
	if len(out.Visibility) != n {
		return nil, fmt.Errorf("backward output stale: visibility=%d set=%d", len(out.Visibility), n)
	}
	if residual.Width != view.Width || residual.Height != view.Height {
		return nil, fmt.Errorf("residual size %dx%d, view %dx%d", residual.Width, residual.Height, view.Width, view.Height)
	}
	g := &Gradients{
		Positions:  make([]model.Vec3, n),
		Sigmas:     make([]float64, n),
		Deltas:     make([]float64, n),
		Opacities:  make([]float64, n),
		MaskLogits: make([]float64, n),
		Features:   make([][]float64, n),
	}
	featureSize := model.FeatureSize(set.MaxDegree)
	scale := e.PositionGradScale
	if scale == 0 {
		scale = 1e-3
	}
	for i := 0; i < n; i++ {
		g.Features[i] = make([]float64, featureSize)
		if !out.Visibility[i] {
			continue
		}
		px, py, _, ok := project(view, set.Positions[i])
		if !ok {
			continue
		}
		idx := residual.index(px, py)
		var errMag, errDotColor float64
		for c := 0; c < 3; c++ {
			r := residual.Pix[idx+c]
			errMag += math.Abs(r)
			errDotColor += r * clamp01(0.5+set.Features[i][c])
			g.Features[i][c] = set.Opacities[i] * r
		}
		g.Positions[i] = model.Vec3{scale * errMag, scale * errMag, 0}
		g.Opacities[i] = errDotColor * sigmoid(set.MaskLogits[i])
		g.Sigmas[i] = scale * errMag * set.Sigmas[i]
		g.Deltas[i] = scale * errMag * set.Deltas[i]
		g.MaskLogits[i] = errDotColor * set.Opacities[i] * sigmoidDeriv(set.MaskLogits[i])
	}
	// Regularizer gradient pushes every mask logit down a little,
	// including invisible primitives.
	regScale := 5e-4 / float64(max(n, 1))
	for i := 0; i < n; i++ {
		g.MaskLogits[i] += regScale * sigmoidDeriv(set.MaskLogits[i])
	}
	return g, nil
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func sigmoidDeriv(x float64) float64 {
	s := sigmoid(x)
	return s * (1 - s)
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
