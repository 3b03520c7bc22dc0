package train

import (
	"fmt"
	"math"

	"convexsplat/internal/render"
)

// maskRegularizerWeight penalizes the mean mask activation so primitives
// that stop contributing drift below the prune threshold.
const maskRegularizerWeight = 5e-4

// Residual returns the per-channel difference rendered - target. The
// render engines consume it directly as the backward-pass input.
func Residual(rendered, target render.Image) (render.Image, error) {
	if rendered.Width != target.Width || rendered.Height != target.Height {
		return render.Image{}, fmt.Errorf("residual size mismatch: %dx%d vs %dx%d",
			rendered.Width, rendered.Height, target.Width, target.Height)
	}
	out := render.NewImage(rendered.Width, rendered.Height)
	for i := range out.Pix {
		out.Pix[i] = rendered.Pix[i] - target.Pix[i]
	}
	return out, nil
}

// L1 is the mean absolute channel error of a residual image.
func L1(residual render.Image) float64 {
	if len(residual.Pix) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range residual.Pix {
		sum += math.Abs(v)
	}
	return sum / float64(len(residual.Pix))
}

// SSIM computes a whole-image structural similarity index over all
// channels, with the standard stabilizers for a unit dynamic range.
func SSIM(a, b render.Image) (float64, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return 0, fmt.Errorf("ssim size mismatch: %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	n := float64(len(a.Pix))
	if n == 0 {
		return 1, nil
	}
	var meanA, meanB float64
	for i := range a.Pix {
		meanA += a.Pix[i]
		meanB += b.Pix[i]
	}
	meanA /= n
	meanB /= n
	var varA, varB, cov float64
	for i := range a.Pix {
		da := a.Pix[i] - meanA
		db := b.Pix[i] - meanB
		varA += da * da
		varB += db * db
		cov += da * db
	}
	varA /= n
	varB /= n
	cov /= n
	const (
		c1 = 0.01 * 0.01
		c2 = 0.03 * 0.03
	)
	num := (2*meanA*meanB + c1) * (2*cov + c2)
	den := (meanA*meanA + meanB*meanB + c1) * (varA + varB + c2)
	return num / den, nil
}

// MaskMean is the mean sigmoid activation of the mask logits, the term
// scaled by maskRegularizerWeight in the total loss.
func MaskMean(logits []float64) float64 {
	if len(logits) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range logits {
		sum += sigmoid(l)
	}
	return sum / float64(len(logits))
}

// Loss combines L1, structural dissimilarity and the mask regularizer
// into the scalar objective, and returns the residual image the backward
// pass needs.
func Loss(rendered, target render.Image, maskLogits []float64, lambdaDSSIM float64) (float64, render.Image, error) {
	residual, err := Residual(rendered, target)
	if err != nil {
		return 0, render.Image{}, err
	}
	ssim, err := SSIM(rendered, target)
	if err != nil {
		return 0, render.Image{}, err
	}
	l1 := L1(residual)
	total := (1-lambdaDSSIM)*l1 + lambdaDSSIM*(1-ssim) + maskRegularizerWeight*MaskMean(maskLogits)
	return total, residual, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
