package gradstats

import (
	"fmt"

	"convexsplat/internal/model"
)

// Accumulator keeps per-primitive running aggregates of the optimization
// signals produced by each iteration's render: accumulated positional
// gradient magnitude, accumulated density/scale signal, and a visit
// counter. It owns the arrays exclusively; the population controller reads
// them and triggers resets at mutation boundaries.
type Accumulator struct {
	gradAccum    []float64
	densityAccum []float64
	visits       []int
}

func NewAccumulator(n int) (*Accumulator, error) {
	if n < 0 {
		return nil, fmt.Errorf("primitive count must be >= 0")
	}
	a := &Accumulator{}
	a.ResetTo(n)
	return a, nil
}

func (a *Accumulator) Len() int { return len(a.visits) }

// Record adds the current iteration's signals for every visible primitive.
// All slices must be index-aligned with the primitive set.
func (a *Accumulator) Record(visible []bool, posGrads []model.Vec3, density []float64) error {
	n := a.Len()
	if len(visible) != n || len(posGrads) != n || len(density) != n {
		return fmt.Errorf("record length mismatch: accumulator=%d visible=%d grads=%d density=%d",
			n, len(visible), len(posGrads), len(density))
	}
	for i := range visible {
		if !visible[i] {
			continue
		}
		a.gradAccum[i] += posGrads[i].Norm()
		a.densityAccum[i] += density[i]
		a.visits[i]++
	}
	return nil
}

// MeanGradient returns accumulated gradient over visit count. A primitive
// that was never visible yields zero, never a division error; such
// primitives are simply not densification candidates.
func (a *Accumulator) MeanGradient(i int) float64 {
	if a.visits[i] == 0 {
		return 0
	}
	return a.gradAccum[i] / float64(a.visits[i])
}

func (a *Accumulator) MeanDensity(i int) float64 {
	if a.visits[i] == 0 {
		return 0
	}
	return a.densityAccum[i] / float64(a.visits[i])
}

func (a *Accumulator) Visits(i int) int { return a.visits[i] }

// Reset zeroes every accumulator in place.
func (a *Accumulator) Reset() {
	for i := range a.visits {
		a.gradAccum[i] = 0
		a.densityAccum[i] = 0
		a.visits[i] = 0
	}
}

// ResetTo zeroes the accumulators and resizes them to n, matching the
// primitive set after a structural mutation.
func (a *Accumulator) ResetTo(n int) {
	a.gradAccum = make([]float64, n)
	a.densityAccum = make([]float64, n)
	a.visits = make([]int, n)
}
