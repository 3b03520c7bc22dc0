package model

import (
	"fmt"
	"math"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// PrimitiveSet is the optimized scene representation: an ordered,
// index-addressed structure of arrays. The same index refers to the same
// logical primitive across every attribute array; indices are only valid
// until the next structural mutation, signalled by Generation.
type PrimitiveSet struct {
	VersionedRecord
	Positions  []Vec3      `json:"positions"`
	Sigmas     []float64   `json:"sigmas"`
	Deltas     []float64   `json:"deltas"`
	Opacities  []float64   `json:"opacities"`
	MaskLogits []float64   `json:"mask_logits"`
	Features   [][]float64 `json:"features"`
	MaxRadii   []float64   `json:"max_radii"`

	ActiveDegree int    `json:"active_degree"`
	MaxDegree    int    `json:"max_degree"`
	Generation   uint64 `json:"generation"`
}

// FeatureSize is the fixed per-primitive color coefficient count for a
// basis of the given maximum degree, three channels per basis function.
func FeatureSize(maxDegree int) int {
	return 3 * (maxDegree + 1) * (maxDegree + 1)
}

func (s *PrimitiveSet) Len() int { return len(s.Positions) }

// IncreaseDegree raises the active color-basis degree by one, capped at
// the maximum the feature vectors were allocated for.
func (s *PrimitiveSet) IncreaseDegree() {
	if s.ActiveDegree < s.MaxDegree {
		s.ActiveDegree++
	}
}

// Validate asserts the index-alignment invariant: every per-primitive
// array has identical length and every feature vector the allocated size.
func (s *PrimitiveSet) Validate() error {
	n := len(s.Positions)
	if len(s.Sigmas) != n || len(s.Deltas) != n || len(s.Opacities) != n ||
		len(s.MaskLogits) != n || len(s.Features) != n || len(s.MaxRadii) != n {
		return fmt.Errorf("primitive arrays out of alignment: positions=%d sigmas=%d deltas=%d opacities=%d masks=%d features=%d radii=%d",
			n, len(s.Sigmas), len(s.Deltas), len(s.Opacities), len(s.MaskLogits), len(s.Features), len(s.MaxRadii))
	}
	want := FeatureSize(s.MaxDegree)
	for i, f := range s.Features {
		if len(f) != want {
			return fmt.Errorf("feature vector %d has size %d, want %d", i, len(f), want)
		}
	}
	for i, o := range s.Opacities {
		if o < 0 || o > 1 {
			return fmt.Errorf("opacity %d out of [0,1]: %v", i, o)
		}
	}
	return nil
}

// Append adds the primitives of block to the end of the set and bumps the
// generation. The block must itself be aligned and carry the same degrees.
func (s *PrimitiveSet) Append(block *PrimitiveSet) error {
	if err := block.Validate(); err != nil {
		return fmt.Errorf("append block: %w", err)
	}
	if block.MaxDegree != s.MaxDegree {
		return fmt.Errorf("append block degree mismatch: got=%d want=%d", block.MaxDegree, s.MaxDegree)
	}
	s.Positions = append(s.Positions, block.Positions...)
	s.Sigmas = append(s.Sigmas, block.Sigmas...)
	s.Deltas = append(s.Deltas, block.Deltas...)
	s.Opacities = append(s.Opacities, block.Opacities...)
	s.MaskLogits = append(s.MaskLogits, block.MaskLogits...)
	s.Features = append(s.Features, block.Features...)
	s.MaxRadii = append(s.MaxRadii, block.MaxRadii...)
	s.Generation++
	return nil
}

// Compact removes every index whose keep entry is false, preserving the
// relative order of survivors identically across all arrays, and bumps the
// generation. Returns the number of survivors.
func (s *PrimitiveSet) Compact(keep []bool) (int, error) {
	if len(keep) != s.Len() {
		return 0, fmt.Errorf("keep mask length %d, set length %d", len(keep), s.Len())
	}
	out := 0
	for i, k := range keep {
		if !k {
			continue
		}
		s.Positions[out] = s.Positions[i]
		s.Sigmas[out] = s.Sigmas[i]
		s.Deltas[out] = s.Deltas[i]
		s.Opacities[out] = s.Opacities[i]
		s.MaskLogits[out] = s.MaskLogits[i]
		s.Features[out] = s.Features[i]
		s.MaxRadii[out] = s.MaxRadii[i]
		out++
	}
	s.Positions = s.Positions[:out]
	s.Sigmas = s.Sigmas[:out]
	s.Deltas = s.Deltas[:out]
	s.Opacities = s.Opacities[:out]
	s.MaskLogits = s.MaskLogits[:out]
	s.Features = s.Features[:out]
	s.MaxRadii = s.MaxRadii[:out]
	s.Generation++
	return out, nil
}

// Clone returns a deep copy, used when a checkpoint must not alias the
// live set.
func (s *PrimitiveSet) Clone() *PrimitiveSet {
	out := &PrimitiveSet{
		VersionedRecord: s.VersionedRecord,
		Positions:       append([]Vec3(nil), s.Positions...),
		Sigmas:          append([]float64(nil), s.Sigmas...),
		Deltas:          append([]float64(nil), s.Deltas...),
		Opacities:       append([]float64(nil), s.Opacities...),
		MaskLogits:      append([]float64(nil), s.MaskLogits...),
		Features:        make([][]float64, len(s.Features)),
		MaxRadii:        append([]float64(nil), s.MaxRadii...),
		ActiveDegree:    s.ActiveDegree,
		MaxDegree:       s.MaxDegree,
		Generation:      s.Generation,
	}
	for i, f := range s.Features {
		out.Features[i] = append([]float64(nil), f...)
	}
	return out
}

// GroupState is one optimizer parameter group's momentum state, rows
// index-aligned with the primitive set.
type GroupState struct {
	Name  string      `json:"name"`
	Width int         `json:"width"`
	Step  int64       `json:"step"`
	M     [][]float64 `json:"m"`
	V     [][]float64 `json:"v"`
}

type OptimizerState struct {
	Groups []GroupState `json:"groups"`
}

// Checkpoint is the durable pair the loop resumes from: primitive set,
// optimizer internals, and the iteration at which it was taken.
type Checkpoint struct {
	VersionedRecord
	RunID     string         `json:"run_id"`
	Iteration int            `json:"iteration"`
	Set       PrimitiveSet   `json:"set"`
	Optimizer OptimizerState `json:"optimizer"`
}

// RunSummary is the per-run index entry kept alongside checkpoints.
type RunSummary struct {
	VersionedRecord
	RunID           string  `json:"run_id"`
	CreatedAtUTC    string  `json:"created_at_utc"`
	Iterations      int     `json:"iterations"`
	FinalLoss       float64 `json:"final_loss"`
	FinalPrimitives int     `json:"final_primitives"`
	Light           bool    `json:"light"`
	Outdoor         bool    `json:"outdoor"`
}
