package optim

import (
	"fmt"
	"math"

	"convexsplat/internal/model"
)

// GroupSpec declares one parameter group: its name and how many scalar
// components each primitive contributes to it.
type GroupSpec struct {
	Name  string
	Width int
}

type group struct {
	spec GroupSpec
	step int64
	m    [][]float64
	v    [][]float64
}

// Adam keeps first and second moment buffers per parameter group, rows
// index-aligned with the primitive set. The population controller resizes
// them in the same atomic step as the set itself: Append adds
// zero-initialized rows for new primitives, Compact drops rows for pruned
// ones, for every group independently.
type Adam struct {
	Beta1 float64
	Beta2 float64
	Eps   float64

	groups []*group
	byName map[string]*group
	count  int
}

func NewAdam(specs []GroupSpec, count int) (*Adam, error) {
	if count < 0 {
		return nil, fmt.Errorf("primitive count must be >= 0")
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one parameter group is required")
	}
	a := &Adam{
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-15,
		byName: make(map[string]*group, len(specs)),
		count:  count,
	}
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("group name is required at index %d", i)
		}
		if spec.Width <= 0 {
			return nil, fmt.Errorf("group %s width must be > 0", spec.Name)
		}
		if _, dup := a.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate group name: %s", spec.Name)
		}
		g := &group{spec: spec, m: zeroRows(count, spec.Width), v: zeroRows(count, spec.Width)}
		a.groups = append(a.groups, g)
		a.byName[spec.Name] = g
	}
	return a, nil
}

func zeroRows(count, width int) [][]float64 {
	rows := make([][]float64, count)
	for i := range rows {
		rows[i] = make([]float64, width)
	}
	return rows
}

func (a *Adam) Len() int { return a.count }

func (a *Adam) group(name string) (*group, error) {
	g, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown parameter group: %s", name)
	}
	return g, nil
}

// StepScalar applies one Adam update to a width-1 group.
func (a *Adam) StepScalar(name string, lr float64, params, grads []float64) error {
	g, err := a.group(name)
	if err != nil {
		return err
	}
	if g.spec.Width != 1 {
		return fmt.Errorf("group %s has width %d, want 1", name, g.spec.Width)
	}
	if len(params) != a.count || len(grads) != a.count {
		return fmt.Errorf("group %s step length mismatch: params=%d grads=%d state=%d", name, len(params), len(grads), a.count)
	}
	g.step++
	for i := range params {
		params[i] -= a.update(g, i, 0, grads[i], lr)
	}
	return nil
}

// StepVec3 applies one Adam update to a width-3 group stored as Vec3s.
func (a *Adam) StepVec3(name string, lr float64, params, grads []model.Vec3) error {
	g, err := a.group(name)
	if err != nil {
		return err
	}
	if g.spec.Width != 3 {
		return fmt.Errorf("group %s has width %d, want 3", name, g.spec.Width)
	}
	if len(params) != a.count || len(grads) != a.count {
		return fmt.Errorf("group %s step length mismatch: params=%d grads=%d state=%d", name, len(params), len(grads), a.count)
	}
	g.step++
	for i := range params {
		for j := 0; j < 3; j++ {
			params[i][j] -= a.update(g, i, j, grads[i][j], lr)
		}
	}
	return nil
}

// StepRows applies one Adam update to a group with arbitrary width, such
// as the color-basis coefficients.
func (a *Adam) StepRows(name string, lr float64, params, grads [][]float64) error {
	g, err := a.group(name)
	if err != nil {
		return err
	}
	if len(params) != a.count || len(grads) != a.count {
		return fmt.Errorf("group %s step length mismatch: params=%d grads=%d state=%d", name, len(params), len(grads), a.count)
	}
	g.step++
	for i := range params {
		if len(params[i]) != g.spec.Width || len(grads[i]) != g.spec.Width {
			return fmt.Errorf("group %s row %d width mismatch: params=%d grads=%d want=%d", name, i, len(params[i]), len(grads[i]), g.spec.Width)
		}
		for j := 0; j < g.spec.Width; j++ {
			params[i][j] -= a.update(g, i, j, grads[i][j], lr)
		}
	}
	return nil
}

func (a *Adam) update(g *group, i, j int, grad, lr float64) float64 {
	g.m[i][j] = a.Beta1*g.m[i][j] + (1-a.Beta1)*grad
	g.v[i][j] = a.Beta2*g.v[i][j] + (1-a.Beta2)*grad*grad
	mHat := g.m[i][j] / (1 - math.Pow(a.Beta1, float64(g.step)))
	vHat := g.v[i][j] / (1 - math.Pow(a.Beta2, float64(g.step)))
	return lr * mHat / (math.Sqrt(vHat) + a.Eps)
}

// Append adds zero-initialized momentum rows for n new primitives to every
// group.
func (a *Adam) Append(n int) {
	for _, g := range a.groups {
		g.m = append(g.m, zeroRows(n, g.spec.Width)...)
		g.v = append(g.v, zeroRows(n, g.spec.Width)...)
	}
	a.count += n
}

// Compact removes the momentum rows of pruned primitives from every group,
// preserving survivor order.
func (a *Adam) Compact(keep []bool) error {
	if len(keep) != a.count {
		return fmt.Errorf("keep mask length %d, state length %d", len(keep), a.count)
	}
	out := 0
	for i, k := range keep {
		if !k {
			continue
		}
		for _, g := range a.groups {
			g.m[out] = g.m[i]
			g.v[out] = g.v[i]
		}
		out++
	}
	for _, g := range a.groups {
		g.m = g.m[:out]
		g.v = g.v[:out]
	}
	a.count = out
	return nil
}

// ZeroGroup clears one group's momentum in place. Used by the opacity
// reset so stale moments do not immediately undo the capped values.
func (a *Adam) ZeroGroup(name string) error {
	g, err := a.group(name)
	if err != nil {
		return err
	}
	for i := range g.m {
		for j := range g.m[i] {
			g.m[i][j] = 0
			g.v[i][j] = 0
		}
	}
	g.step = 0
	return nil
}

// State snapshots the optimizer internals for a checkpoint.
func (a *Adam) State() model.OptimizerState {
	st := model.OptimizerState{Groups: make([]model.GroupState, 0, len(a.groups))}
	for _, g := range a.groups {
		gs := model.GroupState{
			Name:  g.spec.Name,
			Width: g.spec.Width,
			Step:  g.step,
			M:     make([][]float64, len(g.m)),
			V:     make([][]float64, len(g.v)),
		}
		for i := range g.m {
			gs.M[i] = append([]float64(nil), g.m[i]...)
			gs.V[i] = append([]float64(nil), g.v[i]...)
		}
		st.Groups = append(st.Groups, gs)
	}
	return st
}

// Restore replaces the optimizer internals from a checkpoint snapshot.
func (a *Adam) Restore(st model.OptimizerState) error {
	if len(st.Groups) != len(a.groups) {
		return fmt.Errorf("state group count mismatch: got=%d want=%d", len(st.Groups), len(a.groups))
	}
	count := -1
	for _, gs := range st.Groups {
		g, ok := a.byName[gs.Name]
		if !ok {
			return fmt.Errorf("state has unknown group: %s", gs.Name)
		}
		if gs.Width != g.spec.Width {
			return fmt.Errorf("state group %s width mismatch: got=%d want=%d", gs.Name, gs.Width, g.spec.Width)
		}
		if len(gs.M) != len(gs.V) {
			return fmt.Errorf("state group %s moment rows mismatch: m=%d v=%d", gs.Name, len(gs.M), len(gs.V))
		}
		if count == -1 {
			count = len(gs.M)
		} else if len(gs.M) != count {
			return fmt.Errorf("state group %s row count %d differs from %d", gs.Name, len(gs.M), count)
		}
	}
	for _, gs := range st.Groups {
		g := a.byName[gs.Name]
		g.step = gs.Step
		g.m = make([][]float64, len(gs.M))
		g.v = make([][]float64, len(gs.V))
		for i := range gs.M {
			g.m[i] = append([]float64(nil), gs.M[i]...)
			g.v[i] = append([]float64(nil), gs.V[i]...)
		}
	}
	if count >= 0 {
		a.count = count
	}
	return nil
}
