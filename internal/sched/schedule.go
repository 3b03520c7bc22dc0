package sched

import (
	"fmt"
	"math"
)

// Schedule computes a learning rate for an iteration index. Schedules are
// pure; the caller applies the returned rate to the optimizer.
type Schedule interface {
	Rate(step int) float64
}

type Constant struct {
	Value float64
}

func (c Constant) Rate(_ int) float64 { return c.Value }

// Exponential decays geometrically in log-space from Init to Final over
// MaxSteps, with progress clipped to [0,1]. When DelaySteps is positive the
// rate is additionally scaled by a ramp that starts at DelayMult and rises
// to 1 over the delay window, so early iterations move slowly. Past the
// horizon the rate is held at Final.
type Exponential struct {
	Init       float64
	Final      float64
	DelayMult  float64
	DelaySteps int
	MaxSteps   int
}

func (e Exponential) Rate(step int) float64 {
	if step < 0 || (e.Init == 0 && e.Final == 0) {
		return 0
	}
	delay := 1.0
	if e.DelaySteps > 0 {
		s := clamp(float64(step)/float64(e.DelaySteps), 0, 1)
		delay = e.DelayMult + (1-e.DelayMult)*math.Sin(0.5*math.Pi*s)
	}
	t := clamp(float64(step)/float64(e.MaxSteps), 0, 1)
	logLerp := math.Exp(math.Log(e.Init)*(1-t) + math.Log(e.Final)*t)
	return delay * logLerp
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Group binds one optimizable parameter group to its schedule.
type Group struct {
	Name     string
	Schedule Schedule
}

// Scheduler owns the schedule state: the iteration counter and the
// per-group interpolation configuration. Update advances the counter and
// returns the current rate for every group.
type Scheduler struct {
	groups    []Group
	iteration int
}

func NewScheduler(groups []Group) (*Scheduler, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("at least one parameter group is required")
	}
	seen := make(map[string]struct{}, len(groups))
	for i, g := range groups {
		if g.Name == "" {
			return nil, fmt.Errorf("group name is required at index %d", i)
		}
		if g.Schedule == nil {
			return nil, fmt.Errorf("schedule is required for group %s", g.Name)
		}
		if _, dup := seen[g.Name]; dup {
			return nil, fmt.Errorf("duplicate group name: %s", g.Name)
		}
		seen[g.Name] = struct{}{}
	}
	return &Scheduler{groups: groups}, nil
}

func (s *Scheduler) Update(iteration int) map[string]float64 {
	s.iteration = iteration
	rates := make(map[string]float64, len(s.groups))
	for _, g := range s.groups {
		rates[g.Name] = g.Schedule.Rate(iteration)
	}
	return rates
}

func (s *Scheduler) Iteration() int { return s.iteration }
