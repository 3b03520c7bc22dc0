package storage

import (
	"context"
	"sort"
	"sync"

	"convexsplat/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[int]model.Checkpoint
	runs        map[string]model.RunSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]map[int]model.Checkpoint),
		runs:        make(map[string]model.RunSummary),
	}
}

// Init is a no-op: the memory backend is usable from construction, so
// callers that skip Init still get a working store.
func (s *MemoryStore) Init(_ context.Context) error {
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIter, ok := s.checkpoints[cp.RunID]
	if !ok {
		byIter = make(map[int]model.Checkpoint)
		s.checkpoints[cp.RunID] = byIter
	}
	byIter[cp.Iteration] = copyCheckpoint(cp)
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string, iteration int) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[runID][iteration]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return copyCheckpoint(cp), true, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byIter := s.checkpoints[runID]
	if len(byIter) == 0 {
		return model.Checkpoint{}, false, nil
	}
	latest := -1
	for it := range byIter {
		if it > latest {
			latest = it
		}
	}
	return copyCheckpoint(byIter[latest]), true, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context, runID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iterations := make([]int, 0, len(s.checkpoints[runID]))
	for it := range s.checkpoints[runID] {
		iterations = append(iterations, it)
	}
	sort.Ints(iterations)
	return iterations, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.runs[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunSummary, 0, len(s.runs))
	for _, summary := range s.runs {
		runs = append(runs, summary)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

// copyCheckpoint deep-copies a checkpoint so stored state never aliases a
// caller's live buffers.
func copyCheckpoint(cp model.Checkpoint) model.Checkpoint {
	out := cp
	out.Set = *cp.Set.Clone()
	out.Optimizer = model.OptimizerState{Groups: make([]model.GroupState, 0, len(cp.Optimizer.Groups))}
	for _, g := range cp.Optimizer.Groups {
		gc := model.GroupState{
			Name:  g.Name,
			Width: g.Width,
			Step:  g.Step,
			M:     make([][]float64, len(g.M)),
			V:     make([][]float64, len(g.V)),
		}
		for i := range g.M {
			gc.M[i] = append([]float64(nil), g.M[i]...)
		}
		for i := range g.V {
			gc.V[i] = append([]float64(nil), g.V[i]...)
		}
		out.Optimizer.Groups = append(out.Optimizer.Groups, gc)
	}
	return out
}
