package train

import "testing"

func TestConstructSeedSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 11
	set, err := ConstructSeedSet(cfg, 50, 2.0)
	if err != nil {
		t.Fatalf("construct seed set: %v", err)
	}
	if set.Len() != 50 {
		t.Fatalf("len = %d, want 50", set.Len())
	}
	if err := set.Validate(); err != nil {
		t.Fatalf("seed set invalid: %v", err)
	}
	for i, p := range set.Positions {
		if p.Norm() > 2.0 {
			t.Fatalf("position %d outside seed radius: %v", i, p)
		}
	}
	for i := range set.Sigmas {
		if set.Sigmas[i] != cfg.SetSigma || set.Opacities[i] != cfg.SetOpacity || set.Deltas[i] != cfg.SetDelta {
			t.Fatalf("primitive %d not initialized from config", i)
		}
	}
}

func TestConstructSeedSetDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 3
	a, err := ConstructSeedSet(cfg, 10, 1.0)
	if err != nil {
		t.Fatalf("construct seed set: %v", err)
	}
	b, err := ConstructSeedSet(cfg, 10, 1.0)
	if err != nil {
		t.Fatalf("construct seed set: %v", err)
	}
	for i := range a.Positions {
		if a.Positions[i] != b.Positions[i] {
			t.Fatalf("position %d differs across identical seeds", i)
		}
	}
}

func TestConstructSeedSetRejectsBadArgs(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := ConstructSeedSet(cfg, 0, 1.0); err == nil {
		t.Fatal("expected error for zero count, got nil")
	}
	if _, err := ConstructSeedSet(cfg, 10, 0); err == nil {
		t.Fatal("expected error for zero radius, got nil")
	}
}
