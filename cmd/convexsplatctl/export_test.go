package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"convexsplat/internal/model"
	"convexsplat/internal/train"
)

func TestWritePointCloud(t *testing.T) {
	cfg := train.DefaultConfig()
	cfg.MaxDegree = 1
	set, err := train.ConstructSeedSet(cfg, 5, 1.0)
	if err != nil {
		t.Fatalf("seed set: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "run-export")
	path, err := writePointCloud(dir, 7000, set)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "point_cloud_7000.json" {
		t.Fatalf("path = %s, want point_cloud_7000.json", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got model.PrimitiveSet
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Len() != 5 || got.MaxDegree != 1 {
		t.Fatalf("decoded %d primitives degree %d, want 5 at degree 1", got.Len(), got.MaxDegree)
	}
}
