package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"convexsplat/internal/model"
)

// writePointCloud dumps a checkpointed primitive set as indented JSON under
// the run's output directory, named by the checkpoint iteration.
func writePointCloud(dir string, iteration int, set *model.PrimitiveSet) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("point_cloud_%d.json", iteration))
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode point cloud: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write point cloud: %w", err)
	}
	return path, nil
}
