package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"convexsplat/internal/model"
)

func testCheckpoint() model.Checkpoint {
	return model.Checkpoint{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-1",
		Iteration:       200,
		Set: model.PrimitiveSet{
			Positions:  []model.Vec3{{1, 2, 3}},
			Sigmas:     []float64{0.01},
			Deltas:     []float64{0.1},
			Opacities:  []float64{0.5},
			MaskLogits: []float64{2},
			Features:   [][]float64{{0, 0, 0}},
			MaxRadii:   []float64{0},
			MaxDegree:  0,
			Generation: 4,
		},
		Optimizer: model.OptimizerState{
			Groups: []model.GroupState{
				{Name: "position", Width: 3, Step: 200, M: [][]float64{{0.1, 0, 0}}, V: [][]float64{{0.01, 0, 0}}},
			},
		},
	}
}

func TestCheckpointCodecRoundTrip(t *testing.T) {
	input := testCheckpoint()
	encoded, err := EncodeCheckpoint(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCheckpoint(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", decoded, input)
	}
}

func TestDecodeCheckpointFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_checkpoint_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	cp, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if cp.RunID != "run-minimal-1" || cp.Iteration != 7000 {
		t.Fatalf("unexpected checkpoint identity: %s@%d", cp.RunID, cp.Iteration)
	}
	if cp.Set.Len() != 1 {
		t.Fatalf("fixture set length = %d, want 1", cp.Set.Len())
	}
	if err := cp.Set.Validate(); err != nil {
		t.Fatalf("fixture set invalid: %v", err)
	}
}

func TestDecodeCheckpointVersionMismatch(t *testing.T) {
	cp := testCheckpoint()
	cp.CodecVersion++
	encoded, err := EncodeCheckpoint(cp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeCheckpoint(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestRunSummaryCodecRoundTrip(t *testing.T) {
	input := model.RunSummary{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-1",
		CreatedAtUTC:    "2026-02-01T00:00:00Z",
		Iterations:      30000,
		FinalLoss:       0.05,
		FinalPrimitives: 90000,
		Outdoor:         true,
	}
	encoded, err := EncodeRunSummary(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRunSummary(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", decoded, input)
	}
}

func TestDecodeRunSummaryFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_run_summary_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	summary, err := DecodeRunSummary(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if summary.RunID != "run-minimal-1" || !summary.Outdoor {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestDecodeRunSummaryVersionMismatch(t *testing.T) {
	summary := model.RunSummary{VersionedRecord: CurrentVersion(), RunID: "run-1"}
	summary.SchemaVersion++
	encoded, err := EncodeRunSummary(summary)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeRunSummary(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
