package render

import (
	"math"
	"testing"

	"convexsplat/internal/model"
)

func testView(t *testing.T) View {
	t.Helper()
	views, err := SyntheticOrbit(1, 32, 32, 4)
	if err != nil {
		t.Fatalf("synthetic orbit: %v", err)
	}
	return views[0]
}

func testSet(n int) *model.PrimitiveSet {
	s := &model.PrimitiveSet{MaxDegree: 1}
	for i := 0; i < n; i++ {
		s.Positions = append(s.Positions, model.Vec3{0.1 * float64(i), 0, 0})
		s.Sigmas = append(s.Sigmas, 0.01)
		s.Deltas = append(s.Deltas, 0.1)
		s.Opacities = append(s.Opacities, 0.5)
		s.MaskLogits = append(s.MaskLogits, 2.0)
		s.Features = append(s.Features, make([]float64, model.FeatureSize(1)))
		s.MaxRadii = append(s.MaxRadii, 0)
	}
	return s
}

func TestCameraCenterRoundTrip(t *testing.T) {
	eye := model.Vec3{3, 1, -2}
	w2c := LookAt(eye, model.Vec3{0, 0, 0})
	center, err := CameraCenter(w2c)
	if err != nil {
		t.Fatalf("camera center: %v", err)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(center[i]-eye[i]) > 1e-9 {
			t.Fatalf("center[%d] = %v, want %v", i, center[i], eye[i])
		}
	}
}

func TestSceneExtentCoversOrbit(t *testing.T) {
	views, err := SyntheticOrbit(8, 16, 16, 4)
	if err != nil {
		t.Fatalf("synthetic orbit: %v", err)
	}
	extent, err := SceneExtent(views)
	if err != nil {
		t.Fatalf("scene extent: %v", err)
	}
	// Orbit radius 4 with 1.1 padding; vertical offset shifts the mean a little.
	if extent < 4 || extent > 5 {
		t.Fatalf("extent = %v, want in [4, 5]", extent)
	}
}

func TestSceneExtentRequiresViews(t *testing.T) {
	if _, err := SceneExtent(nil); err == nil {
		t.Fatal("expected error for empty view list, got nil")
	}
}

func TestProjectCenterLandsMidFrame(t *testing.T) {
	view := testView(t)
	px, py, depth, ok := project(view, model.Vec3{0, 0, 0})
	if !ok {
		t.Fatal("origin should be visible from orbit view")
	}
	if depth <= 0 {
		t.Fatalf("depth = %v, want > 0", depth)
	}
	if px < 8 || px > 24 || py < 8 || py > 24 {
		t.Fatalf("origin projected to (%d, %d), want near frame center", px, py)
	}
}

func TestSoftwareEngineOutputsAligned(t *testing.T) {
	view := testView(t)
	set := testSet(5)
	eng := NewSoftwareEngine()

	out, err := eng.Render(view, set, PipelineConfig{}, [3]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(out.Visibility) != 5 || len(out.ScreenRadii) != 5 || len(out.DensitySignal) != 5 || len(out.ViewSigma) != 5 {
		t.Fatal("render output arrays not aligned with set")
	}

	residual := NewImage(view.Width, view.Height)
	for i := range residual.Pix {
		residual.Pix[i] = 0.1
	}
	grads, err := eng.Backward(view, set, out, residual)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if len(grads.Positions) != 5 || len(grads.Features) != 5 || len(grads.MaskLogits) != 5 {
		t.Fatal("gradient arrays not aligned with set")
	}

	anyVisible := false
	for i := 0; i < 5; i++ {
		if out.Visibility[i] {
			anyVisible = true
			if grads.Positions[i].Norm() == 0 {
				t.Fatalf("visible primitive %d has zero positional gradient", i)
			}
		}
	}
	if !anyVisible {
		t.Fatal("no primitive visible in synthetic view")
	}
}

func TestSoftwareEngineDeterministic(t *testing.T) {
	view := testView(t)
	set := testSet(3)
	eng := NewSoftwareEngine()

	a, err := eng.Render(view, set, PipelineConfig{}, [3]float64{1, 1, 1})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	b, err := eng.Render(view, set, PipelineConfig{}, [3]float64{1, 1, 1})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for i := range a.Image.Pix {
		if a.Image.Pix[i] != b.Image.Pix[i] {
			t.Fatalf("pixel %d differs between identical renders", i)
		}
	}
}
