package render

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"convexsplat/internal/model"
)

// Image is an RGB image with interleaved float64 channels in [0,1].
type Image struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Pix    []float64 `json:"pix"`
}

func NewImage(width, height int) Image {
	return Image{Width: width, Height: height, Pix: make([]float64, 3*width*height)}
}

func (im Image) index(x, y int) int { return 3 * (y*im.Width + x) }

// View is one calibrated training camera: pose, intrinsics, and the
// ground-truth image the loop fits against.
type View struct {
	Name        string
	Width       int
	Height      int
	WorldToCam  *mat.Dense // 4x4
	Projection  *mat.Dense // 4x4
	GroundTruth Image
}

// PipelineConfig carries renderer-side switches that the loop threads
// through unchanged.
type PipelineConfig struct {
	Debug      bool
	DepthRatio float64
}

// Output is the per-iteration render product: the image plus the
// per-primitive auxiliary signals the population controller consumes. All
// per-primitive slices are index-aligned with the set that was rendered.
type Output struct {
	Image         Image
	Visibility    []bool
	ScreenRadii   []float64
	DensitySignal []float64
	ViewSigma     []float64
}

// Gradients carries one backward pass worth of parameter gradients,
// index-aligned with the primitive set.
type Gradients struct {
	Positions  []model.Vec3
	Sigmas     []float64
	Deltas     []float64
	Opacities  []float64
	MaskLogits []float64
	Features   [][]float64
}

// Engine is the external differentiable rasterizer boundary. Render is a
// pure function of the current state; Backward consumes the render output
// and the pixel residual and returns gradients for every parameter group.
// Engine failures are fatal to a run; the loop never retries.
type Engine interface {
	Render(view View, set *model.PrimitiveSet, cfg PipelineConfig, background [3]float64) (*Output, error)
	Backward(view View, set *model.PrimitiveSet, out *Output, residual Image) (*Gradients, error)
}

// LookAt builds a 4x4 world-to-camera matrix for a camera at eye looking
// toward target with a fixed up axis.
func LookAt(eye, target model.Vec3) *mat.Dense {
	forward := normalize(model.Vec3{target[0] - eye[0], target[1] - eye[1], target[2] - eye[2]})
	up := model.Vec3{0, 1, 0}
	if math.Abs(forward[1]) > 0.999 {
		up = model.Vec3{0, 0, 1}
	}
	right := normalize(cross(forward, up))
	trueUp := cross(right, forward)

	m := mat.NewDense(4, 4, nil)
	m.SetRow(0, []float64{right[0], right[1], right[2], -dot(right, eye)})
	m.SetRow(1, []float64{trueUp[0], trueUp[1], trueUp[2], -dot(trueUp, eye)})
	m.SetRow(2, []float64{forward[0], forward[1], forward[2], -dot(forward, eye)})
	m.SetRow(3, []float64{0, 0, 0, 1})
	return m
}

// Perspective builds a 4x4 projection matrix from a vertical field of view
// in radians.
func Perspective(fovY, aspect, near, far float64) *mat.Dense {
	f := 1 / math.Tan(fovY/2)
	m := mat.NewDense(4, 4, nil)
	m.Set(0, 0, f/aspect)
	m.Set(1, 1, f)
	m.Set(2, 2, (far+near)/(far-near))
	m.Set(2, 3, -2*far*near/(far-near))
	m.Set(3, 2, 1)
	return m
}

// CameraCenter recovers the world-space camera position from a
// world-to-camera matrix.
func CameraCenter(worldToCam *mat.Dense) (model.Vec3, error) {
	var inv mat.Dense
	if err := inv.Inverse(worldToCam); err != nil {
		return model.Vec3{}, fmt.Errorf("invert world-to-cam: %w", err)
	}
	return model.Vec3{inv.At(0, 3), inv.At(1, 3), inv.At(2, 3)}, nil
}

// SceneExtent is the radius of the camera bounding sphere, padded the way
// the scene normalization does, and bounds the scene-relative pruning and
// densification thresholds.
func SceneExtent(views []View) (float64, error) {
	if len(views) == 0 {
		return 0, fmt.Errorf("at least one view is required")
	}
	centers := make([]model.Vec3, 0, len(views))
	var mean model.Vec3
	for _, v := range views {
		c, err := CameraCenter(v.WorldToCam)
		if err != nil {
			return 0, fmt.Errorf("view %s: %w", v.Name, err)
		}
		centers = append(centers, c)
		mean = mean.Add(c)
	}
	mean = mean.Scale(1 / float64(len(centers)))
	radius := 0.0
	for _, c := range centers {
		d := model.Vec3{c[0] - mean[0], c[1] - mean[1], c[2] - mean[2]}.Norm()
		if d > radius {
			radius = d
		}
	}
	if radius == 0 {
		radius = 1
	}
	return radius * 1.1, nil
}

// project maps a world point through the view into pixel coordinates plus
// camera depth. ok is false behind the camera or outside the frame.
func project(view View, p model.Vec3) (px, py int, depth float64, ok bool) {
	world := mat.NewVecDense(4, []float64{p[0], p[1], p[2], 1})
	var cam mat.VecDense
	cam.MulVec(view.WorldToCam, world)
	depth = cam.AtVec(2)
	if depth <= 1e-6 {
		return 0, 0, depth, false
	}
	var clip mat.VecDense
	clip.MulVec(view.Projection, &cam)
	w := clip.AtVec(3)
	if w == 0 {
		return 0, 0, depth, false
	}
	ndcX := clip.AtVec(0) / w
	ndcY := clip.AtVec(1) / w
	if ndcX < -1 || ndcX > 1 || ndcY < -1 || ndcY > 1 {
		return 0, 0, depth, false
	}
	px = int((ndcX + 1) / 2 * float64(view.Width-1))
	py = int((ndcY + 1) / 2 * float64(view.Height-1))
	return px, py, depth, true
}

func normalize(v model.Vec3) model.Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

func cross(a, b model.Vec3) model.Vec3 {
	return model.Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b model.Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
