package render

import (
	"fmt"
	"math"

	"convexsplat/internal/model"
)

// SyntheticOrbit builds count calibrated views on a circular orbit of the
// given radius, all looking at the origin, with a flat mid-gray ground
// truth. It is the built-in smoke-test dataset; real camera sets come from
// the external dataset loader.
func SyntheticOrbit(count, width, height int, radius float64) ([]View, error) {
	if count <= 0 {
		return nil, fmt.Errorf("view count must be > 0")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("view dimensions must be > 0")
	}
	if radius <= 0 {
		return nil, fmt.Errorf("orbit radius must be > 0")
	}

	gt := NewImage(width, height)
	for i := range gt.Pix {
		gt.Pix[i] = 0.5
	}
	proj := Perspective(math.Pi/3, float64(width)/float64(height), 0.01, 100)

	views := make([]View, 0, count)
	for i := 0; i < count; i++ {
		angle := 2 * math.Pi * float64(i) / float64(count)
		eye := model.Vec3{radius * math.Cos(angle), 0.3 * radius, radius * math.Sin(angle)}
		views = append(views, View{
			Name:        fmt.Sprintf("orbit-%03d", i),
			Width:       width,
			Height:      height,
			WorldToCam:  LookAt(eye, model.Vec3{0, 0, 0}),
			Projection:  proj,
			GroundTruth: gt,
		})
	}
	return views, nil
}
