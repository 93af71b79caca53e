package calibration

import (
	"math"

	"github.com/mseidel19/wallcast/internal/geom"
)

// Rectangle is the working calibration rectangle: two opposite corners in
// world space plus the physical extents derived from them. AspectRatio is
// pinned to the display's reported pixel ratio and never re-derived from
// edits.
type Rectangle struct {
	TopLeft      geom.Vec3
	BottomRight  geom.Vec3
	WidthMeters  float64
	HeightMeters float64
	AspectRatio  float64
}

// Center returns the rectangle's midpoint.
func (r Rectangle) Center() geom.Vec3 {
	return r.TopLeft.Midpoint(r.BottomRight)
}

// recomputeExtents rebuilds WidthMeters and HeightMeters from the corner
// diagonal under the pinned aspect ratio: for diagonal d and aspect a,
// w = d·a/√(a²+1) and h = w/a.
func (r *Rectangle) recomputeExtents() {
	if r.AspectRatio <= 0 {
		return
	}
	d := r.TopLeft.DistanceTo(r.BottomRight)
	r.WidthMeters = d * r.AspectRatio / math.Sqrt(r.AspectRatio*r.AspectRatio+1)
	r.HeightMeters = r.WidthMeters / r.AspectRatio
}

// seedRectangle builds the placeholder rectangle shown when a dimension
// report first arrives: width meters wide, width/aspect tall, centered at
// center and facing the origin along Z.
func seedRectangle(center geom.Vec3, width, aspect float64) Rectangle {
	height := width / aspect
	return Rectangle{
		TopLeft:      center.Add(geom.Vec3{X: -width / 2, Y: height / 2}),
		BottomRight:  center.Add(geom.Vec3{X: width / 2, Y: -height / 2}),
		WidthMeters:  width,
		HeightMeters: height,
		AspectRatio:  aspect,
	}
}
