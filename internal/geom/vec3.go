package geom

import "math"

// Vec3 is a point or displacement in world space, meters. Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Length returns the euclidean length of v.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// DistanceTo returns the euclidean distance between v and o.
func (v Vec3) DistanceTo(o Vec3) float64 {
	return v.Sub(o).Length()
}

// Normalized returns v scaled to unit length. The zero vector is returned
// unchanged so callers can guard on a degenerate direction themselves.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Midpoint returns the point halfway between v and o.
func (v Vec3) Midpoint(o Vec3) Vec3 {
	return v.Add(o).Scale(0.5)
}

// IsFinite reports whether all three components are finite numbers.
func (v Vec3) IsFinite() bool {
	return IsFinite(v.X) && IsFinite(v.Y) && IsFinite(v.Z)
}

// IsFinite reports whether f is neither NaN nor an infinity.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// BearingAround returns the horizontal bearing of v as seen from pivot:
// the atan2 angle of the XZ-plane offset, in radians. Height is ignored.
func (v Vec3) BearingAround(pivot Vec3) float64 {
	return math.Atan2(v.Z-pivot.Z, v.X-pivot.X)
}

// RotateYAround rotates v about the vertical axis through pivot by angle
// radians, preserving height. The sign convention matches BearingAround:
// rotating a point by angle increases its bearing around the pivot by angle.
func (v Vec3) RotateYAround(pivot Vec3, angle float64) Vec3 {
	sin, cos := math.Sincos(angle)
	dx := v.X - pivot.X
	dz := v.Z - pivot.Z
	return Vec3{
		X: pivot.X + dx*cos - dz*sin,
		Y: v.Y,
		Z: pivot.Z + dx*sin + dz*cos,
	}
}
