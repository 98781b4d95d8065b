package core

import "math"

// Vec2 is a position or velocity in the orbital reference plane. Positions
// are body-centred kilometres, velocities metres per second.
type Vec2 struct {
	X, Y float64
}

// Add returns v + other.
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub returns v - other.
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Scale returns v * s.
func (v Vec2) Scale(s float64) Vec2 {
	return Vec2{X: v.X * s, Y: v.Y * s}
}

// Dot returns the dot product of two vectors.
func (v Vec2) Dot(other Vec2) float64 {
	return v.X*other.X + v.Y*other.Y
}

// Norm returns the Euclidean norm of the vector.
func (v Vec2) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec2) DistanceTo(other Vec2) float64 {
	return v.Sub(other).Norm()
}

// Normalized returns the unit vector along v, or the zero vector.
func (v Vec2) Normalized() Vec2 {
	n := v.Norm()
	if n == 0 {
		return Vec2{}
	}
	return Vec2{X: v.X / n, Y: v.Y / n}
}

// Rotate returns v rotated counter-clockwise by deg degrees.
func (v Vec2) Rotate(deg float64) Vec2 {
	s, c := math.Sincos(deg * math.Pi / 180)
	return Vec2{X: v.X*c - v.Y*s, Y: v.X*s + v.Y*c}
}

// Lerp interpolates between a and b with alpha in [0, 1].
func Lerp(a, b Vec2, alpha float64) Vec2 {
	return a.Add(b.Sub(a).Scale(alpha))
}

// EaseInOut maps alpha in [0, 1] onto a symmetric ease-in/ease-out curve of
// the given exponent.
func EaseInOut(alpha, exponent float64) float64 {
	switch {
	case alpha <= 0:
		return 0
	case alpha >= 1:
		return 1
	case alpha < 0.5:
		return 0.5 * math.Pow(2*alpha, exponent)
	default:
		return 1 - 0.5*math.Pow(2*(1-alpha), exponent)
	}
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r = 0
	}
	return r
}
