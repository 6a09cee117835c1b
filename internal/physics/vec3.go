package physics

import "math"

// Vec3 is a world-space vector in blocks (or blocks per tick). Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Zero is the origin vector.
var Zero = Vec3{}

// V3 builds a vector from its components.
func V3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// Add returns a + b.
func (a Vec3) Add(b Vec3) Vec3 {
	return Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// Sub returns a - b.
func (a Vec3) Sub(b Vec3) Vec3 {
	return Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

// Scale multiplies every component by s.
func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{X: a.X * s, Y: a.Y * s, Z: a.Z * s}
}

// Dot returns the scalar product.
func (a Vec3) Dot(b Vec3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// LengthSq returns the squared magnitude.
func (a Vec3) LengthSq() float64 {
	return a.Dot(a)
}

// Length returns the magnitude.
func (a Vec3) Length() float64 {
	return math.Sqrt(a.LengthSq())
}

// Normalize returns the unit vector pointing along a, or the zero vector when a has no length.
func (a Vec3) Normalize() Vec3 {
	//1.- Refuse to divide by a vanishing magnitude so callers never see NaN directions.
	length := a.Length()
	if length < 1e-12 {
		return Vec3{}
	}
	return a.Scale(1 / length)
}

// IsFinite reports whether every component is a usable number.
func (a Vec3) IsFinite() bool {
	return isFinite(a.X) && isFinite(a.Y) && isFinite(a.Z)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
