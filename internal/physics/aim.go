package physics

import "math"

// HorizontalEpsilon replaces vanishing horizontal magnitudes in denominators.
const HorizontalEpsilon = 1e-6

// DirFromYawPitch returns the unit firing direction. Yaw is measured in the XZ plane
// from +X toward +Z; pitch is the elevation above the XZ plane. Both are radians.
func DirFromYawPitch(yawRad, pitchRad float64) Vec3 {
	cosPitch := math.Cos(pitchRad)
	return Vec3{
		X: cosPitch * math.Cos(yawRad),
		Y: math.Sin(pitchRad),
		Z: cosPitch * math.Sin(yawRad),
	}.Normalize()
}

// YawFromVec returns the heading of v in the XZ plane, in radians.
func YawFromVec(v Vec3) float64 {
	return math.Atan2(v.Z, v.X)
}

// PitchFromVec returns the elevation of v in radians. A target straight above or
// below the shooter resolves to ±π/2 instead of dividing by zero.
func PitchFromVec(v Vec3) float64 {
	return math.Atan2(v.Y, math.Max(HorizontalEpsilon, Horizontal(v)))
}

// Horizontal returns the XZ magnitude of v.
func Horizontal(v Vec3) float64 {
	return math.Sqrt(HorizontalSq(v))
}

// HorizontalSq returns the squared XZ magnitude of v.
func HorizontalSq(v Vec3) float64 {
	return v.X*v.X + v.Z*v.Z
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// WrapAngleDeg normalizes an angle to the [-180, 180) range.
func WrapAngleDeg(angle float64) float64 {
	//1.- Use math.Mod to keep values bounded across many integration steps.
	wrapped := math.Mod(angle+180.0, 360.0)
	if wrapped < 0 {
		wrapped += 360.0
	}
	return wrapped - 180.0
}

// Heading describes a mount orientation in the conventions turret drivers expect.
type Heading struct {
	YawDeg   float64 `json:"yaw_deg"`
	PitchDeg float64 `json:"pitch_deg"`
}

// HeadingFor converts a solver yaw (radians) and pitch (degrees) into a wrapped heading.
func HeadingFor(yawRad, pitchDeg float64) Heading {
	//1.- Wrap both angles so repeated solves never drift outside the mount's range.
	return Heading{
		YawDeg:   WrapAngleDeg(Degrees(yawRad)),
		PitchDeg: WrapAngleDeg(pitchDeg),
	}
}
