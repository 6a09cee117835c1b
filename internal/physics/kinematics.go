package physics

// KinematicState captures position, velocity and acceleration in tick units:
// blocks, blocks per tick and blocks per tick squared.
type KinematicState struct {
	Pos   Vec3 `json:"pos"`
	Vel   Vec3 `json:"vel"`
	Accel Vec3 `json:"accel"`
}

// AdvancePos extrapolates a position under constant acceleration for t ticks.
func AdvancePos(p, v, a Vec3, t float64) Vec3 {
	//1.- The quadratic term vanishes on its own when a is zero; no special case.
	return p.Add(v.Scale(t)).Add(a.Scale(0.5 * t * t))
}

// AdvanceVel extrapolates a velocity under constant acceleration for t ticks.
func AdvanceVel(v, a Vec3, t float64) Vec3 {
	return v.Add(a.Scale(t))
}

// Advance returns the state t ticks from now. Acceleration is carried unchanged.
func (k KinematicState) Advance(t float64) KinematicState {
	return KinematicState{
		Pos:   AdvancePos(k.Pos, k.Vel, k.Accel, t),
		Vel:   AdvanceVel(k.Vel, k.Accel, t),
		Accel: k.Accel,
	}
}

// RelativeTo expresses k in the frame of observer (k minus observer, component-wise).
func (k KinematicState) RelativeTo(observer KinematicState) KinematicState {
	return KinematicState{
		Pos:   k.Pos.Sub(observer.Pos),
		Vel:   k.Vel.Sub(observer.Vel),
		Accel: k.Accel.Sub(observer.Accel),
	}
}

// WithoutAcceleration drops the acceleration term for constant-velocity models.
func (k KinematicState) WithoutAcceleration() KinematicState {
	k.Accel = Vec3{}
	return k
}

// IsFinite reports whether every vector of the state holds usable numbers.
func (k KinematicState) IsFinite() bool {
	return k.Pos.IsFinite() && k.Vel.IsFinite() && k.Accel.IsFinite()
}
