package ballistics

import (
	"math"

	"gunlayer/broker/internal/physics"
)

// PitchSolver returns candidate launch pitches in degrees for hitting aim from shooter,
// ordered low arc first. An empty result means no ballistic solution is known.
type PitchSolver interface {
	PitchCandidates(shooter, aim physics.Vec3, params Params) []float64
}

// PitchSolverFunc adapts a function into a PitchSolver.
type PitchSolverFunc func(shooter, aim physics.Vec3, params Params) []float64

// PitchCandidates implements PitchSolver.
func (f PitchSolverFunc) PitchCandidates(shooter, aim physics.Vec3, params Params) []float64 {
	return f(shooter, aim, params)
}

// NoPitchSolver never offers a candidate, forcing line-of-sight aiming.
var NoPitchSolver PitchSolver = PitchSolverFunc(func(physics.Vec3, physics.Vec3, Params) []float64 { return nil })

// VacuumPitchSolver solves the drag-free range equation in closed form.
type VacuumPitchSolver struct{}

// PitchCandidates returns the low and high arcs, low first. Without gravity the only
// candidate is the line-of-sight pitch; out-of-range targets produce no candidates.
func (VacuumPitchSolver) PitchCandidates(shooter, aim physics.Vec3, params Params) []float64 {
	speed := params.MuzzleSpeed
	if !(speed > 0) {
		return nil
	}
	delta := aim.Sub(shooter)
	horiz := physics.Horizontal(delta)
	g := -params.Gravity

	//1.- Without downward gravity the projectile flies straight.
	if !(g > 0) {
		return []float64{physics.Degrees(physics.PitchFromVec(delta))}
	}
	//2.- Straight up or down: aim vertically when the apex can reach.
	if horiz < physics.HorizontalEpsilon {
		if delta.Y <= 0 {
			return []float64{-90}
		}
		if speed*speed/(2*g) >= delta.Y {
			return []float64{90}
		}
		return nil
	}

	//3.- tan(theta) = (v^2 ± sqrt(v^4 - g(g x^2 + 2 y v^2))) / (g x)
	v2 := speed * speed
	disc := v2*v2 - g*(g*horiz*horiz+2*delta.Y*v2)
	if disc < 0 {
		return nil
	}
	root := math.Sqrt(disc)
	low := physics.Degrees(math.Atan((v2 - root) / (g * horiz)))
	high := physics.Degrees(math.Atan((v2 + root) / (g * horiz)))
	if root == 0 {
		return []float64{low}
	}
	return []float64{low, high}
}

var _ PitchSolver = VacuumPitchSolver{}
