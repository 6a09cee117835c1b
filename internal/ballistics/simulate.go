package ballistics

import (
	"math"

	"gunlayer/broker/internal/physics"
)

const (
	// stallSpeedSq is the squared speed below which a projectile counts as stalled.
	stallSpeedSq = 1e-4
	// budgetHeadroom leaves room for upward-arcing shots beyond the straight-line estimate.
	budgetHeadroom = 40
	// MinSimTicks is the smallest tick budget handed to the simulator.
	MinSimTicks = 60
	// MaxSimTicks caps the tick budget against pathological inputs.
	MaxSimTicks = 8000
)

// ShotSetup describes one simulated launch in tick units.
type ShotSetup struct {
	// Muzzle is the spawn position of the projectile.
	Muzzle physics.Vec3
	// CarrierVel is the shooter velocity inherited by the projectile.
	CarrierVel physics.Vec3
	// Dir is the unit launch direction.
	Dir physics.Vec3
	// Params holds muzzle speed, gravity and drag.
	Params Params
	// Target is the aim point; only its horizontal range matters for termination.
	Target physics.Vec3
	// StopDistance is the horizontal distance from Muzzle at which the flight ends.
	StopDistance float64
	// MaxTicks bounds the integration.
	MaxTicks int
	// ApplyDrag enables the per-tick linear damping.
	ApplyDrag bool
}

// SimResult is the state of the projectile when the simulation stopped.
type SimResult struct {
	Ticks    int          `json:"ticks"`
	FinalPos physics.Vec3 `json:"final_pos"`
	FinalVel physics.Vec3 `json:"final_vel"`
}

// Integrator flies a projectile until it reaches the stop distance, stalls or runs out of ticks.
type Integrator interface {
	Simulate(setup ShotSetup) SimResult
}

// IntegratorFunc adapts a function into an Integrator.
type IntegratorFunc func(setup ShotSetup) SimResult

// Simulate implements Integrator.
func (f IntegratorFunc) Simulate(setup ShotSetup) SimResult { return f(setup) }

// LinearDrag is the default integrator: gravity plus v *= (1-k) damping each tick.
// The damping form is only faithful for small k.
var LinearDrag Integrator = IntegratorFunc(Simulate)

// Simulate integrates a projectile tick by tick. Each tick checks, in order, the
// horizontal range, the stall condition, then applies gravity, drag and motion.
func Simulate(setup ShotSetup) SimResult {
	pos := setup.Muzzle
	vel := setup.CarrierVel.Add(setup.Dir.Scale(setup.Params.MuzzleSpeed))
	stopSq := setup.StopDistance * setup.StopDistance
	maxTicks := setup.MaxTicks
	if maxTicks < 0 {
		maxTicks = 0
	}

	for tick := 0; tick <= maxTicks; tick++ {
		//1.- Compare horizontal displacement in squared form to avoid a sqrt per tick.
		if physics.HorizontalSq(pos.Sub(setup.Muzzle)) >= stopSq {
			return SimResult{Ticks: tick, FinalPos: pos, FinalVel: vel}
		}
		//2.- A projectile that has lost all speed will never arrive.
		if vel.LengthSq() < stallSpeedSq {
			return SimResult{Ticks: tick, FinalPos: pos, FinalVel: vel}
		}
		if tick == maxTicks {
			break
		}
		//3.- Gravity per tick squared, then damping, then motion.
		vel.Y += setup.Params.Gravity
		if setup.ApplyDrag && setup.Params.Drag != 0 {
			vel = vel.Scale(1 - setup.Params.Drag)
		}
		pos = pos.Add(vel)
	}
	return SimResult{Ticks: maxTicks, FinalPos: pos, FinalVel: vel}
}

// SimBudget sizes the tick budget for a shot covering horizontalDist at muzzleSpeed,
// never simulating further than maxSimDistance.
func SimBudget(horizontalDist, muzzleSpeed, maxSimDistance float64) int {
	speed := math.Max(physics.HorizontalEpsilon, muzzleSpeed)
	capped := math.Min(horizontalDist, math.Max(0, maxSimDistance))
	ticks := int(math.Ceil(capped/speed)) + budgetHeadroom
	if ticks < MinSimTicks {
		ticks = MinSimTicks
	}
	if ticks > MaxSimTicks {
		ticks = MaxSimTicks
	}
	return ticks
}

// Trajectory samples the projectile position every `every` ticks until the
// simulation would stop, always including the spawn point and the final point.
func Trajectory(setup ShotSetup, every int) []physics.Vec3 {
	if every <= 0 {
		every = 1
	}
	result := Simulate(setup)
	points := make([]physics.Vec3, 0, result.Ticks/every+2)

	//1.- Replay the same integration but stop at the tick the simulator reported.
	pos := setup.Muzzle
	vel := setup.CarrierVel.Add(setup.Dir.Scale(setup.Params.MuzzleSpeed))
	for tick := 0; tick < result.Ticks; tick++ {
		if tick%every == 0 {
			points = append(points, pos)
		}
		vel.Y += setup.Params.Gravity
		if setup.ApplyDrag && setup.Params.Drag != 0 {
			vel = vel.Scale(1 - setup.Params.Drag)
		}
		pos = pos.Add(vel)
	}
	return append(points, result.FinalPos)
}
