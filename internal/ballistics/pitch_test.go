package ballistics

import (
	"math"
	"testing"

	"gunlayer/broker/internal/physics"
)

func TestVacuumPitchSolverLowArcFirst(t *testing.T) {
	params := Params{MuzzleSpeed: 4, Gravity: -0.05}
	roots := VacuumPitchSolver{}.PitchCandidates(physics.V3(0, 0, 0), physics.V3(100, 0, 0), params)
	if len(roots) != 2 {
		t.Fatalf("expected two arcs, got %v", roots)
	}
	if roots[0] >= roots[1] {
		t.Fatalf("expected low arc first, got %v", roots)
	}
	//1.- Both arcs of a level shot are complementary: sin(2θ) = g x / v^2.
	want := physics.Degrees(0.5 * math.Asin(0.05*100/16))
	if math.Abs(roots[0]-want) > 1e-9 || math.Abs(roots[1]-(90-want)) > 1e-9 {
		t.Fatalf("unexpected arcs %v, want %.4f and %.4f", roots, want, 90-want)
	}
}

func TestVacuumPitchSolverDownhillAimsLow(t *testing.T) {
	params := Params{MuzzleSpeed: 4, Gravity: -0.05}
	roots := VacuumPitchSolver{}.PitchCandidates(physics.V3(0, 50, 0), physics.V3(80, 0, 0), params)
	if len(roots) == 0 || roots[0] >= 0 {
		t.Fatalf("expected a downward low arc, got %v", roots)
	}
}

func TestVacuumPitchSolverOutOfRange(t *testing.T) {
	params := Params{MuzzleSpeed: 1, Gravity: -0.05}
	if roots := (VacuumPitchSolver{}).PitchCandidates(physics.V3(0, 0, 0), physics.V3(1000, 0, 0), params); len(roots) != 0 {
		t.Fatalf("expected no solution, got %v", roots)
	}
}

func TestVacuumPitchSolverWithoutGravityUsesLineOfSight(t *testing.T) {
	params := Params{MuzzleSpeed: 4}
	roots := VacuumPitchSolver{}.PitchCandidates(physics.V3(0, 0, 0), physics.V3(10, 10, 0), params)
	if len(roots) != 1 || math.Abs(roots[0]-45) > 1e-9 {
		t.Fatalf("expected 45 degrees, got %v", roots)
	}
}

func TestVacuumPitchSolverVertical(t *testing.T) {
	params := Params{MuzzleSpeed: 4, Gravity: -0.05}
	if roots := (VacuumPitchSolver{}).PitchCandidates(physics.V3(0, 0, 0), physics.V3(0, 20, 0), params); len(roots) != 1 || roots[0] != 90 {
		t.Fatalf("expected straight up, got %v", roots)
	}
	if roots := (VacuumPitchSolver{}).PitchCandidates(physics.V3(0, 0, 0), physics.V3(0, 500, 0), params); len(roots) != 0 {
		t.Fatalf("expected unreachable apex, got %v", roots)
	}
}

func TestNoPitchSolverIsEmpty(t *testing.T) {
	if roots := NoPitchSolver.PitchCandidates(physics.Vec3{}, physics.V3(1, 0, 0), Params{MuzzleSpeed: 1}); len(roots) != 0 {
		t.Fatalf("expected no candidates, got %v", roots)
	}
}
