package physics

import (
	"math"
	"testing"
)

func TestDirFromYawPitchIsUnitLength(t *testing.T) {
	//1.- Sweep a grid of headings including the vertical singularities.
	for yaw := -math.Pi; yaw <= math.Pi; yaw += math.Pi / 7 {
		for pitch := -math.Pi / 2; pitch <= math.Pi/2; pitch += math.Pi / 9 {
			dir := DirFromYawPitch(yaw, pitch)
			if math.Abs(dir.Length()-1) > 1e-9 {
				t.Fatalf("yaw=%.3f pitch=%.3f produced length %.12f", yaw, pitch, dir.Length())
			}
		}
	}
}

func TestYawPitchRoundTrip(t *testing.T) {
	//1.- Directions built from yaw/pitch should decompose back into the same angles.
	yaw, pitch := 0.7, -0.3
	dir := DirFromYawPitch(yaw, pitch)
	if math.Abs(YawFromVec(dir)-yaw) > 1e-9 {
		t.Fatalf("unexpected yaw %.6f", YawFromVec(dir))
	}
	if math.Abs(PitchFromVec(dir)-pitch) > 1e-9 {
		t.Fatalf("unexpected pitch %.6f", PitchFromVec(dir))
	}
}

func TestYawConventionPointsTowardPositiveZ(t *testing.T) {
	if math.Abs(YawFromVec(V3(1, 0, 0))) > 1e-12 {
		t.Fatalf("expected +X to have zero yaw")
	}
	if math.Abs(YawFromVec(V3(0, 0, 1))-math.Pi/2) > 1e-12 {
		t.Fatalf("expected +Z to have yaw pi/2")
	}
}

func TestPitchFromVecHandlesVerticalTarget(t *testing.T) {
	//1.- A target straight overhead must not divide by zero.
	pitch := PitchFromVec(V3(0, 10, 0))
	if math.IsNaN(pitch) || math.Abs(pitch-math.Pi/2) > 1e-6 {
		t.Fatalf("expected pitch near pi/2, got %.6f", pitch)
	}
	if pitch := PitchFromVec(V3(0, -5, 0)); math.Abs(pitch+math.Pi/2) > 1e-6 {
		t.Fatalf("expected pitch near -pi/2, got %.6f", pitch)
	}
}

func TestHeadingForWrapsAngles(t *testing.T) {
	heading := HeadingFor(3*math.Pi/2, 190)
	if math.Abs(heading.YawDeg+90) > 1e-9 {
		t.Fatalf("unexpected yaw %.3f", heading.YawDeg)
	}
	if math.Abs(heading.PitchDeg+170) > 1e-9 {
		t.Fatalf("unexpected pitch %.3f", heading.PitchDeg)
	}
}
