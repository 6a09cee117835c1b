package lead

import "gunlayer/broker/internal/physics"

// Report summarises how far a solution leads the target's current position.
type Report struct {
	// Offset is aimPoint minus the target's current position.
	Offset physics.Vec3 `json:"offset"`
	// Total is the length of Offset in blocks.
	Total float64 `json:"total"`
	// Along is the component of Offset along the target's velocity; negative means trailing.
	Along float64 `json:"along"`
}

// LeadReport compares a solution against the target it was solved for.
func LeadReport(solution Solution, target physics.KinematicState) Report {
	offset := solution.AimPoint.Sub(target.Pos)
	report := Report{Offset: offset, Total: offset.Length()}
	if dir := target.Vel.Normalize(); dir != physics.Zero {
		report.Along = offset.Dot(dir)
	}
	return report
}
