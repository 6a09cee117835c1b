package lead

import (
	"fmt"
	"strings"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/physics"
)

// Request is the wire form of a solve shared by the HTTP, websocket and RPC surfaces.
// Ballistics may be given inline or resolved from the catalogue by cannon, projectile
// and charges.
type Request struct {
	Mount          string                  `json:"mount,omitempty"`
	Shooter        *physics.KinematicState `json:"shooter"`
	Target         *physics.KinematicState `json:"target"`
	Ballistics     *ballistics.Params      `json:"ballistics,omitempty"`
	Cannon         string                  `json:"cannon,omitempty"`
	Projectile     string                  `json:"projectile,omitempty"`
	Charges        *int                    `json:"charges,omitempty"`
	FireDelayTicks *int                    `json:"fire_delay_ticks,omitempty"`
	MaxSimDistance *float64                `json:"max_sim_distance,omitempty"`
	Model          string                  `json:"model,omitempty"`
}

// Defaults fills request fields the caller left out.
type Defaults struct {
	FireDelayTicks int
	MaxSimDistance float64
	Charges        int
	Model          Model
}

// Resolve turns the request into solver inputs, looking up catalogue ballistics
// through provider when none were given inline.
func (r Request) Resolve(provider ballistics.Provider, defaults Defaults) (Inputs, error) {
	in := Inputs{
		Shooter:        r.Shooter,
		Target:         r.Target,
		Ballistics:     r.Ballistics,
		FireDelayTicks: defaults.FireDelayTicks,
		MaxSimDistance: defaults.MaxSimDistance,
		Model:          defaults.Model,
		Label:          r.Mount,
	}
	if model := strings.TrimSpace(r.Model); model != "" {
		in.Model = ParseModel(model)
	}
	if r.FireDelayTicks != nil {
		in.FireDelayTicks = *r.FireDelayTicks
	}
	if r.MaxSimDistance != nil {
		in.MaxSimDistance = *r.MaxSimDistance
	}
	//1.- Inline ballistics win; otherwise a cannon name selects catalogue values.
	if in.Ballistics == nil && strings.TrimSpace(r.Cannon) != "" {
		if provider == nil {
			return Inputs{}, fmt.Errorf("%w: no ballistics catalogue", ErrMissingInput)
		}
		charges := defaults.Charges
		if r.Charges != nil {
			charges = *r.Charges
		}
		params, err := provider.Params(strings.TrimSpace(r.Cannon), strings.TrimSpace(r.Projectile), charges)
		if err != nil {
			return Inputs{}, err
		}
		in.Ballistics = &params
	}
	return in, nil
}
