package ballistics

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoMuzzleSpeed signals a cannon that cannot launch anything, typically because no charge is loaded.
	ErrNoMuzzleSpeed = errors.New("muzzle speed must be positive")
	// ErrInvalidParams signals ballistics outside the range the integrator supports.
	ErrInvalidParams = errors.New("invalid ballistic parameters")
)

// Params holds the launch properties of a single shot in tick units. Immutable per shot.
type Params struct {
	// MuzzleSpeed is the speed imparted at spawn, in blocks per tick.
	MuzzleSpeed float64 `json:"muzzle_speed"`
	// Gravity is the vertical acceleration per tick; negative pulls down.
	Gravity float64 `json:"gravity"`
	// Drag is the per-tick linear damping factor in [0, 1).
	Drag float64 `json:"drag"`
	// BarrelLength offsets the muzzle from the mount pivot, in blocks.
	BarrelLength float64 `json:"barrel_length"`
}

// Validate reports whether the parameters describe a shot the simulator can fly.
func (p Params) Validate() error {
	//1.- A non-positive muzzle speed is the "no ammo loaded" case and gets its own sentinel.
	if !(p.MuzzleSpeed > 0) {
		return fmt.Errorf("%w: got %g", ErrNoMuzzleSpeed, p.MuzzleSpeed)
	}
	//2.- Reject the remaining out-of-range values together.
	switch {
	case math.IsInf(p.MuzzleSpeed, 0):
		return fmt.Errorf("%w: muzzle speed must be finite", ErrInvalidParams)
	case math.IsNaN(p.Gravity) || math.IsInf(p.Gravity, 0) || p.Gravity > 0:
		return fmt.Errorf("%w: gravity %g must be finite and not positive", ErrInvalidParams, p.Gravity)
	case math.IsNaN(p.Drag) || p.Drag < 0 || p.Drag >= 1:
		return fmt.Errorf("%w: drag %g must lie in [0, 1)", ErrInvalidParams, p.Drag)
	case math.IsNaN(p.BarrelLength) || p.BarrelLength < 0:
		return fmt.Errorf("%w: barrel length %g must be non-negative", ErrInvalidParams, p.BarrelLength)
	}
	return nil
}

// Provider resolves the ballistics of a loaded cannon.
type Provider interface {
	Params(cannonID, projectileID string, charges int) (Params, error)
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc func(cannonID, projectileID string, charges int) (Params, error)

// Params implements Provider.
func (f ProviderFunc) Params(cannonID, projectileID string, charges int) (Params, error) {
	return f(cannonID, projectileID, charges)
}
