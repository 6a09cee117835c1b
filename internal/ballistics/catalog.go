package ballistics

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "embed"
)

var (
	// ErrUnknownCannon is returned when the catalogue has no entry for the requested cannon.
	ErrUnknownCannon = errors.New("unknown cannon identifier")
	// ErrUnknownProjectile is returned when the catalogue has no entry for the requested projectile.
	ErrUnknownProjectile = errors.New("unknown projectile identifier")
)

// CannonConfig defines the barrel of a mounted cannon.
type CannonConfig struct {
	DisplayName  string  `json:"displayName"`
	BarrelLength float64 `json:"barrelLength"`
	ChargeSpeed  float64 `json:"chargeSpeed"`
	MaxCharges   int     `json:"maxCharges"`
}

// ProjectileConfig defines how a projectile family flies once launched.
type ProjectileConfig struct {
	DisplayName string  `json:"displayName"`
	Gravity     float64 `json:"gravity"`
	Drag        float64 `json:"drag"`
	SpeedScale  float64 `json:"speedScale"`
}

// Catalog mirrors the structure of cannon_catalog.json.
type Catalog struct {
	Cannons     map[string]CannonConfig     `json:"cannons"`
	Projectiles map[string]ProjectileConfig `json:"projectiles"`
}

// Clone produces a defensive copy to protect the cached catalogue from mutation.
func (c Catalog) Clone() Catalog {
	clones := Catalog{
		Cannons:     make(map[string]CannonConfig, len(c.Cannons)),
		Projectiles: make(map[string]ProjectileConfig, len(c.Projectiles)),
	}
	for key, value := range c.Cannons {
		clones.Cannons[key] = value
	}
	for key, value := range c.Projectiles {
		clones.Projectiles[key] = value
	}
	return clones
}

var (
	catalogOnce sync.Once
	catalogData Catalog
	catalogErr  error
)

//go:embed cannon_catalog.json
var catalogPayload []byte

// DefaultCatalog exposes the parsed cannon catalogue shipped with the broker.
func DefaultCatalog() Catalog {
	catalogOnce.Do(func() {
		//1.- Parse the embedded JSON payload once so concurrent callers share the same data.
		catalogErr = json.Unmarshal(catalogPayload, &catalogData)
	})
	//2.- Surface configuration errors immediately; a broken table must never fire.
	if catalogErr != nil {
		panic(catalogErr)
	}
	//3.- Return a clone so callers cannot mutate the cached catalogue.
	return catalogData.Clone()
}

// Params resolves the ballistics of cannonID loaded with projectileID and the given
// number of propellant charges. Zero charges yields a zero muzzle speed, which the
// lead solver reports as invalid ballistics.
func (c Catalog) Params(cannonID, projectileID string, charges int) (Params, error) {
	cannon, ok := c.Cannons[cannonID]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownCannon, cannonID)
	}
	projectile, ok := c.Projectiles[projectileID]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownProjectile, projectileID)
	}
	//1.- Overcharging is clamped to what the barrel tolerates.
	if charges < 0 {
		charges = 0
	}
	if cannon.MaxCharges > 0 && charges > cannon.MaxCharges {
		charges = cannon.MaxCharges
	}
	//2.- Propellant adds speed linearly; the projectile scales it by its mass class.
	speed := float64(charges) * cannon.ChargeSpeed * projectile.SpeedScale
	return Params{
		MuzzleSpeed:  speed,
		Gravity:      projectile.Gravity,
		Drag:         projectile.Drag,
		BarrelLength: cannon.BarrelLength,
	}, nil
}

// CannonIDs lists the known cannons in a stable order.
func (c Catalog) CannonIDs() []string {
	ids := make([]string, 0, len(c.Cannons))
	for id := range c.Cannons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ Provider = Catalog{}
