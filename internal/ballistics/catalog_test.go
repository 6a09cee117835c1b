package ballistics

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultCatalogParses(t *testing.T) {
	//1.- The embedded catalogue must expose at least one cannon and projectile.
	catalog := DefaultCatalog()
	if len(catalog.Cannons) == 0 || len(catalog.Projectiles) == 0 {
		t.Fatalf("expected populated catalogue, got %+v", catalog)
	}
	ids := catalog.CannonIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Fatalf("cannon ids not sorted: %v", ids)
		}
	}
}

func TestDefaultCatalogReturnsClone(t *testing.T) {
	catalog := DefaultCatalog()
	delete(catalog.Cannons, "steel")
	if _, ok := DefaultCatalog().Cannons["steel"]; !ok {
		t.Fatalf("mutating a returned catalogue must not affect the cache")
	}
}

func TestCatalogParamsScalesWithCharges(t *testing.T) {
	catalog := DefaultCatalog()
	one, err := catalog.Params("steel", "solid-shot", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	two, err := catalog.Params("steel", "solid-shot", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(two.MuzzleSpeed-2*one.MuzzleSpeed) > 1e-12 {
		t.Fatalf("expected linear charge scaling, got %.3f and %.3f", one.MuzzleSpeed, two.MuzzleSpeed)
	}
	if one.BarrelLength != catalog.Cannons["steel"].BarrelLength {
		t.Fatalf("barrel length not carried over")
	}
	over, _ := catalog.Params("steel", "solid-shot", 99)
	capped, _ := catalog.Params("steel", "solid-shot", catalog.Cannons["steel"].MaxCharges)
	if over.MuzzleSpeed != capped.MuzzleSpeed {
		t.Fatalf("overcharge should clamp to max charges")
	}
}

func TestCatalogParamsWithoutChargesHasNoMuzzleSpeed(t *testing.T) {
	params, err := DefaultCatalog().Params("cast-iron", "he-shell", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(params.Validate(), ErrNoMuzzleSpeed) {
		t.Fatalf("expected unloaded cannon to fail validation")
	}
}

func TestCatalogParamsUnknownIDs(t *testing.T) {
	catalog := DefaultCatalog()
	if _, err := catalog.Params("trebuchet", "solid-shot", 1); !errors.Is(err, ErrUnknownCannon) {
		t.Fatalf("expected ErrUnknownCannon, got %v", err)
	}
	if _, err := catalog.Params("steel", "pumpkin", 1); !errors.Is(err, ErrUnknownProjectile) {
		t.Fatalf("expected ErrUnknownProjectile, got %v", err)
	}
}
