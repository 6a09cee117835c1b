package ballistics

import (
	"errors"
	"math"
	"testing"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   error
	}{
		{name: "valid", params: Params{MuzzleSpeed: 4, Gravity: -0.05, Drag: 0.01, BarrelLength: 3}},
		{name: "zero speed", params: Params{MuzzleSpeed: 0, Gravity: -0.05}, want: ErrNoMuzzleSpeed},
		{name: "negative speed", params: Params{MuzzleSpeed: -1}, want: ErrNoMuzzleSpeed},
		{name: "nan speed", params: Params{MuzzleSpeed: math.NaN()}, want: ErrNoMuzzleSpeed},
		{name: "upward gravity", params: Params{MuzzleSpeed: 4, Gravity: 0.1}, want: ErrInvalidParams},
		{name: "drag one", params: Params{MuzzleSpeed: 4, Drag: 1}, want: ErrInvalidParams},
		{name: "negative barrel", params: Params{MuzzleSpeed: 4, BarrelLength: -1}, want: ErrInvalidParams},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.params.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestProviderFuncDelegates(t *testing.T) {
	called := false
	provider := ProviderFunc(func(cannonID, projectileID string, charges int) (Params, error) {
		called = true
		return Params{MuzzleSpeed: float64(charges)}, nil
	})
	params, err := provider.Params("a", "b", 3)
	if err != nil || !called || params.MuzzleSpeed != 3 {
		t.Fatalf("unexpected delegation result %+v err=%v", params, err)
	}
}
