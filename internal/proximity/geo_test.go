package proximity

import (
	"math"
	"testing"
)

func TestDistance_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		want float64 // meters
		tol  float64
	}{
		{"same point", Position{12.4665, -34.4058}, Position{12.4665, -34.4058}, 0, 1e-9},
		{"one degree latitude", Position{0, 0}, Position{1, 0}, 111195, 5},
		{"one degree longitude at equator", Position{0, 0}, Position{0, 1}, 111195, 5},
		{"paris to london", Position{48.8566, 2.3522}, Position{51.5074, -0.1278}, 343550, 600},
		{"antimeridian", Position{0, 179.5}, Position{0, -179.5}, 111195, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Distance = %.2f, want %.2f ± %.2f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	points := []Position{
		{12.466561146, -34.405804850},
		{12.466561156, -34.405804850},
		{-33.8688, 151.2093},
		{89.9, 0},
		{-45, -179.99},
	}
	for _, a := range points {
		for _, b := range points {
			if Distance(a, b) != Distance(b, a) {
				t.Errorf("Distance not symmetric for %v, %v", a, b)
			}
		}
	}
}

func TestPosition_Valid(t *testing.T) {
	tests := []struct {
		name string
		p    Position
		want bool
	}{
		{"origin", Position{0, 0}, true},
		{"bounds", Position{90, -180}, true},
		{"lat too big", Position{90.0001, 0}, false},
		{"lon too small", Position{0, -180.5}, false},
		{"nan", Position{math.NaN(), 0}, false},
		{"inf", Position{0, math.Inf(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
