package geometry

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Position
		expected float64
	}{
		{name: "same point", a: Position{0, 0}, b: Position{0, 0}, expected: 0},
		{name: "x axis", a: Position{0, 0}, b: Position{5, 0}, expected: 5},
		{name: "y axis", a: Position{0, 0}, b: Position{0, -2}, expected: 2},
		{name: "3-4-5 triangle", a: Position{1, 1}, b: Position{4, 5}, expected: 5},
		{name: "negative coordinates", a: Position{-3, -4}, b: Position{0, 0}, expected: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("Expected distance %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	points := []Position{
		{0, 0}, {5, 0}, {-1.5, 2.25}, {1e3, -1e-3}, {0.1, 0.2}, {-7, -7},
	}

	for _, a := range points {
		for _, b := range points {
			if Distance(a, b) != Distance(b, a) {
				t.Errorf("Distance(%v, %v) = %v, Distance(%v, %v) = %v", a, b, Distance(a, b), b, a, Distance(b, a))
			}
		}
		if d := a.DistanceTo(a); d != 0 {
			t.Errorf("Expected zero distance from %v to itself, got %v", a, d)
		}
	}
}

func TestDistance_NonNegative(t *testing.T) {
	a := Position{X: 3.5, Y: -1}
	b := Position{X: -2, Y: 8}
	if Distance(a, b) < 0 {
		t.Error("Distance should never be negative")
	}
}
