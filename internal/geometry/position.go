// Package geometry provides the planar coordinates used to place the vehicle and key.
package geometry

import "math"

// Position is a point on the plane, in meters
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance in meters between p and other
func (p Position) DistanceTo(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Distance returns the Euclidean distance between a and b
func Distance(a, b Position) float64 {
	return a.DistanceTo(b)
}
