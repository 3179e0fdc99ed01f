// Package relay models the delay an attacker's relay link adds to a challenge-response round trip.
package relay

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

const (
	// LightSpeed is the free-space propagation speed in m/s
	LightSpeed = 3e8

	// DefaultEquipmentDelayMin and DefaultEquipmentDelayMax bound the uniform hardware delay, in seconds
	DefaultEquipmentDelayMin = 50e-9
	DefaultEquipmentDelayMax = 150e-9

	// DefaultNoiseStdDev is the standard deviation of the environmental noise, in seconds
	DefaultNoiseStdDev = 10e-9
)

// ErrInvalidParams is returned when relay parameters cannot describe a physical link
var ErrInvalidParams = errors.New("invalid relay parameters")

// Params holds the stochastic delay components of a relay link
type Params struct {
	PropagationSpeed  float64 // m/s inside the relay medium
	EquipmentDelayMin float64 // seconds
	EquipmentDelayMax float64 // seconds
	NoiseStdDev       float64 // seconds
}

// DefaultParams returns a coaxial-cable relay: 2/3 of light speed, 50-150ns hardware, 10ns noise
func DefaultParams() Params {
	return Params{
		PropagationSpeed:  2.0 / 3.0 * LightSpeed,
		EquipmentDelayMin: DefaultEquipmentDelayMin,
		EquipmentDelayMax: DefaultEquipmentDelayMax,
		NoiseStdDev:       DefaultNoiseStdDev,
	}
}

// Validate checks that the parameters are usable
func (p Params) Validate() error {
	if p.PropagationSpeed <= 0 {
		return fmt.Errorf("%w: propagation speed must be positive, got %g", ErrInvalidParams, p.PropagationSpeed)
	}
	if p.EquipmentDelayMin < 0 || p.EquipmentDelayMax < p.EquipmentDelayMin {
		return fmt.Errorf("%w: equipment delay interval [%g, %g] is invalid", ErrInvalidParams, p.EquipmentDelayMin, p.EquipmentDelayMax)
	}
	if p.NoiseStdDev < 0 {
		return fmt.Errorf("%w: noise standard deviation must not be negative, got %g", ErrInvalidParams, p.NoiseStdDev)
	}
	return nil
}

// Attack is a relay placed between the vehicle and a distant key
type Attack struct {
	CableLength float64 // meters
	Params      Params
}

// New creates a relay attack over a cable of the given length using DefaultParams
func New(cableLength float64) *Attack {
	return &Attack{
		CableLength: cableLength,
		Params:      DefaultParams(),
	}
}

// NewWithParams creates a relay attack with custom delay parameters
func NewWithParams(cableLength float64, params Params) (*Attack, error) {
	if cableLength < 0 {
		return nil, fmt.Errorf("%w: cable length must not be negative, got %g", ErrInvalidParams, cableLength)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Attack{CableLength: cableLength, Params: params}, nil
}

// CableDelay returns the deterministic propagation delay through the cable, in seconds
func (a *Attack) CableDelay() float64 {
	return a.CableLength / a.Params.PropagationSpeed
}

// Delay draws the extra time, in seconds, one relayed round adds.
// Each call is an independent draw from rng.
func (a *Attack) Delay(rng *rand.Rand) float64 {
	p := a.Params
	equipment := p.EquipmentDelayMin + rng.Float64()*(p.EquipmentDelayMax-p.EquipmentDelayMin)
	noise := rng.NormFloat64() * p.NoiseStdDev
	return a.CableDelay() + equipment + noise
}

// ExpectedDelay returns the mean of Delay
func (a *Attack) ExpectedDelay() float64 {
	p := a.Params
	return a.CableDelay() + (p.EquipmentDelayMin+p.EquipmentDelayMax)/2
}
