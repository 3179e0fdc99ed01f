// Package vehicle implements the verifier side of the distance-bounding exchange:
// the vehicle's configuration and its round-trip-time measurement model.
package vehicle

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/saviobatista/pkes-sim/internal/geometry"
	"github.com/saviobatista/pkes-sim/internal/relay"
)

const (
	DefaultLightSpeed        = 3e8    // m/s
	DefaultMaxDistance       = 2.0    // meters
	DefaultProcessingTime    = 50e-9  // seconds
	DefaultProcessingJitter  = 62e-12 // seconds
	DefaultVarianceThreshold = 20.0   // ns
	DefaultSampleCount       = 20
	DefaultKeyProcessingTime = 1e-9 // seconds
)

// ErrInvalidParams is returned by New and Params.Validate
var ErrInvalidParams = errors.New("invalid vehicle parameters")

// Params holds the verifier constants
type Params struct {
	LightSpeed        float64 // m/s
	MaxDistance       float64 // meters accepted without evidence of attack
	ProcessingTime    float64 // expected verifier latency, seconds
	ProcessingJitter  float64 // Gaussian std of the latency, seconds
	VarianceThreshold float64 // max acceptable RTT stddev, ns
	SampleCount       int     // rounds per measurement batch
}

// DefaultParams returns the reference verifier configuration
func DefaultParams() Params {
	return Params{
		LightSpeed:        DefaultLightSpeed,
		MaxDistance:       DefaultMaxDistance,
		ProcessingTime:    DefaultProcessingTime,
		ProcessingJitter:  DefaultProcessingJitter,
		VarianceThreshold: DefaultVarianceThreshold,
		SampleCount:       DefaultSampleCount,
	}
}

// Validate rejects configurations the measurement model cannot run with
func (p Params) Validate() error {
	switch {
	case p.LightSpeed <= 0:
		return fmt.Errorf("%w: light speed must be positive, got %g", ErrInvalidParams, p.LightSpeed)
	case p.MaxDistance <= 0:
		return fmt.Errorf("%w: max distance must be positive, got %g", ErrInvalidParams, p.MaxDistance)
	case p.ProcessingTime < 0:
		return fmt.Errorf("%w: processing time must not be negative, got %g", ErrInvalidParams, p.ProcessingTime)
	case p.ProcessingJitter < 0:
		return fmt.Errorf("%w: processing jitter must not be negative, got %g", ErrInvalidParams, p.ProcessingJitter)
	case p.VarianceThreshold <= 0:
		return fmt.Errorf("%w: variance threshold must be positive, got %g", ErrInvalidParams, p.VarianceThreshold)
	case p.SampleCount <= 0:
		return fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidParams, p.SampleCount)
	}
	return nil
}

// MaxRoundTrip returns the ideal round trip at MaxDistance, in nanoseconds
func (p Params) MaxRoundTrip() float64 {
	return (2 * p.MaxDistance / p.LightSpeed) * 1e9
}

// Key is the prover carried by the driver
type Key struct {
	Position       geometry.Position
	ProcessingTime float64 // seconds
}

// NewKey creates a key fob at the given position
func NewKey(pos geometry.Position) Key {
	return Key{
		Position:       pos,
		ProcessingTime: DefaultKeyProcessingTime,
	}
}

// Vehicle is the verifier
type Vehicle struct {
	Position geometry.Position
	Params   Params
}

// New creates a vehicle after validating params
func New(pos geometry.Position, params Params) (*Vehicle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Vehicle{Position: pos, Params: params}, nil
}

// Measurement is one batch of round-trip samples, all in nanoseconds
type Measurement struct {
	Mean    float64
	StdDev  float64
	Samples []float64
}

// MeasureDistanceBound runs SampleCount challenge-response rounds against a key at
// keyPos, optionally routed through attack. Each round draws its own processing
// jitter and, when attacked, its own relay delay from rng.
func (v *Vehicle) MeasureDistanceBound(keyPos geometry.Position, attack *relay.Attack, rng *rand.Rand) Measurement {
	distance := v.Position.DistanceTo(keyPos)
	theoretical := 2 * distance / v.Params.LightSpeed

	samples := make([]float64, 0, v.Params.SampleCount)
	for i := 0; i < v.Params.SampleCount; i++ {
		processing := v.Params.ProcessingTime + rng.NormFloat64()*v.Params.ProcessingJitter

		roundTrip := theoretical + processing
		if attack != nil {
			roundTrip += attack.Delay(rng)
		}

		samples = append(samples, roundTrip*1e9)
	}

	mean, stddev := meanStdDev(samples)
	return Measurement{
		Mean:    mean,
		StdDev:  stddev,
		Samples: samples,
	}
}

// meanStdDev returns the arithmetic mean and population standard deviation
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
