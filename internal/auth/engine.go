// Package auth implements the distance-bounding decision procedure that turns a
// timing measurement into an authentication verdict.
package auth

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/saviobatista/pkes-sim/internal/relay"
	"github.com/saviobatista/pkes-sim/internal/types"
	"github.com/saviobatista/pkes-sim/internal/vehicle"
)

const (
	DefaultVarianceDetectionProbability = 0.90
	DefaultElapsedDetectionProbability  = 0.85
	DefaultElapsedToleranceFactor       = 2.0
)

// ErrInvalidPolicy is returned when a detection policy is out of range
var ErrInvalidPolicy = errors.New("invalid detection policy")

// Policy tunes how the engine reacts once a threshold is exceeded
type Policy struct {
	// VarianceDetectionProbability is the chance that an over-threshold
	// sample spread is acted upon.
	VarianceDetectionProbability float64

	// ElapsedDetectionProbability is the chance that an over-limit mean
	// round trip is acted upon.
	ElapsedDetectionProbability float64

	// ElapsedToleranceFactor multiplies the ideal round trip at max range.
	ElapsedToleranceFactor float64

	// BypassRangeCheckOnAttack lets attacked trials past the range check so
	// the timing gates can be exercised beyond nominal range. It is a
	// simulation switch, the key does not announce an attack.
	BypassRangeCheckOnAttack bool
}

// DefaultPolicy returns the imperfect-detector reference policy
func DefaultPolicy() Policy {
	return Policy{
		VarianceDetectionProbability: DefaultVarianceDetectionProbability,
		ElapsedDetectionProbability:  DefaultElapsedDetectionProbability,
		ElapsedToleranceFactor:       DefaultElapsedToleranceFactor,
		BypassRangeCheckOnAttack:     true,
	}
}

// Validate checks that probabilities lie in [0, 1] and the tolerance is positive
func (p Policy) Validate() error {
	if p.VarianceDetectionProbability < 0 || p.VarianceDetectionProbability > 1 {
		return fmt.Errorf("%w: variance detection probability %g not in [0, 1]", ErrInvalidPolicy, p.VarianceDetectionProbability)
	}
	if p.ElapsedDetectionProbability < 0 || p.ElapsedDetectionProbability > 1 {
		return fmt.Errorf("%w: elapsed detection probability %g not in [0, 1]", ErrInvalidPolicy, p.ElapsedDetectionProbability)
	}
	if p.ElapsedToleranceFactor <= 0 {
		return fmt.Errorf("%w: elapsed tolerance factor must be positive, got %g", ErrInvalidPolicy, p.ElapsedToleranceFactor)
	}
	return nil
}

// Engine authenticates one key against one vehicle. It owns its random source
// and is not safe for concurrent use; build one engine per trial or per goroutine.
type Engine struct {
	vehicle *vehicle.Vehicle
	key     vehicle.Key
	policy  Policy
	rng     *rand.Rand
}

// New creates an engine. A nil rng is rejected so callers always control seeding.
func New(v *vehicle.Vehicle, key vehicle.Key, policy Policy, rng *rand.Rand) (*Engine, error) {
	if v == nil {
		return nil, errors.New("vehicle is required")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if err := v.Params.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		vehicle: v,
		key:     key,
		policy:  policy,
		rng:     rng,
	}, nil
}

// MaxAllowedRoundTrip returns the elapsed-time limit in nanoseconds
func (e *Engine) MaxAllowedRoundTrip() float64 {
	p := e.vehicle.Params
	return (2 * p.MaxDistance / p.LightSpeed) * 1e9 * e.policy.ElapsedToleranceFactor
}

// EstimatedDistance converts a mean round trip in ns into the reported distance.
// The expression is kept exactly as downstream reports consume it.
func EstimatedDistance(roundTripNs, lightSpeed float64) float64 {
	return (roundTripNs * lightSpeed) / (2 * 1e9)
}

// Authenticate runs one trial. attack is nil for an honest exchange.
func (e *Engine) Authenticate(attack *relay.Attack) (types.AuthResult, types.DiagnosticRecord) {
	params := e.vehicle.Params
	distance := e.vehicle.Position.DistanceTo(e.key.Position)

	debug := types.DiagnosticRecord{
		RealDistance:  distance,
		AttackPresent: attack != nil,
	}

	bypass := attack != nil && e.policy.BypassRangeCheckOnAttack
	if distance > params.MaxDistance && !bypass {
		debug.Reason = types.ReasonTooFar
		return types.ResultTooFar, debug
	}

	m := e.vehicle.MeasureDistanceBound(e.key.Position, attack, e.rng)
	debug.MeasurementRecord = &types.MeasurementRecord{
		RoundTripTime:     m.Mean,
		Variance:          m.StdDev,
		Measurements:      m.Samples,
		EstimatedDistance: EstimatedDistance(m.Mean, params.LightSpeed),
	}

	if m.StdDev > params.VarianceThreshold && e.flip(e.policy.VarianceDetectionProbability) {
		debug.Reason = types.ReasonVarianceHigh
		return types.ResultRelayDetected, debug
	}

	if m.Mean > e.MaxAllowedRoundTrip() && e.flip(e.policy.ElapsedDetectionProbability) {
		debug.Reason = types.ReasonResponseSlow
		return types.ResultRelayDetected, debug
	}

	return types.ResultSuccess, debug
}

// flip returns true with probability p
func (e *Engine) flip(p float64) bool {
	return e.rng.Float64() < p
}
