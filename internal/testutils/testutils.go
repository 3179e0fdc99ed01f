package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/pkes-sim/internal/types"
)

// MockTrialResult builds a trial result for the given scenario and outcome.
// Non-TOO_FAR results carry a measurement record with rttNs as the round trip.
func MockTrialResult(runID string, sc types.Scenario, result types.AuthResult, rttNs float64) *types.TrialResult {
	debug := types.DiagnosticRecord{
		RealDistance:  sc.KeyDistance,
		AttackPresent: sc.HasRelay(),
	}

	switch result {
	case types.ResultTooFar:
		debug.Reason = types.ReasonTooFar
	case types.ResultError:
		debug.Reason = "invalid configuration"
	default:
		debug.MeasurementRecord = &types.MeasurementRecord{
			RoundTripTime:     rttNs,
			Variance:          1,
			Measurements:      []float64{rttNs - 1, rttNs + 1},
			EstimatedDistance: rttNs * 3e8 / 2e9,
		}
		if result == types.ResultRelayDetected {
			debug.Reason = types.ReasonResponseSlow
		}
	}

	return &types.TrialResult{
		ID:        uuid.NewString(),
		RunID:     runID,
		Scenario:  sc,
		Result:    result,
		Debug:     debug,
		Timestamp: time.Now().UTC(),
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
		}
	}
}
