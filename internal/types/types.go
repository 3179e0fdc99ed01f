package types

import (
	"fmt"
	"time"
)

// AuthResult is the outcome of a single authentication trial
type AuthResult string

const (
	ResultSuccess       AuthResult = "SUCCESS"
	ResultRelayDetected AuthResult = "RELAY_DETECTED"
	ResultTooFar        AuthResult = "TOO_FAR"
	ResultError         AuthResult = "ERROR"
)

// Results lists every AuthResult in reporting order
var Results = []AuthResult{ResultSuccess, ResultRelayDetected, ResultTooFar, ResultError}

// Valid reports whether r is one of the declared results
func (r AuthResult) Valid() bool {
	switch r {
	case ResultSuccess, ResultRelayDetected, ResultTooFar, ResultError:
		return true
	}
	return false
}

// Diagnostic reasons attached to non-SUCCESS results
const (
	ReasonTooFar       = "key too far"
	ReasonVarianceHigh = "variance too high"
	ReasonResponseSlow = "response time too high"
)

// MeasurementRecord holds the timing fields of a diagnostic record.
// It is present only when the range check did not short-circuit.
type MeasurementRecord struct {
	RoundTripTime     float64   `json:"round_trip_time"`
	Variance          float64   `json:"variance"`
	Measurements      []float64 `json:"measurements"`
	EstimatedDistance float64   `json:"estimated_distance"`
}

// DiagnosticRecord describes how a trial reached its verdict
type DiagnosticRecord struct {
	RealDistance  float64 `json:"real_distance"`
	AttackPresent bool    `json:"attack_present"`
	*MeasurementRecord
	Reason string `json:"reason,omitempty"`
}

// Measured reports whether the timing fields are populated
func (d DiagnosticRecord) Measured() bool {
	return d.MeasurementRecord != nil
}

// Scenario is one point of a simulation sweep
type Scenario struct {
	KeyDistance   float64  `json:"key_distance" toml:"key_distance" yaml:"key_distance"`
	RelayDistance *float64 `json:"relay_distance,omitempty" toml:"relay_distance" yaml:"relay_distance"`
}

// NewScenario creates an unattacked scenario
func NewScenario(keyDistance float64) Scenario {
	return Scenario{KeyDistance: keyDistance}
}

// NewAttackScenario creates a scenario with a relay of the given cable length
func NewAttackScenario(keyDistance, relayDistance float64) Scenario {
	return Scenario{KeyDistance: keyDistance, RelayDistance: &relayDistance}
}

// HasRelay reports whether the scenario includes a relay attack
func (s Scenario) HasRelay() bool {
	return s.RelayDistance != nil
}

// Key returns a stable identifier for grouping results
func (s Scenario) Key() string {
	if s.RelayDistance == nil {
		return fmt.Sprintf("key=%.2f", s.KeyDistance)
	}
	return fmt.Sprintf("key=%.2f,relay=%.2f", s.KeyDistance, *s.RelayDistance)
}

// Plan describes a full simulation sweep
type Plan struct {
	Iterations      int        `json:"iterations" toml:"iterations" yaml:"iterations"`
	Workers         int        `json:"workers" toml:"workers" yaml:"workers"`
	Seed            uint64     `json:"seed" toml:"seed" yaml:"seed"`
	NormalDistances []float64  `json:"normal_distances" toml:"normal_distances" yaml:"normal_distances"`
	Attacks         []Scenario `json:"attacks" toml:"attacks" yaml:"attacks"`
}

// Scenarios expands the plan into its ordered scenario list: unattacked first, then attacks
func (p *Plan) Scenarios() []Scenario {
	scenarios := make([]Scenario, 0, len(p.NormalDistances)+len(p.Attacks))
	for _, d := range p.NormalDistances {
		scenarios = append(scenarios, NewScenario(d))
	}
	scenarios = append(scenarios, p.Attacks...)
	return scenarios
}

// TotalTrials returns the number of trials the plan will run
func (p *Plan) TotalTrials() int {
	return (len(p.NormalDistances) + len(p.Attacks)) * p.Iterations
}

// TrialResult is the per-trial output streamed to consumers
type TrialResult struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	Scenario  Scenario         `json:"scenario"`
	Result    AuthResult       `json:"result"`
	Debug     DiagnosticRecord `json:"debug"`
	Timestamp time.Time        `json:"timestamp"`
}

// ScenarioSummary aggregates all trials of one scenario within a run
type ScenarioSummary struct {
	RunID         string           `json:"run_id"`
	ScenarioKey   string           `json:"scenario_key"`
	KeyDistance   float64          `json:"key_distance"`
	RelayDistance *float64         `json:"relay_distance,omitempty"`
	Trials        int64            `json:"trials"`
	Success       int64            `json:"success"`
	RelayDetected int64            `json:"relay_detected"`
	TooFar        int64            `json:"too_far"`
	Errors        int64            `json:"errors"`
	Measured      int64            `json:"measured"`
	MeanRoundTrip float64          `json:"mean_round_trip"`
	MeanVariance  float64          `json:"mean_variance"`
	Reasons       map[string]int64 `json:"reasons,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Add folds a trial into the summary, keeping running means over measured trials
func (s *ScenarioSummary) Add(r *TrialResult) {
	s.Trials++
	switch r.Result {
	case ResultSuccess:
		s.Success++
	case ResultRelayDetected:
		s.RelayDetected++
	case ResultTooFar:
		s.TooFar++
	default:
		s.Errors++
	}

	if r.Debug.Measured() {
		s.Measured++
		n := float64(s.Measured)
		s.MeanRoundTrip += (r.Debug.RoundTripTime - s.MeanRoundTrip) / n
		s.MeanVariance += (r.Debug.Variance - s.MeanVariance) / n
	}

	if r.Debug.Reason != "" {
		if s.Reasons == nil {
			s.Reasons = make(map[string]int64)
		}
		s.Reasons[r.Debug.Reason]++
	}

	if r.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = r.Timestamp
	}
}

// DetectionRate returns the share of trials classified RELAY_DETECTED, in percent
func (s *ScenarioSummary) DetectionRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.RelayDetected) / float64(s.Trials) * 100
}

// SuccessRate returns the share of trials classified SUCCESS, in percent
func (s *ScenarioSummary) SuccessRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Trials) * 100
}

// NewScenarioSummary starts an empty summary for a scenario of a run
func NewScenarioSummary(runID string, sc Scenario) *ScenarioSummary {
	return &ScenarioSummary{
		RunID:         runID,
		ScenarioKey:   sc.Key(),
		KeyDistance:   sc.KeyDistance,
		RelayDistance: sc.RelayDistance,
	}
}
