// Package sim drives many independent authentication trials across a plan of
// scenarios and hands each result to the reporting side.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/pkes-sim/internal/auth"
	"github.com/saviobatista/pkes-sim/internal/config"
	"github.com/saviobatista/pkes-sim/internal/geometry"
	"github.com/saviobatista/pkes-sim/internal/relay"
	"github.com/saviobatista/pkes-sim/internal/stats"
	"github.com/saviobatista/pkes-sim/internal/types"
	"github.com/saviobatista/pkes-sim/internal/vehicle"
)

// Publisher receives every finished trial, e.g. a NATS client
type Publisher interface {
	PublishTrialResult(result *types.TrialResult) error
}

// RunTrial executes one trial: the vehicle sits at the origin, the key at
// (keyDistance, 0), and a relay is inserted when the scenario names one.
// Construction failures are reported as ERROR rather than returned.
func RunTrial(cfg *config.Config, sc types.Scenario, rng *rand.Rand) types.TrialResult {
	result := types.TrialResult{
		ID:        uuid.New().String(),
		Scenario:  sc,
		Timestamp: time.Now().UTC(),
	}

	v, err := vehicle.New(geometry.Position{X: 0, Y: 0}, cfg.Vehicle)
	if err != nil {
		return errorResult(result, err)
	}
	key := vehicle.NewKey(geometry.Position{X: sc.KeyDistance, Y: 0})

	var attack *relay.Attack
	if sc.HasRelay() {
		attack, err = relay.NewWithParams(*sc.RelayDistance, cfg.Relay)
		if err != nil {
			return errorResult(result, err)
		}
	}

	engine, err := auth.New(v, key, cfg.Policy, rng)
	if err != nil {
		return errorResult(result, err)
	}

	result.Result, result.Debug = engine.Authenticate(attack)
	return result
}

func errorResult(result types.TrialResult, err error) types.TrialResult {
	result.Result = types.ResultError
	result.Debug = types.DiagnosticRecord{
		RealDistance:  result.Scenario.KeyDistance,
		AttackPresent: result.Scenario.HasRelay(),
		Reason:        err.Error(),
	}
	return result
}

// Run is the outcome of a full plan
type Run struct {
	ID       string
	Seed     uint64
	Started  time.Time
	Finished time.Time
	Results  []types.TrialResult
}

// Simulator executes plans on a bounded worker pool
type Simulator struct {
	cfg       *config.Config
	stats     *stats.Stats
	publisher Publisher
}

// New creates a simulator. publisher may be nil.
func New(cfg *config.Config, publisher Publisher) *Simulator {
	return &Simulator{
		cfg:       cfg,
		stats:     stats.New(),
		publisher: publisher,
	}
}

// Stats returns the live run counters
func (s *Simulator) Stats() *stats.Stats {
	return s.stats
}

type job struct {
	index    int
	scenario types.Scenario
}

// Run executes every trial of the plan and returns results in plan order.
// Each trial gets its own random source derived from (seed, index), so a
// seeded run repeats exactly whatever the worker count.
func (s *Simulator) Run(ctx context.Context, plan *types.Plan) (*Run, error) {
	if err := config.ValidatePlan(plan); err != nil {
		return nil, err
	}

	run := &Run{
		ID:      uuid.New().String(),
		Seed:    plan.Seed,
		Started: time.Now().UTC(),
		Results: make([]types.TrialResult, plan.TotalTrials()),
	}
	if run.Seed == 0 {
		run.Seed = rand.Uint64()
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < plan.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				s.runJob(run, j)
			}
		}()
	}

	var err error
	index := 0
dispatch:
	for _, sc := range plan.Scenarios() {
		for i := 0; i < plan.Iterations; i++ {
			if err = ctx.Err(); err != nil {
				break dispatch
			}
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break dispatch
			case jobs <- job{index: index, scenario: sc}:
				index++
			}
		}
	}
	close(jobs)
	wg.Wait()

	run.Finished = time.Now().UTC()
	if err != nil {
		run.Results = run.Results[:index]
		return run, fmt.Errorf("simulation interrupted after %d trials: %w", index, err)
	}
	return run, nil
}

func (s *Simulator) runJob(run *Run, j job) {
	start := time.Now()
	rng := rand.New(rand.NewPCG(run.Seed, uint64(j.index)))

	result := RunTrial(s.cfg, j.scenario, rng)
	result.RunID = run.ID
	run.Results[j.index] = result

	s.stats.RecordTrial(&result)
	s.stats.AddProcessingTime(time.Since(start))

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTrialResult(&result); err != nil {
		s.stats.IncrementFailedPublishes()
		fmt.Printf("Warning: failed to publish trial %s: %v\n", result.ID, err)
		return
	}
	s.stats.IncrementPublished()
}
