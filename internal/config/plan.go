package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/saviobatista/pkes-sim/internal/types"
)

const (
	DefaultIterations = 100
	DefaultWorkers    = 4
)

// DefaultPlan returns the reference sweep: ten honest key distances evenly
// spaced over [0.1, 5] m, then five relay attacks of increasing reach.
func DefaultPlan() *types.Plan {
	return &types.Plan{
		Iterations:      DefaultIterations,
		Workers:         DefaultWorkers,
		NormalDistances: Linspace(0.1, 5, 10),
		Attacks: []types.Scenario{
			types.NewAttackScenario(5, 10),
			types.NewAttackScenario(10, 20),
			types.NewAttackScenario(15, 30),
			types.NewAttackScenario(20, 40),
			types.NewAttackScenario(25, 50),
		},
	}
}

// Linspace returns n evenly spaced values over [start, stop], both included
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// planFile mirrors types.Plan with optional fields so only the keys present
// in a file override DefaultPlan
type planFile struct {
	Iterations      *int              `toml:"iterations" yaml:"iterations"`
	Workers         *int              `toml:"workers" yaml:"workers"`
	Seed            *uint64           `toml:"seed" yaml:"seed"`
	NormalDistances *[]float64        `toml:"normal_distances" yaml:"normal_distances"`
	Attacks         *[]types.Scenario `toml:"attacks" yaml:"attacks"`
}

func (f *planFile) applyTo(plan *types.Plan) {
	if f.Iterations != nil {
		plan.Iterations = *f.Iterations
	}
	if f.Workers != nil {
		plan.Workers = *f.Workers
	}
	if f.Seed != nil {
		plan.Seed = *f.Seed
	}
	if f.NormalDistances != nil {
		plan.NormalDistances = *f.NormalDistances
	}
	if f.Attacks != nil {
		plan.Attacks = *f.Attacks
	}
}

// LoadPlan reads a plan file. The format is chosen by extension: .toml, .yaml or .yml.
// Fields missing from the file keep their DefaultPlan values; unknown keys are rejected.
func LoadPlan(path string) (*types.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var file planFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TOML plan: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown plan key %q", ErrInvalidValue, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode YAML plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported plan file extension %q", ErrInvalidValue, filepath.Ext(path))
	}

	plan := DefaultPlan()
	file.applyTo(plan)
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ValidatePlan rejects plans that would produce malformed trials
func ValidatePlan(plan *types.Plan) error {
	if plan.Iterations <= 0 {
		return fmt.Errorf("%w: plan iterations must be positive, got %d", ErrInvalidValue, plan.Iterations)
	}
	if plan.Workers <= 0 {
		return fmt.Errorf("%w: plan workers must be positive, got %d", ErrInvalidValue, plan.Workers)
	}
	if len(plan.NormalDistances) == 0 && len(plan.Attacks) == 0 {
		return fmt.Errorf("%w: plan has no scenarios", ErrInvalidValue)
	}
	for _, d := range plan.NormalDistances {
		if d < 0 {
			return fmt.Errorf("%w: key distance must not be negative, got %g", ErrInvalidValue, d)
		}
	}
	for _, sc := range plan.Attacks {
		if sc.KeyDistance < 0 {
			return fmt.Errorf("%w: key distance must not be negative, got %g", ErrInvalidValue, sc.KeyDistance)
		}
		if !sc.HasRelay() {
			return fmt.Errorf("%w: attack scenario %s has no relay distance", ErrInvalidValue, sc.Key())
		}
		if *sc.RelayDistance < 0 {
			return fmt.Errorf("%w: relay distance must not be negative, got %g", ErrInvalidValue, *sc.RelayDistance)
		}
	}
	return nil
}

// ApplyTo copies the simulation settings of the config onto a plan
func (c *Config) ApplyTo(plan *types.Plan) {
	plan.Iterations = c.Iterations
	plan.Workers = c.Workers
	if c.Seed != 0 {
		plan.Seed = c.Seed
	}
}

// ApplyEnvTo copies only the simulation settings that came from the
// environment, leaving values from a plan file in place
func (c *Config) ApplyEnvTo(plan *types.Plan) {
	if c.FromEnv(EnvIterations) {
		plan.Iterations = c.Iterations
	}
	if c.FromEnv(EnvWorkers) {
		plan.Workers = c.Workers
	}
	if c.FromEnv(EnvSeed) {
		plan.Seed = c.Seed
	}
}
