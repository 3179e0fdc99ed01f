package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/saviobatista/pkes-sim/internal/config"
	"github.com/saviobatista/pkes-sim/internal/types"
)

type mockPublisher struct {
	mu    sync.Mutex
	count int
	err   error
}

func (m *mockPublisher) PublishTrialResult(result *types.TrialResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.count++
	return nil
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
		check       func(t *testing.T, o *options)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, o *options) {
				if o.iterations != config.DefaultIterations || o.workers != config.DefaultWorkers {
					t.Errorf("Unexpected defaults %d/%d", o.iterations, o.workers)
				}
				if len(o.set) != 0 {
					t.Errorf("Expected no flags marked as set, got %v", o.set)
				}
			},
		},
		{
			name: "explicit values",
			args: []string{"-iterations", "10", "-workers", "2", "-seed", "7", "-scenarios", "1,5:10", "-publish", "-csv", "out.csv"},
			check: func(t *testing.T, o *options) {
				if o.iterations != 10 || o.workers != 2 || o.seed != 7 {
					t.Errorf("Unexpected values %+v", o)
				}
				if !o.publish || o.csvPath != "out.csv" || o.scenarios != "1,5:10" {
					t.Errorf("Unexpected values %+v", o)
				}
				if !o.set["seed"] || o.set["plan"] {
					t.Errorf("Unexpected set flags %v", o.set)
				}
			},
		},
		{
			name:        "unknown flag",
			args:        []string{"-nope"},
			expectError: true,
		},
		{
			name:        "conflicting scenario sources",
			args:        []string{"-scenarios", "1", "-scenario-file", "s.txt"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			tt.check(t, opts)
		})
	}
}

func TestBuildPlan_Defaults(t *testing.T) {
	cfg := config.Default()
	cfg.Iterations = 5
	cfg.Seed = 99

	opts, _ := parseFlags(nil)
	plan, err := buildPlan(cfg, opts)
	if err != nil {
		t.Fatalf("buildPlan() failed: %v", err)
	}

	if plan.Iterations != 5 || plan.Seed != 99 {
		t.Errorf("Expected config to apply, got iterations=%d seed=%d", plan.Iterations, plan.Seed)
	}
	if len(plan.NormalDistances) != 10 || len(plan.Attacks) != 5 {
		t.Errorf("Expected default sweep, got %d/%d", len(plan.NormalDistances), len(plan.Attacks))
	}
}

func TestBuildPlan_ScenarioFlagsOverride(t *testing.T) {
	opts, err := parseFlags([]string{"-scenarios", "0.5,1.5,5:10,5:0", "-iterations", "3", "-workers", "1"})
	if err != nil {
		t.Fatalf("parseFlags() failed: %v", err)
	}

	plan, err := buildPlan(config.Default(), opts)
	if err != nil {
		t.Fatalf("buildPlan() failed: %v", err)
	}

	if len(plan.NormalDistances) != 2 || len(plan.Attacks) != 2 {
		t.Fatalf("Expected 2 normal and 2 attack scenarios, got %d/%d", len(plan.NormalDistances), len(plan.Attacks))
	}
	if *plan.Attacks[1].RelayDistance != 0 {
		t.Errorf("Expected zero-length relay to be kept as an attack")
	}
	if plan.Iterations != 3 || plan.Workers != 1 {
		t.Errorf("Expected flags to win, got %d/%d", plan.Iterations, plan.Workers)
	}
}

func TestBuildPlan_ScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.txt")
	content := "# honest sweep\n0.5\n1.0\n\n# relays\n10:50\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write scenario file: %v", err)
	}

	opts, _ := parseFlags([]string{"-scenario-file", path})
	plan, err := buildPlan(config.Default(), opts)
	if err != nil {
		t.Fatalf("buildPlan() failed: %v", err)
	}
	if len(plan.NormalDistances) != 2 || len(plan.Attacks) != 1 {
		t.Errorf("Unexpected plan %+v", plan)
	}
}

func TestBuildPlan_PlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.toml")
	content := `iterations = 7
workers = 2
seed = 11
normal_distances = [1.0]

[[attacks]]
key_distance = 5.0
relay_distance = 10.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write plan: %v", err)
	}

	cfg := config.Default()
	cfg.Iterations = 500

	opts, _ := parseFlags([]string{"-plan", path})
	plan, err := buildPlan(cfg, opts)
	if err != nil {
		t.Fatalf("buildPlan() failed: %v", err)
	}
	if plan.Iterations != 7 || plan.Seed != 11 {
		t.Errorf("Expected plan file values to be kept, got iterations=%d seed=%d", plan.Iterations, plan.Seed)
	}
}

func TestBuildPlan_PlanFileThenEnvThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := "iterations: 7\nworkers: 2\nseed: 11\nnormal_distances: [1.0]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write plan: %v", err)
	}

	t.Setenv(config.EnvWorkers, "5")
	t.Setenv(config.EnvSeed, "42")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() failed: %v", err)
	}

	opts, _ := parseFlags([]string{"-plan", path, "-seed", "9"})
	plan, err := buildPlan(cfg, opts)
	if err != nil {
		t.Fatalf("buildPlan() failed: %v", err)
	}

	if plan.Iterations != 7 {
		t.Errorf("Expected iterations from the plan file, got %d", plan.Iterations)
	}
	if plan.Workers != 5 {
		t.Errorf("Expected workers from PKES_WORKERS, got %d", plan.Workers)
	}
	if plan.Seed != 9 {
		t.Errorf("Expected -seed to win over the environment, got %d", plan.Seed)
	}
}

func TestBuildPlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad scenario", []string{"-scenarios", "abc"}},
		{"missing scenario file", []string{"-scenario-file", "/nonexistent/scenarios.txt"}},
		{"missing plan file", []string{"-plan", "/nonexistent/plan.toml"}},
		{"zero iterations", []string{"-iterations", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args)
			if err != nil {
				t.Fatalf("parseFlags() failed: %v", err)
			}
			if _, err := buildPlan(config.Default(), opts); err == nil {
				t.Error("Expected error, got none")
			}
		})
	}
}

func TestSimulate(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "chart.csv")
	opts, _ := parseFlags([]string{"-csv", csvPath, "-bins", "5"})

	plan := &types.Plan{
		Iterations:      10,
		Workers:         2,
		Seed:            3,
		NormalDistances: []float64{1, 3},
		Attacks:         []types.Scenario{types.NewAttackScenario(5, 10)},
	}

	publisher := &mockPublisher{}
	var out bytes.Buffer
	if err := simulate(context.Background(), config.Default(), plan, publisher, opts, &out); err != nil {
		t.Fatalf("simulate() failed: %v", err)
	}

	for _, want := range []string{"=== Simulation Results ===", "Total scenarios: 30", "Attacks attempted: 10"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Summary should contain %q, got:\n%s", want, out.String())
		}
	}

	for _, want := range []string{"=== Per Scenario ===", " key=1.00 trials=10 ", " key=3.00 trials=10 ", " key=5.00,relay=10.00 trials=10 "} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Per-scenario lines should contain %q, got:\n%s", want, out.String())
		}
	}
	if i, j := strings.Index(out.String(), " key=1.00 "), strings.Index(out.String(), " key=5.00,"); i > j {
		t.Error("Expected scenario lines in plan order")
	}

	if publisher.count != 30 {
		t.Errorf("Expected 30 published trials, got %d", publisher.count)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("Expected CSV file: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}
	if len(records) < 2 || records[0][0] != "series" {
		t.Errorf("Unexpected CSV content %v", records)
	}
}

func TestSimulate_PublishFailuresDoNotAbort(t *testing.T) {
	opts, _ := parseFlags(nil)
	plan := &types.Plan{Iterations: 5, Workers: 1, Seed: 1, NormalDistances: []float64{1}}

	var out bytes.Buffer
	publisher := &mockPublisher{err: errors.New("nats down")}
	if err := simulate(context.Background(), config.Default(), plan, publisher, opts, &out); err != nil {
		t.Fatalf("simulate() should not fail on publish errors: %v", err)
	}
	if !strings.Contains(out.String(), "Total scenarios: 5") {
		t.Errorf("Expected summary of all trials, got:\n%s", out.String())
	}
}

func TestSimulate_Cancelled(t *testing.T) {
	opts, _ := parseFlags(nil)
	plan := &types.Plan{Iterations: 100, Workers: 2, Seed: 1, NormalDistances: []float64{1}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := simulate(ctx, config.Default(), plan, nil, opts, &out)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !strings.Contains(out.String(), "Total scenarios: 0") {
		t.Errorf("Expected an empty partial summary, got:\n%s", out.String())
	}
	if strings.Contains(out.String(), "=== Per Scenario ===") {
		t.Error("Expected no scenario lines for an empty run")
	}
}
