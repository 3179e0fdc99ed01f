package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/pkes-sim/internal/config"
	"github.com/saviobatista/pkes-sim/internal/nats"
	"github.com/saviobatista/pkes-sim/internal/parser"
	"github.com/saviobatista/pkes-sim/internal/report"
	"github.com/saviobatista/pkes-sim/internal/sim"
	"github.com/saviobatista/pkes-sim/internal/stats"
	"github.com/saviobatista/pkes-sim/internal/types"
)

type options struct {
	iterations   int
	workers      int
	seed         uint64
	planPath     string
	scenarios    string
	scenarioFile string
	publish      bool
	csvPath      string
	bins         int
	set          map[string]bool
}

func main() {
	if err := runSimulator(os.Args[1:]); err != nil {
		log.Printf("Simulator failed: %v", err)
		os.Exit(1)
	}
}

// runSimulator contains the main application logic and can be tested
func runSimulator(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	plan, err := buildPlan(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publisher sim.Publisher
	if opts.publish {
		client, err := nats.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to create NATS client: %w", err)
		}
		defer client.Close()
		publisher = client
	}

	return simulate(ctx, cfg, plan, publisher, opts, os.Stdout)
}

func parseFlags(args []string) (*options, error) {
	opts := &options{set: make(map[string]bool)}

	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.IntVar(&opts.iterations, "iterations", config.DefaultIterations, "Trials per scenario")
	fs.IntVar(&opts.workers, "workers", config.DefaultWorkers, "Concurrent trial workers")
	fs.Uint64Var(&opts.seed, "seed", 0, "Run seed (0 picks a random seed)")
	fs.StringVar(&opts.planPath, "plan", "", "Plan file (.toml, .yaml)")
	fs.StringVar(&opts.scenarios, "scenarios", "", "Scenarios as KEY[:RELAY],... e.g. 1,2.5,5:10")
	fs.StringVar(&opts.scenarioFile, "scenario-file", "", "File with one KEY[:RELAY] scenario per line")
	fs.BoolVar(&opts.publish, "publish", false, "Publish every trial to NATS")
	fs.StringVar(&opts.csvPath, "csv", "", "Write chart series to this CSV file")
	fs.IntVar(&opts.bins, "bins", 30, "RTT histogram bins in CSV output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	if opts.scenarios != "" && opts.scenarioFile != "" {
		return nil, errors.New("-scenarios and -scenario-file are mutually exclusive")
	}
	return opts, nil
}

// buildPlan resolves the plan: file or defaults, then environment, then flags
func buildPlan(cfg *config.Config, opts *options) (*types.Plan, error) {
	var plan *types.Plan
	if opts.planPath != "" {
		p, err := config.LoadPlan(opts.planPath)
		if err != nil {
			return nil, err
		}
		plan = p
		cfg.ApplyEnvTo(plan)
	} else {
		plan = config.DefaultPlan()
		cfg.ApplyTo(plan)
	}

	var scenarios []types.Scenario
	switch {
	case opts.scenarios != "":
		s, err := parser.ParseScenarioList(opts.scenarios)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scenarios: %w", err)
		}
		scenarios = s
	case opts.scenarioFile != "":
		f, err := os.Open(opts.scenarioFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open scenario file: %w", err)
		}
		s, err := parser.ReadScenarios(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file: %w", err)
		}
		scenarios = s
	}
	if scenarios != nil {
		plan.NormalDistances, plan.Attacks = parser.SplitScenarios(scenarios)
	}

	if opts.set["iterations"] {
		plan.Iterations = opts.iterations
	}
	if opts.set["workers"] {
		plan.Workers = opts.workers
	}
	if opts.set["seed"] {
		plan.Seed = opts.seed
	}

	if err := config.ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// simulate runs the plan and writes the summary (and CSV when requested).
// An interrupted run still reports the trials that completed.
func simulate(ctx context.Context, cfg *config.Config, plan *types.Plan, publisher sim.Publisher, opts *options, out io.Writer) error {
	simulator := sim.New(cfg, publisher)

	logCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go logStats(logCtx, simulator.Stats(), 10*time.Second)

	log.Printf("Running %d trials (%d scenarios x %d iterations) on %d workers",
		plan.TotalTrials(), len(plan.Scenarios()), plan.Iterations, plan.Workers)

	run, runErr := simulator.Run(ctx, plan)
	if run == nil {
		return runErr
	}

	log.Printf("Run %s (seed %d) finished in %s", run.ID, run.Seed, run.Finished.Sub(run.Started).Round(time.Millisecond))

	rep := report.Build(run.Results)
	if err := report.WriteSummary(out, rep); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := writeScenarioLines(out, run); err != nil {
		return fmt.Errorf("failed to write scenario summaries: %w", err)
	}

	if opts.csvPath != "" {
		if err := writeCSV(opts.csvPath, rep, opts.bins); err != nil {
			return err
		}
		log.Printf("Chart data written to %s", opts.csvPath)
	}

	if publisher != nil {
		log.Printf("Statistics:\n%s", simulator.Stats())
	}

	return runErr
}

// writeScenarioLines prints one line per scenario in plan order
func writeScenarioLines(w io.Writer, run *sim.Run) error {
	summaries := report.Summarize(run.ID, run.Results)
	if len(summaries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "\n=== Per Scenario ==="); err != nil {
		return err
	}
	for _, s := range summaries {
		if _, err := fmt.Fprintln(w, report.FormatSummaryLine(s)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, rep *report.Report, bins int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := report.WriteCSV(f, rep, bins); err != nil {
		f.Close()
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	return f.Close()
}

// logStats periodically logs statistics
func logStats(ctx context.Context, s *stats.Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Statistics:\n%s", s)
		}
	}
}
