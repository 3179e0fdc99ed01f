package main

import (
	"context"
	"fmt"
	"log"
	"maps"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/saviobatista/pkes-sim/internal/config"
	"github.com/saviobatista/pkes-sim/internal/db"
	"github.com/saviobatista/pkes-sim/internal/nats"
	"github.com/saviobatista/pkes-sim/internal/redis"
	"github.com/saviobatista/pkes-sim/internal/report"
	"github.com/saviobatista/pkes-sim/internal/stats"
	"github.com/saviobatista/pkes-sim/internal/storage"
	"github.com/saviobatista/pkes-sim/internal/types"
)

const (
	flushInterval = 30 * time.Second
	runIdleAfter  = 2 * time.Minute
)

// DBClient interface for testability
type DBClient interface {
	StoreScenarioSummary(summary *types.ScenarioSummary) error
	StoreSystemStats(stats map[string]interface{}) error
	Close() error
}

// RedisClient interface for testability
type RedisClient interface {
	StoreScenarioSummary(ctx context.Context, summary *types.ScenarioSummary) error
	SetRunStatus(ctx context.Context, runID, status string) error
	Close() error
}

// LineWriter receives one report line per flushed summary
type LineWriter interface {
	WriteLine(line string) error
}

type summaryKey struct {
	runID    string
	scenario string
}

// Aggregator folds streamed trial results into per-scenario summaries
type Aggregator struct {
	db        DBClient
	redis     RedisClient
	out       LineWriter
	mu        sync.Mutex
	summaries map[summaryKey]*types.ScenarioSummary
	dirty     map[summaryKey]bool
	lastSeen  map[string]time.Time
	stats     *stats.Stats
	now       func() time.Time
}

// NewAggregator creates an aggregator. out may be nil.
func NewAggregator(db DBClient, redis RedisClient, out LineWriter) *Aggregator {
	return &Aggregator{
		db:        db,
		redis:     redis,
		out:       out,
		summaries: make(map[summaryKey]*types.ScenarioSummary),
		dirty:     make(map[summaryKey]bool),
		lastSeen:  make(map[string]time.Time),
		stats:     stats.New(),
		now:       time.Now,
	}
}

// Start launches statistics logging, persistence and the periodic flush
func (a *Aggregator) Start(ctx context.Context) {
	a.stats.SetDB(a.db)

	go a.logStats(ctx)
	go a.stats.StartPersistence(ctx, 5*time.Minute)
	go a.flushLoop(ctx)
}

// ProcessTrial folds one trial into its scenario summary and caches the result
func (a *Aggregator) ProcessTrial(ctx context.Context, r *types.TrialResult) error {
	if r.RunID == "" {
		return fmt.Errorf("trial %s has no run ID", r.ID)
	}
	if !r.Result.Valid() {
		return fmt.Errorf("trial %s has unknown result %q", r.ID, r.Result)
	}

	start := time.Now()
	a.stats.RecordTrial(r)

	a.mu.Lock()
	_, known := a.lastSeen[r.RunID]
	a.lastSeen[r.RunID] = a.now()

	key := summaryKey{runID: r.RunID, scenario: r.Scenario.Key()}
	summary, ok := a.summaries[key]
	if !ok {
		summary = types.NewScenarioSummary(r.RunID, r.Scenario)
		a.summaries[key] = summary
	}
	summary.Add(r)
	a.dirty[key] = true
	snapshot := cloneSummary(summary)
	a.mu.Unlock()

	if !known {
		if err := a.redis.SetRunStatus(ctx, r.RunID, redis.RunStatusRunning); err != nil {
			log.Printf("Warning: Failed to set run status in Redis: %v", err)
		}
	}
	if err := a.redis.StoreScenarioSummary(ctx, &snapshot); err != nil {
		log.Printf("Warning: Failed to cache scenario summary in Redis: %v", err)
	}

	a.stats.AddProcessingTime(time.Since(start))
	return nil
}

// Flush persists every summary changed since the last flush. Summaries that
// fail to store stay dirty and are retried on the next flush.
func (a *Aggregator) Flush() error {
	a.mu.Lock()
	pending := make([]types.ScenarioSummary, 0, len(a.dirty))
	for key := range a.dirty {
		pending = append(pending, cloneSummary(a.summaries[key]))
	}
	a.dirty = make(map[summaryKey]bool)
	a.mu.Unlock()

	var firstErr error
	for i := range pending {
		s := &pending[i]
		if err := a.db.StoreScenarioSummary(s); err != nil {
			a.markDirty(s)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to store scenario summary: %w", err)
			}
			continue
		}
		if a.out != nil {
			if err := a.out.WriteLine(report.FormatSummaryLine(s)); err != nil {
				log.Printf("Warning: Failed to write report line: %v", err)
			}
		}
	}
	return firstErr
}

func cloneSummary(s *types.ScenarioSummary) types.ScenarioSummary {
	c := *s
	c.Reasons = maps.Clone(s.Reasons)
	return c
}

func (a *Aggregator) markDirty(s *types.ScenarioSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := summaryKey{runID: s.RunID, scenario: s.ScenarioKey}
	if _, ok := a.summaries[key]; ok {
		a.dirty[key] = true
	}
}

// CompleteIdleRuns marks runs with no trials for idle as complete and drops
// their summaries from memory once they have been flushed
func (a *Aggregator) CompleteIdleRuns(ctx context.Context, idle time.Duration) []string {
	now := a.now()

	a.mu.Lock()
	var done []string
	for runID, seen := range a.lastSeen {
		if now.Sub(seen) < idle || a.hasDirtyLocked(runID) {
			continue
		}
		done = append(done, runID)
		delete(a.lastSeen, runID)
		for key := range a.summaries {
			if key.runID == runID {
				delete(a.summaries, key)
			}
		}
	}
	a.mu.Unlock()

	for _, runID := range done {
		if err := a.redis.SetRunStatus(ctx, runID, redis.RunStatusComplete); err != nil {
			log.Printf("Warning: Failed to set run status in Redis: %v", err)
		}
		log.Printf("Run %s complete", runID)
	}
	return done
}

// FailDirtyRuns marks every run that still has unflushed summaries as failed
func (a *Aggregator) FailDirtyRuns(ctx context.Context) []string {
	a.mu.Lock()
	seen := make(map[string]bool)
	var failed []string
	for key := range a.dirty {
		if !seen[key.runID] {
			seen[key.runID] = true
			failed = append(failed, key.runID)
		}
	}
	a.mu.Unlock()

	for _, runID := range failed {
		if err := a.redis.SetRunStatus(ctx, runID, redis.RunStatusFailed); err != nil {
			log.Printf("Warning: Failed to set run status in Redis: %v", err)
		}
	}
	return failed
}

func (a *Aggregator) hasDirtyLocked(runID string) bool {
	for key := range a.dirty {
		if key.runID == runID {
			return true
		}
	}
	return false
}

// Summaries returns a copy of the live summaries of a run
func (a *Aggregator) Summaries(runID string) []types.ScenarioSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []types.ScenarioSummary
	for key, s := range a.summaries {
		if key.runID == runID {
			out = append(out, cloneSummary(s))
		}
	}
	return out
}

func (a *Aggregator) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Flush(); err != nil {
				log.Printf("Failed to flush summaries: %v", err)
			}
			a.CompleteIdleRuns(ctx, runIdleAfter)
		}
	}
}

// logStats periodically logs statistics
func (a *Aggregator) logStats(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Statistics:\n%s", a.stats)
		}
	}
}

// createClients creates all the required clients for the application
func createClients(cfg *config.Config) (*nats.Client, *db.Client, *redis.Client, error) {
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		natsClient.Close()
		if closeErr := dbClient.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", closeErr)
		}
		return nil, nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return natsClient, dbClient, redisClient, nil
}

// subscribe routes streamed trials into the aggregator
func subscribe(ctx context.Context, natsClient *nats.Client, agg *Aggregator) error {
	if err := natsClient.SubscribeTrialResults(func(r *types.TrialResult) {
		if err := agg.ProcessTrial(ctx, r); err != nil {
			log.Printf("Failed to process trial: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to trial results: %w", err)
	}
	return nil
}

func main() {
	if err := runReporter(); err != nil {
		log.Printf("Reporter failed: %v", err)
		os.Exit(1)
	}
}

// runReporter contains the main application logic and can be tested
func runReporter() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	natsClient, dbClient, redisClient, err := createClients(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
		if err := redisClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}()

	files := storage.New(cfg.OutputDir)
	if err := files.Start(); err != nil {
		natsClient.Close()
		return fmt.Errorf("failed to start report storage: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg := NewAggregator(dbClient, redisClient, files)
	agg.Start(ctx)

	if err := subscribe(ctx, natsClient, agg); err != nil {
		natsClient.Close()
		_ = files.Stop()
		return err
	}
	log.Printf("Aggregating %s into %s", nats.SubjectTrials, cfg.OutputDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	natsClient.Close()
	cancel()

	if err := agg.Flush(); err != nil {
		log.Printf("Failed to flush summaries on shutdown: %v", err)
		for _, runID := range agg.FailDirtyRuns(context.Background()) {
			log.Printf("Run %s marked failed", runID)
		}
	}
	if err := agg.stats.Persist(); err != nil {
		log.Printf("Failed to persist statistics: %v", err)
	}
	return files.Stop()
}
