package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/pkes-sim/internal/types"
)

// Persister stores a snapshot of the statistics
type Persister interface {
	StoreSystemStats(stats map[string]interface{}) error
}

// Stats tracks trial processing statistics
type Stats struct {
	// Trial counts
	TotalTrials     uint64
	SuccessTrials   uint64
	DetectedTrials  uint64
	TooFarTrials    uint64
	ErrorTrials     uint64
	AttackTrials    uint64
	DetectedAttacks uint64
	MissedAttacks   uint64
	FalseAlarms     uint64
	PublishedTrials uint64
	FailedPublishes uint64

	// Timing
	StartTime      time.Time
	LastTrialTime  time.Time
	ProcessingTime time.Duration

	// Database client for persistence
	db Persister

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	now := time.Now()
	return &Stats{
		StartTime:     now,
		LastTrialTime: now,
	}
}

// SetDB sets the database client for persistence
func (s *Stats) SetDB(db Persister) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
}

// Persist stores the current statistics in the database
func (s *Stats) Persist() error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("database client not set")
	}

	return db.StoreSystemStats(s.GetStats())
}

// RecordTrial updates all counters touched by one trial result
func (s *Stats) RecordTrial(r *types.TrialResult) {
	atomic.AddUint64(&s.TotalTrials, 1)

	switch r.Result {
	case types.ResultSuccess:
		atomic.AddUint64(&s.SuccessTrials, 1)
	case types.ResultRelayDetected:
		atomic.AddUint64(&s.DetectedTrials, 1)
	case types.ResultTooFar:
		atomic.AddUint64(&s.TooFarTrials, 1)
	default:
		atomic.AddUint64(&s.ErrorTrials, 1)
	}

	if r.Scenario.HasRelay() {
		atomic.AddUint64(&s.AttackTrials, 1)
		if r.Result == types.ResultRelayDetected {
			atomic.AddUint64(&s.DetectedAttacks, 1)
		} else if r.Result == types.ResultSuccess {
			atomic.AddUint64(&s.MissedAttacks, 1)
		}
	} else if r.Result == types.ResultRelayDetected {
		atomic.AddUint64(&s.FalseAlarms, 1)
	}

	s.UpdateLastTrialTime()
}

// IncrementPublished increments the published trials counter
func (s *Stats) IncrementPublished() {
	atomic.AddUint64(&s.PublishedTrials, 1)
}

// IncrementFailedPublishes increments the failed publish counter
func (s *Stats) IncrementFailedPublishes() {
	atomic.AddUint64(&s.FailedPublishes, 1)
}

// UpdateLastTrialTime updates the last trial time
func (s *Stats) UpdateLastTrialTime() {
	s.mu.Lock()
	s.LastTrialTime = time.Now()
	s.mu.Unlock()
}

// AddProcessingTime adds to the total processing time
func (s *Stats) AddProcessingTime(duration time.Duration) {
	s.mu.Lock()
	s.ProcessingTime += duration
	s.mu.Unlock()
}

// DetectionRate returns the share of attacked trials classified RELAY_DETECTED, in percent
func (s *Stats) DetectionRate() float64 {
	attacks := atomic.LoadUint64(&s.AttackTrials)
	if attacks == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.DetectedAttacks)) / float64(attacks) * 100
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"total_trials":     atomic.LoadUint64(&s.TotalTrials),
		"success_trials":   atomic.LoadUint64(&s.SuccessTrials),
		"detected_trials":  atomic.LoadUint64(&s.DetectedTrials),
		"too_far_trials":   atomic.LoadUint64(&s.TooFarTrials),
		"error_trials":     atomic.LoadUint64(&s.ErrorTrials),
		"attack_trials":    atomic.LoadUint64(&s.AttackTrials),
		"detected_attacks": atomic.LoadUint64(&s.DetectedAttacks),
		"missed_attacks":   atomic.LoadUint64(&s.MissedAttacks),
		"false_alarms":     atomic.LoadUint64(&s.FalseAlarms),
		"published_trials": atomic.LoadUint64(&s.PublishedTrials),
		"failed_publishes": atomic.LoadUint64(&s.FailedPublishes),
		"start_time":       s.StartTime,
		"last_trial_time":  s.LastTrialTime,
		"processing_time":  s.ProcessingTime,
		"uptime":           time.Since(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()
	return fmt.Sprintf(
		"Total Trials: %d\n"+
			"Success: %d\n"+
			"Relay Detected: %d\n"+
			"Too Far: %d\n"+
			"Errors: %d\n"+
			"Attack Trials: %d\n"+
			"Detected Attacks: %d (%.2f%%)\n"+
			"Missed Attacks: %d\n"+
			"False Alarms: %d\n"+
			"Published Trials: %d\n"+
			"Last Trial Time: %s\n"+
			"Processing Time: %s\n"+
			"Uptime: %s",
		stats["total_trials"],
		stats["success_trials"],
		stats["detected_trials"],
		stats["too_far_trials"],
		stats["error_trials"],
		stats["attack_trials"],
		stats["detected_attacks"],
		s.DetectionRate(),
		stats["missed_attacks"],
		stats["false_alarms"],
		stats["published_trials"],
		stats["last_trial_time"],
		stats["processing_time"],
		stats["uptime"],
	)
}

// StartPersistence starts periodic persistence of statistics
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				fmt.Printf("Failed to persist final statistics: %v\n", err)
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				fmt.Printf("Failed to persist statistics: %v\n", err)
			}
		}
	}
}
