package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/saviobatista/pkes-sim/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// StoreScenarioSummary upserts the summary of one scenario of a run
func (c *Client) StoreScenarioSummary(s *types.ScenarioSummary) error {
	query := `
		INSERT INTO scenario_summaries (
			run_id, scenario_key, key_distance, relay_distance,
			trials, success, relay_detected, too_far, errors, measured,
			mean_round_trip_ns, mean_stddev_ns, reason_names, reason_counts,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id, scenario_key) DO UPDATE SET
			trials = EXCLUDED.trials,
			success = EXCLUDED.success,
			relay_detected = EXCLUDED.relay_detected,
			too_far = EXCLUDED.too_far,
			errors = EXCLUDED.errors,
			measured = EXCLUDED.measured,
			mean_round_trip_ns = EXCLUDED.mean_round_trip_ns,
			mean_stddev_ns = EXCLUDED.mean_stddev_ns,
			reason_names = EXCLUDED.reason_names,
			reason_counts = EXCLUDED.reason_counts,
			updated_at = EXCLUDED.updated_at
	`

	names, counts := splitReasons(s.Reasons)

	var relay sql.NullFloat64
	if s.RelayDistance != nil {
		relay = sql.NullFloat64{Float64: *s.RelayDistance, Valid: true}
	}

	_, err := c.db.Exec(query,
		s.RunID, s.ScenarioKey, s.KeyDistance, relay,
		s.Trials, s.Success, s.RelayDetected, s.TooFar, s.Errors, s.Measured,
		s.MeanRoundTrip, s.MeanVariance, pq.Array(names), pq.Array(counts),
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store scenario summary %s: %w", s.ScenarioKey, err)
	}
	return nil
}

// GetScenarioSummaries retrieves all summaries of a run ordered by scenario
func (c *Client) GetScenarioSummaries(runID string) ([]*types.ScenarioSummary, error) {
	query := `
		SELECT run_id, scenario_key, key_distance, relay_distance,
			trials, success, relay_detected, too_far, errors, measured,
			mean_round_trip_ns, mean_stddev_ns, reason_names, reason_counts,
			updated_at
		FROM scenario_summaries
		WHERE run_id = $1
		ORDER BY relay_distance NULLS FIRST, key_distance
	`
	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*types.ScenarioSummary
	for rows.Next() {
		var (
			s      types.ScenarioSummary
			relay  sql.NullFloat64
			names  []string
			counts []int64
		)
		if err := rows.Scan(
			&s.RunID, &s.ScenarioKey, &s.KeyDistance, &relay,
			&s.Trials, &s.Success, &s.RelayDetected, &s.TooFar, &s.Errors, &s.Measured,
			&s.MeanRoundTrip, &s.MeanVariance, pq.Array(&names), pq.Array(&counts),
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if relay.Valid {
			d := relay.Float64
			s.RelayDistance = &d
		}
		s.Reasons = joinReasons(names, counts)
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}

// splitReasons flattens a reason histogram into parallel arrays sorted by name
func splitReasons(reasons map[string]int64) ([]string, []int64) {
	names := make([]string, 0, len(reasons))
	for name := range reasons {
		names = append(names, name)
	}
	sort.Strings(names)

	counts := make([]int64, len(names))
	for i, name := range names {
		counts[i] = reasons[name]
	}
	return names, counts
}

func joinReasons(names []string, counts []int64) map[string]int64 {
	if len(names) == 0 {
		return nil
	}
	reasons := make(map[string]int64, len(names))
	for i, name := range names {
		if i < len(counts) {
			reasons[name] = counts[i]
		}
	}
	return reasons
}

// StoreSystemStats stores system statistics
func (c *Client) StoreSystemStats(stats map[string]interface{}) error {
	query := `
		INSERT INTO system_stats (
			time, total_trials, success_trials, detected_trials,
			too_far_trials, error_trials, attack_trials, detected_attacks,
			missed_attacks, false_alarms, published_trials, failed_publishes,
			processing_time_ms, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	processingTime, _ := stats["processing_time"].(time.Duration)
	uptime, _ := stats["uptime"].(time.Duration)

	_, err := c.db.Exec(query,
		time.Now(),
		stats["total_trials"],
		stats["success_trials"],
		stats["detected_trials"],
		stats["too_far_trials"],
		stats["error_trials"],
		stats["attack_trials"],
		stats["detected_attacks"],
		stats["missed_attacks"],
		stats["false_alarms"],
		stats["published_trials"],
		stats["failed_publishes"],
		processingTime.Milliseconds(),
		int64(uptime.Seconds()),
	)

	return err
}

// GetSystemStats retrieves system statistics for a time range
func (c *Client) GetSystemStats(start, end time.Time) ([]map[string]interface{}, error) {
	query := `
		SELECT
			time, total_trials, success_trials, detected_trials,
			too_far_trials, error_trials, attack_trials, detected_attacks,
			missed_attacks, false_alarms, published_trials, failed_publishes,
			processing_time_ms, uptime_seconds
		FROM system_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`

	rows, err := c.db.Query(query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []map[string]interface{}
	for rows.Next() {
		var (
			timestamp        time.Time
			totalTrials      int64
			successTrials    int64
			detectedTrials   int64
			tooFarTrials     int64
			errorTrials      int64
			attackTrials     int64
			detectedAttacks  int64
			missedAttacks    int64
			falseAlarms      int64
			publishedTrials  int64
			failedPublishes  int64
			processingTimeMs int64
			uptimeSeconds    int64
		)

		if err := rows.Scan(
			&timestamp,
			&totalTrials,
			&successTrials,
			&detectedTrials,
			&tooFarTrials,
			&errorTrials,
			&attackTrials,
			&detectedAttacks,
			&missedAttacks,
			&falseAlarms,
			&publishedTrials,
			&failedPublishes,
			&processingTimeMs,
			&uptimeSeconds,
		); err != nil {
			return nil, err
		}

		stats = append(stats, map[string]interface{}{
			"time":             timestamp,
			"total_trials":     totalTrials,
			"success_trials":   successTrials,
			"detected_trials":  detectedTrials,
			"too_far_trials":   tooFarTrials,
			"error_trials":     errorTrials,
			"attack_trials":    attackTrials,
			"detected_attacks": detectedAttacks,
			"missed_attacks":   missedAttacks,
			"false_alarms":     falseAlarms,
			"published_trials": publishedTrials,
			"failed_publishes": failedPublishes,
			"processing_time":  time.Duration(processingTimeMs) * time.Millisecond,
			"uptime_seconds":   uptimeSeconds,
		})
	}

	return stats, rows.Err()
}
