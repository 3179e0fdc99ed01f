package migrations

// SimulationSchema creates the run summary and statistics tables
var SimulationSchema = &Migration{
	Name: "001_simulation_schema",
	UpSQL: `
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		-- One row per (run, scenario); rewritten on every flush
		CREATE TABLE IF NOT EXISTS scenario_summaries (
			run_id TEXT NOT NULL,
			scenario_key TEXT NOT NULL,
			key_distance DOUBLE PRECISION NOT NULL,
			relay_distance DOUBLE PRECISION,
			trials BIGINT NOT NULL,
			success BIGINT NOT NULL,
			relay_detected BIGINT NOT NULL,
			too_far BIGINT NOT NULL,
			errors BIGINT NOT NULL,
			measured BIGINT NOT NULL,
			mean_round_trip_ns DOUBLE PRECISION NOT NULL,
			mean_stddev_ns DOUBLE PRECISION NOT NULL,
			reason_names TEXT[] NOT NULL DEFAULT '{}',
			reason_counts BIGINT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, scenario_key)
		);

		CREATE INDEX IF NOT EXISTS idx_scenario_summaries_updated_at ON scenario_summaries (updated_at);
		CREATE INDEX IF NOT EXISTS idx_scenario_summaries_relay ON scenario_summaries (relay_distance);

		CREATE TABLE IF NOT EXISTS system_stats (
			time TIMESTAMPTZ NOT NULL,
			total_trials BIGINT NOT NULL,
			success_trials BIGINT NOT NULL,
			detected_trials BIGINT NOT NULL,
			too_far_trials BIGINT NOT NULL,
			error_trials BIGINT NOT NULL,
			attack_trials BIGINT NOT NULL,
			detected_attacks BIGINT NOT NULL,
			missed_attacks BIGINT NOT NULL,
			false_alarms BIGINT NOT NULL,
			published_trials BIGINT NOT NULL,
			failed_publishes BIGINT NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		SELECT create_hypertable('system_stats', 'time');

		CREATE INDEX IF NOT EXISTS idx_system_stats_time ON system_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS system_stats;
		DROP TABLE IF EXISTS scenario_summaries;
	`,
}
