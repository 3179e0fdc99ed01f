package migrations

var RetentionPolicies = &Migration{
	Name: "002_retention_policies",
	UpSQL: `
	SELECT add_retention_policy('system_stats', INTERVAL '90 days');

	-- Hourly detection efficacy across all monitored runs
	CREATE MATERIALIZED VIEW IF NOT EXISTS system_stats_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS hour,
		MAX(total_trials) AS total_trials,
		MAX(attack_trials) AS attack_trials,
		MAX(detected_attacks) AS detected_attacks,
		MAX(missed_attacks) AS missed_attacks,
		MAX(false_alarms) AS false_alarms
	FROM system_stats
	GROUP BY hour
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS system_stats_hourly;
	SELECT remove_retention_policy('system_stats');
	`,
}
