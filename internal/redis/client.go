package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/pkes-sim/internal/types"
)

const (
	// SummaryTTL bounds how long a run's live summaries stay cached
	SummaryTTL = 24 * time.Hour
)

// Run status values
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func summaryKey(runID, scenarioKey string) string {
	return fmt.Sprintf("summary:%s:%s", runID, scenarioKey)
}

func runStatusKey(runID string) string {
	return fmt.Sprintf("run:%s:status", runID)
}

// StoreScenarioSummary caches the live summary of one scenario of a run
func (c *Client) StoreScenarioSummary(ctx context.Context, summary *types.ScenarioSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal scenario summary: %w", err)
	}

	key := summaryKey(summary.RunID, summary.ScenarioKey)
	if err := c.client.Set(ctx, key, data, SummaryTTL).Err(); err != nil {
		return fmt.Errorf("failed to store scenario summary: %w", err)
	}
	return nil
}

// getData retrieves data from Redis and unmarshals it into the target.
// It reports false when the key does not exist.
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}

	return true, nil
}

// GetScenarioSummary returns the cached summary, or nil if none is cached
func (c *Client) GetScenarioSummary(ctx context.Context, runID, scenarioKey string) (*types.ScenarioSummary, error) {
	var summary types.ScenarioSummary
	found, err := c.getData(ctx, summaryKey(runID, scenarioKey), &summary, "scenario summary")
	if err != nil || !found {
		return nil, err
	}
	return &summary, nil
}

// DeleteScenarioSummary removes a cached summary
func (c *Client) DeleteScenarioSummary(ctx context.Context, runID, scenarioKey string) error {
	return c.client.Del(ctx, summaryKey(runID, scenarioKey)).Err()
}

// SetRunStatus records the lifecycle state of a run
func (c *Client) SetRunStatus(ctx context.Context, runID, status string) error {
	return c.client.Set(ctx, runStatusKey(runID), status, SummaryTTL).Err()
}

// GetRunStatus returns the recorded status of a run, or "" if unknown
func (c *Client) GetRunStatus(ctx context.Context, runID string) (string, error) {
	val, err := c.client.Get(ctx, runStatusKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get run status: %w", err)
	}
	return val, nil
}
