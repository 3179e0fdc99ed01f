package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/pkes-sim/internal/types"
)

const (
	StreamTrials  = "PKES_TRIALS"
	SubjectTrials = "pkes.trials"
)

// ErrNilResult is returned when publishing a nil trial result
var ErrNilResult = errors.New("nil trial result")

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a new NATS client and makes sure the trial stream exists
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url, nats.Name("pkes-sim"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamTrials,
		Subjects: []string{SubjectTrials},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !isStreamInUse(err) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

func isStreamInUse(err error) bool {
	return strings.Contains(err.Error(), "stream name already in use")
}

// PublishTrialResult publishes one trial outcome to the trial stream
func (c *Client) PublishTrialResult(result *types.TrialResult) error {
	if result == nil {
		return ErrNilResult
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal trial result: %w", err)
	}

	var opts []nats.PubOpt
	if result.ID != "" {
		opts = append(opts, nats.MsgId(result.ID))
	}

	if _, err := c.js.Publish(SubjectTrials, data, opts...); err != nil {
		return fmt.Errorf("failed to publish trial result: %w", err)
	}

	return nil
}

// SubscribeTrialResults delivers every trial on the stream to handler.
// Messages that do not decode are logged and dropped.
func (c *Client) SubscribeTrialResults(handler func(*types.TrialResult)) error {
	_, err := c.js.Subscribe(SubjectTrials, func(msg *nats.Msg) {
		result, err := decodeTrialResult(msg.Data)
		if err != nil {
			fmt.Printf("Error unmarshaling trial result: %v\n", err)
			return
		}
		handler(result)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

func decodeTrialResult(data []byte) (*types.TrialResult, error) {
	var result types.TrialResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	if !result.Result.Valid() {
		return nil, fmt.Errorf("unknown result %q", result.Result)
	}
	return &result, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
