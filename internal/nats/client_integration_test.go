package nats

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/pkes-sim/internal/types"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupNATS starts a JetStream-enabled NATS container and returns its URL
func setupNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server is ready"),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	return url
}

func TestNATSClient_Integration_Connection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	url := setupNATS(t)
	client, err := New(url)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	if client.conn == nil {
		t.Error("Expected connection to be initialized")
	}
	if client.js == nil {
		t.Error("Expected JetStream context to be initialized")
	}

	// A second client must tolerate the existing stream
	second, err := New(url)
	if err != nil {
		t.Fatalf("Failed to create second NATS client: %v", err)
	}
	second.Close()
}

func TestNATSClient_Integration_PublishAndSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client, err := New(setupNATS(t))
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	sent := &types.TrialResult{
		ID:       "trial-1",
		RunID:    "run-1",
		Scenario: types.NewAttackScenario(5, 10),
		Result:   types.ResultRelayDetected,
		Debug: types.DiagnosticRecord{
			RealDistance:  5,
			AttackPresent: true,
			MeasurementRecord: &types.MeasurementRecord{
				RoundTripTime:     231.4,
				Variance:          28.9,
				Measurements:      []float64{230.1, 232.7},
				EstimatedDistance: 34.71,
			},
			Reason: types.ReasonVarianceHigh,
		},
		Timestamp: time.Now().UTC(),
	}

	received := make(chan *types.TrialResult, 1)
	if err := client.SubscribeTrialResults(func(r *types.TrialResult) {
		received <- r
	}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.PublishTrialResult(sent); err != nil {
		t.Fatalf("Failed to publish trial result: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != sent.ID || got.RunID != sent.RunID {
			t.Errorf("Expected trial %s/%s, got %s/%s", sent.RunID, sent.ID, got.RunID, got.ID)
		}
		if got.Result != types.ResultRelayDetected {
			t.Errorf("Expected RELAY_DETECTED, got %s", got.Result)
		}
		if got.Scenario.Key() != sent.Scenario.Key() {
			t.Errorf("Expected scenario %s, got %s", sent.Scenario.Key(), got.Scenario.Key())
		}
		if !got.Debug.Measured() || len(got.Debug.Measurements) != 2 {
			t.Error("Expected measurement fields to survive the stream")
		}
		if got.Debug.Reason != types.ReasonVarianceHigh {
			t.Errorf("Expected reason %q, got %q", types.ReasonVarianceHigh, got.Debug.Reason)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for trial result")
	}
}

func TestNATSClient_Integration_ConcurrentPublishers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	url := setupNATS(t)

	clients := make([]*Client, 3)
	for i := range clients {
		client, err := New(url)
		if err != nil {
			t.Fatalf("Failed to create NATS client %d: %v", i, err)
		}
		defer client.Close()
		clients[i] = client
	}

	const perClient = 10
	expected := len(clients) * perClient
	received := make(chan string, expected)

	if err := clients[0].SubscribeTrialResults(func(r *types.TrialResult) {
		received <- r.ID
	}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(idx int, c *Client) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				r := &types.TrialResult{
					ID:        fmt.Sprintf("trial-%d-%d", idx, j),
					Scenario:  types.NewScenario(float64(j) / 2),
					Result:    types.ResultSuccess,
					Timestamp: time.Now().UTC(),
				}
				if err := c.PublishTrialResult(r); err != nil {
					t.Errorf("Failed to publish from client %d: %v", idx, err)
				}
			}
		}(i, client)
	}
	wg.Wait()

	seen := make(map[string]bool)
	timeout := time.After(10 * time.Second)
	for len(seen) < expected {
		select {
		case id := <-received:
			seen[id] = true
		case <-timeout:
			t.Fatalf("Timeout waiting for trials. Received %d, expected %d", len(seen), expected)
		}
	}
}

func TestNATSClient_Integration_DuplicateIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client, err := New(setupNATS(t))
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 4)
	if err := client.SubscribeTrialResults(func(r *types.TrialResult) {
		received <- r.ID
	}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	r := &types.TrialResult{ID: "same-trial", Scenario: types.NewScenario(1), Result: types.ResultSuccess}
	for i := 0; i < 2; i++ {
		if err := client.PublishTrialResult(r); err != nil {
			t.Fatalf("Failed to publish trial result: %v", err)
		}
	}

	<-received
	select {
	case id := <-received:
		t.Errorf("Expected duplicate %s to be dropped by the stream", id)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNATSClient_Integration_PublishAfterClose(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client, err := New(setupNATS(t))
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	client.Close()

	r := &types.TrialResult{ID: "late", Scenario: types.NewScenario(1), Result: types.ResultSuccess}
	if err := client.PublishTrialResult(r); err == nil {
		t.Error("Expected error when publishing to closed client")
	}
}
