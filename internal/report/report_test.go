package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/saviobatista/pkes-sim/internal/types"
)

func measured(sc types.Scenario, result types.AuthResult, rtt float64, reason string) types.TrialResult {
	return types.TrialResult{
		Scenario: sc,
		Result:   result,
		Debug: types.DiagnosticRecord{
			AttackPresent:     sc.HasRelay(),
			MeasurementRecord: &types.MeasurementRecord{RoundTripTime: rtt},
			Reason:            reason,
		},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func sampleResults() []types.TrialResult {
	near := types.NewScenario(1)
	far := types.NewScenario(3)
	attack := types.NewAttackScenario(5, 10)
	longer := types.NewAttackScenario(10, 20)

	return []types.TrialResult{
		measured(near, types.ResultSuccess, 60, ""),
		measured(near, types.ResultSuccess, 61, ""),
		measured(near, types.ResultRelayDetected, 62, types.ReasonResponseSlow),
		{Scenario: far, Result: types.ResultTooFar, Debug: types.DiagnosticRecord{RealDistance: 3, Reason: types.ReasonTooFar}},
		measured(attack, types.ResultRelayDetected, 230, types.ReasonVarianceHigh),
		measured(attack, types.ResultSuccess, 235, ""),
		measured(longer, types.ResultRelayDetected, 300, types.ReasonResponseSlow),
		measured(longer, types.ResultRelayDetected, 310, types.ReasonVarianceHigh),
	}
}

func TestBuild(t *testing.T) {
	rep := Build(sampleResults())

	if rep.Total != 8 || rep.Attacks != 4 || rep.Detected != 3 {
		t.Errorf("Unexpected totals: %d total, %d attacks, %d detected", rep.Total, rep.Attacks, rep.Detected)
	}
	if rep.Efficacy() != 75 {
		t.Errorf("Expected efficacy 75%%, got %v", rep.Efficacy())
	}

	if len(rep.SuccessByKey) != 2 {
		t.Fatalf("Expected 2 success points, got %d", len(rep.SuccessByKey))
	}
	if rep.SuccessByKey[0].Distance != 1 || rep.SuccessByKey[0].Hits != 2 || rep.SuccessByKey[0].Trials != 3 {
		t.Errorf("Unexpected first success point %+v", rep.SuccessByKey[0])
	}
	if rep.SuccessByKey[1].Rate != 0 {
		t.Errorf("Expected 0%% success at 3m, got %v", rep.SuccessByKey[1].Rate)
	}

	if len(rep.DetectionByRelay) != 2 || rep.DetectionByRelay[0].Rate != 50 || rep.DetectionByRelay[1].Rate != 100 {
		t.Errorf("Unexpected detection points %+v", rep.DetectionByRelay)
	}

	if len(rep.NormalRTT) != 3 {
		t.Errorf("Expected 3 normal RTTs (TOO_FAR is unmeasured), got %d", len(rep.NormalRTT))
	}
	if len(rep.AttackRTT) != 4 {
		t.Errorf("Expected 4 attack RTTs, got %d", len(rep.AttackRTT))
	}

	if rep.Reasons[types.ReasonResponseSlow] != 2 || rep.Reasons[types.ReasonVarianceHigh] != 2 || rep.Reasons[types.ReasonTooFar] != 1 {
		t.Errorf("Unexpected reasons %v", rep.Reasons)
	}

	if len(rep.ByKeyDistance) != 2 || rep.ByKeyDistance[0].KeyDistance != 5 || rep.ByKeyDistance[0].Detected != 1 {
		t.Errorf("Unexpected per-distance breakdown %+v", rep.ByKeyDistance)
	}
}

func TestBuild_Empty(t *testing.T) {
	rep := Build(nil)
	if rep.Total != 0 || rep.Efficacy() != 0 {
		t.Errorf("Expected empty report, got %+v", rep)
	}
}

func TestHistogram(t *testing.T) {
	bins := Histogram([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 10}, 5)
	if len(bins) != 5 {
		t.Fatalf("Expected 5 bins, got %d", len(bins))
	}

	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if total != 10 {
		t.Errorf("Expected histogram to count every value, got %d", total)
	}
	if bins[0].Low != 0 || bins[4].High != 10 {
		t.Errorf("Unexpected histogram range [%v, %v]", bins[0].Low, bins[4].High)
	}
	if bins[4].Count != 2 {
		t.Errorf("Expected the last bin to include the maximum, got %d", bins[4].Count)
	}
}

func TestHistogram_Degenerate(t *testing.T) {
	if Histogram(nil, 10) != nil {
		t.Error("Expected nil histogram for no values")
	}
	if Histogram([]float64{1}, 0) != nil {
		t.Error("Expected nil histogram for no bins")
	}

	bins := Histogram([]float64{7, 7, 7}, 3)
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if total != 3 {
		t.Errorf("Expected constant values to be counted, got %d", total)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, Build(sampleResults())); err != nil {
		t.Fatalf("WriteSummary() failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Total scenarios: 8",
		"Attacks attempted: 4",
		"Attacks detected: 3",
		"Detection efficacy: 75.00%",
		"Key distance: 5.0m",
		"Attacks detected: 1/2",
		"variance too high",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary should contain %q, got:\n%s", want, out)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteSummary_WriteError(t *testing.T) {
	if err := WriteSummary(failingWriter{}, Build(sampleResults())); err == nil {
		t.Error("Expected write error to be returned")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, Build(sampleResults()), 4); err != nil {
		t.Fatalf("WriteCSV() failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}

	series := make(map[string]int)
	for _, rec := range records[1:] {
		series[rec[0]]++
	}

	expected := map[string]int{
		"success_by_distance":  2,
		"detection_by_relay":   2,
		"rtt_histogram_normal": 4,
		"rtt_histogram_attack": 4,
		"failure_reasons":      3,
	}
	for name, count := range expected {
		if series[name] != count {
			t.Errorf("Expected %d rows for %s, got %d", count, name, series[name])
		}
	}
}

func TestSummarize(t *testing.T) {
	summaries := Summarize("run-1", sampleResults())

	if len(summaries) != 4 {
		t.Fatalf("Expected 4 scenario summaries, got %d", len(summaries))
	}
	if summaries[0].ScenarioKey != "key=1.00" || summaries[0].Trials != 3 || summaries[0].Success != 2 {
		t.Errorf("Unexpected first summary %+v", summaries[0])
	}
	if summaries[1].TooFar != 1 || summaries[1].Measured != 0 {
		t.Errorf("Unexpected TOO_FAR summary %+v", summaries[1])
	}
	if summaries[3].RelayDetected != 2 || summaries[3].MeanRoundTrip != 305 {
		t.Errorf("Unexpected attack summary %+v", summaries[3])
	}
	for _, s := range summaries {
		if s.RunID != "run-1" {
			t.Errorf("Expected run ID run-1, got %s", s.RunID)
		}
	}
}

func TestFormatSummaryLine(t *testing.T) {
	s := Summarize("run-1", sampleResults())[2]
	line := FormatSummaryLine(s)

	for _, want := range []string{"run=run-1", "key=5.00,relay=10.00", "trials=2", "detected=50.00%"} {
		if !strings.Contains(line, want) {
			t.Errorf("Line should contain %q, got %s", want, line)
		}
	}
}
