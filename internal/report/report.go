// Package report aggregates trial results into the rates, distributions and
// summaries the simulation presents.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/saviobatista/pkes-sim/internal/types"
)

// RatePoint is a percentage observed at one swept distance
type RatePoint struct {
	Distance float64
	Trials   int
	Hits     int
	Rate     float64
}

// DistanceBreakdown is the attack detection outcome at one key distance
type DistanceBreakdown struct {
	KeyDistance float64
	Attacks     int
	Detected    int
	Efficacy    float64
}

// Report is the aggregate view of a set of trial results
type Report struct {
	Total            int
	Attacks          int
	Detected         int
	SuccessByKey     []RatePoint
	DetectionByRelay []RatePoint
	NormalRTT        []float64
	AttackRTT        []float64
	Reasons          map[string]int
	ByKeyDistance    []DistanceBreakdown
}

// Efficacy returns the share of attacks detected, in percent
func (r *Report) Efficacy() float64 {
	if r.Attacks == 0 {
		return 0
	}
	return float64(r.Detected) / float64(r.Attacks) * 100
}

type tally struct {
	trials int
	hits   int
}

// Build aggregates results. Success rates are computed over unattacked
// trials per key distance, detection rates over attacked trials per relay length.
func Build(results []types.TrialResult) *Report {
	rep := &Report{
		Total:   len(results),
		Reasons: make(map[string]int),
	}

	success := make(map[float64]*tally)
	detection := make(map[float64]*tally)
	byKey := make(map[float64]*tally)

	for i := range results {
		r := &results[i]
		detected := r.Result == types.ResultRelayDetected

		if r.Scenario.HasRelay() {
			rep.Attacks++
			if detected {
				rep.Detected++
			}
			bump(detection, *r.Scenario.RelayDistance, detected)
			bump(byKey, r.Scenario.KeyDistance, detected)
			if r.Debug.Measured() {
				rep.AttackRTT = append(rep.AttackRTT, r.Debug.RoundTripTime)
			}
		} else {
			bump(success, r.Scenario.KeyDistance, r.Result == types.ResultSuccess)
			if r.Debug.Measured() {
				rep.NormalRTT = append(rep.NormalRTT, r.Debug.RoundTripTime)
			}
		}

		if r.Result != types.ResultSuccess && r.Debug.Reason != "" {
			rep.Reasons[r.Debug.Reason]++
		}
	}

	rep.SuccessByKey = ratePoints(success)
	rep.DetectionByRelay = ratePoints(detection)
	for _, p := range ratePoints(byKey) {
		rep.ByKeyDistance = append(rep.ByKeyDistance, DistanceBreakdown{
			KeyDistance: p.Distance,
			Attacks:     p.Trials,
			Detected:    p.Hits,
			Efficacy:    p.Rate,
		})
	}
	return rep
}

func bump(m map[float64]*tally, key float64, hit bool) {
	t, ok := m[key]
	if !ok {
		t = &tally{}
		m[key] = t
	}
	t.trials++
	if hit {
		t.hits++
	}
}

func ratePoints(m map[float64]*tally) []RatePoint {
	points := make([]RatePoint, 0, len(m))
	for d, t := range m {
		points = append(points, RatePoint{
			Distance: d,
			Trials:   t.trials,
			Hits:     t.hits,
			Rate:     float64(t.hits) / float64(t.trials) * 100,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Distance < points[j].Distance })
	return points
}

// Bin is one histogram bucket covering [Low, High)
type Bin struct {
	Low   float64
	High  float64
	Count int
}

// Histogram splits values into n equal-width bins spanning their range.
// The last bin is closed so the maximum is counted.
func Histogram(values []float64, n int) []Bin {
	if len(values) == 0 || n <= 0 {
		return nil
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	width := (hi - lo) / float64(n)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Low = lo + float64(i)*width
		bins[i].High = lo + float64(i+1)*width
	}
	bins[n-1].High = hi

	for _, v := range values {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		bins[i].Count++
	}
	return bins
}

// WriteSummary prints the human-readable simulation summary
func WriteSummary(w io.Writer, rep *Report) error {
	ew := &errWriter{w: w}

	ew.printf("\n=== Simulation Results ===\n")
	ew.printf("Total scenarios: %d\n", rep.Total)
	ew.printf("Attacks attempted: %d\n", rep.Attacks)
	ew.printf("Attacks detected: %d\n", rep.Detected)
	ew.printf("Detection efficacy: %.2f%%\n", rep.Efficacy())

	for _, b := range rep.ByKeyDistance {
		ew.printf("\nKey distance: %.1fm\n", b.KeyDistance)
		ew.printf("Attacks detected: %d/%d\n", b.Detected, b.Attacks)
		ew.printf("Efficacy: %.2f%%\n", b.Efficacy)
	}

	if len(rep.SuccessByKey) > 0 {
		ew.printf("\n--- Honest authentication vs key distance ---\n")
		for _, p := range rep.SuccessByKey {
			ew.printf("%6.2fm  success %6.2f%%  (%d/%d)\n", p.Distance, p.Rate, p.Hits, p.Trials)
		}
	}

	if len(rep.Reasons) > 0 {
		ew.printf("\n--- Rejection reasons ---\n")
		for _, reason := range sortedKeys(rep.Reasons) {
			ew.printf("%-24s %d\n", reason, rep.Reasons[reason])
		}
	}

	return ew.err
}

// WriteCSV writes the chart series as "series,x,y" rows
func WriteCSV(w io.Writer, rep *Report, bins int) error {
	cw := csv.NewWriter(w)
	row := func(series string, x string, y float64) error {
		return cw.Write([]string{series, x, formatFloat(y)})
	}

	if err := cw.Write([]string{"series", "x", "y"}); err != nil {
		return err
	}
	for _, p := range rep.SuccessByKey {
		if err := row("success_by_distance", formatFloat(p.Distance), p.Rate); err != nil {
			return err
		}
	}
	for _, p := range rep.DetectionByRelay {
		if err := row("detection_by_relay", formatFloat(p.Distance), p.Rate); err != nil {
			return err
		}
	}
	for _, b := range Histogram(rep.NormalRTT, bins) {
		if err := row("rtt_histogram_normal", formatFloat(b.Low), float64(b.Count)); err != nil {
			return err
		}
	}
	for _, b := range Histogram(rep.AttackRTT, bins) {
		if err := row("rtt_histogram_attack", formatFloat(b.Low), float64(b.Count)); err != nil {
			return err
		}
	}
	for _, reason := range sortedKeys(rep.Reasons) {
		if err := row("failure_reasons", reason, float64(rep.Reasons[reason])); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Summarize groups results by scenario into persistable summaries, in first-seen order
func Summarize(runID string, results []types.TrialResult) []*types.ScenarioSummary {
	index := make(map[string]*types.ScenarioSummary)
	var out []*types.ScenarioSummary
	for i := range results {
		r := &results[i]
		key := r.Scenario.Key()
		s, ok := index[key]
		if !ok {
			s = types.NewScenarioSummary(runID, r.Scenario)
			index[key] = s
			out = append(out, s)
		}
		s.Add(r)
	}
	return out
}

// FormatSummaryLine renders one scenario summary as a single report line
func FormatSummaryLine(s *types.ScenarioSummary) string {
	return fmt.Sprintf("%s run=%s %s trials=%d success=%.2f%% detected=%.2f%% too_far=%d errors=%d mean_rtt=%.3fns mean_stddev=%.3fns",
		s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"), s.RunID, s.ScenarioKey, s.Trials,
		s.SuccessRate(), s.DetectionRate(), s.TooFar, s.Errors, s.MeanRoundTrip, s.MeanVariance)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// errWriter keeps the first write error so callers can print freely
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
