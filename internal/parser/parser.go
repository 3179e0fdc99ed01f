package parser

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/saviobatista/pkes-sim/internal/types"
)

// Scenario separators
const (
	// FieldSeparator splits key distance from relay distance: "5:10"
	FieldSeparator = ":"
	// ListSeparator splits scenarios in a single argument: "0.5,1,5:10"
	ListSeparator = ","
)

// ParseScenario parses "KEY" or "KEY:RELAY" into a scenario.
// The relay part, when present, makes the scenario an attack.
func ParseScenario(raw string) (types.Scenario, error) {
	fields := strings.Split(strings.TrimSpace(raw), FieldSeparator)
	if len(fields) == 0 || len(fields) > 2 {
		return types.Scenario{}, fmt.Errorf("invalid scenario format %q: expected KEY or KEY:RELAY", raw)
	}

	keyDistance, err := parseDistance(fields[0])
	if err != nil {
		return types.Scenario{}, fmt.Errorf("invalid key distance: %w", err)
	}

	if len(fields) == 1 {
		return types.NewScenario(keyDistance), nil
	}

	relayDistance, err := parseDistance(fields[1])
	if err != nil {
		return types.Scenario{}, fmt.Errorf("invalid relay distance: %w", err)
	}
	return types.NewAttackScenario(keyDistance, relayDistance), nil
}

// ParseScenarioList parses a comma separated list of scenarios
func ParseScenarioList(raw string) ([]types.Scenario, error) {
	var scenarios []types.Scenario
	for _, item := range strings.Split(raw, ListSeparator) {
		if strings.TrimSpace(item) == "" {
			continue
		}
		sc, err := ParseScenario(item)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// ReadScenarios parses one scenario per line. Blank lines and lines starting
// with '#' are skipped.
func ReadScenarios(r io.Reader) ([]types.Scenario, error) {
	var scenarios []types.Scenario
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		sc, err := ParseScenario(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		scenarios = append(scenarios, sc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scenarios: %w", err)
	}
	return scenarios, nil
}

// SplitScenarios separates honest key distances from attack scenarios, as a plan stores them
func SplitScenarios(scenarios []types.Scenario) ([]float64, []types.Scenario) {
	var normal []float64
	var attacks []types.Scenario
	for _, sc := range scenarios {
		if sc.HasRelay() {
			attacks = append(attacks, sc)
		} else {
			normal = append(normal, sc.KeyDistance)
		}
	}
	return normal, attacks
}

func parseDistance(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("distance must be finite, got %s", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("distance must not be negative, got %g", value)
	}
	return value, nil
}
