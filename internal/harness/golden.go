package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/laurels/internal/canon"
)

// TraceSnapshot captures the trace of one scenario run.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// canonicalMap converts the snapshot for canon.Marshal. Empty fields are
// omitted so the golden files only carry what a step produced.
func (s *TraceSnapshot) canonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":  ev.Seq,
			"type": ev.Type,
		}
		if ev.EventID != "" {
			m["event_id"] = ev.EventID
		}
		if ev.UserID != "" {
			m["user_id"] = ev.UserID
		}
		if ev.State != "" {
			m["state"] = ev.State
		}
		if ev.Rejection != "" {
			m["rejection"] = ev.Rejection
		}
		if len(ev.Allocations) > 0 {
			m["allocations"] = ev.Allocations
		}
		if len(ev.Granted) > 0 {
			m["granted"] = ev.Granted
		}
		if ev.Count > 0 {
			m["count"] = ev.Count
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// The returned result carries any expect or assertion failures; only the
// trace is compared.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	traceJSON, err := canon.Marshal(snapshot.canonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
