package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/laurels/internal/engine"
)

// Scenario defines a conformance scenario: a catalog, a user directory, and
// a sequence of event steps whose outcomes and final state are asserted.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is a CUE catalog path, relative to the scenario file.
	// Empty selects the embedded default catalog.
	Catalog string `yaml:"catalog,omitempty"`

	// Users seeds the directory.
	Users []engine.User `yaml:"users"`

	// Steps run in order. Each step is either one event or a burst of
	// concurrent registrations.
	Steps []Step `yaml:"steps"`

	// Assertions validate the outcomes and the final store state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one of Event and
// ConcurrentRegistrations is set.
type Step struct {
	// Event is dispatched as-is. A missing occurred_at defaults to the
	// harness epoch.
	Event *engine.Event `yaml:"event,omitempty"`

	// ConcurrentRegistrations dispatches registration events for Count new
	// users at once.
	ConcurrentRegistrations *ConcurrentRegistrations `yaml:"concurrent_registrations,omitempty"`

	// Expect checks the event's outcome. Only valid with Event.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ConcurrentRegistrations creates Count users named "<prefix>-001",
// "<prefix>-002", ... and registers them all concurrently.
type ConcurrentRegistrations struct {
	Prefix   string `yaml:"prefix"`
	Count    int    `yaml:"count"`
	Category string `yaml:"category"`
}

// ExpectClause specifies the expected outcome of one event.
type ExpectClause struct {
	// State is the expected terminal state (committed, rejected, ...).
	State string `yaml:"state"`

	// Granted is the exact list of newly granted badges, in grant order.
	// Nil skips the check; an empty list expects no grants.
	Granted []string `yaml:"granted,omitempty"`

	// Rejection is the expected reject code for rejected events.
	Rejection string `yaml:"rejection,omitempty"`

	// Allocation checks the event's allocation in one pool.
	Allocation *AllocationExpect `yaml:"allocation,omitempty"`
}

// AllocationExpect specifies an expected allocation.
type AllocationExpect struct {
	Pool   string `yaml:"pool"`
	Status string `yaml:"status"`
	Rank   int64  `yaml:"rank,omitempty"`
	Badge  string `yaml:"badge,omitempty"`
}

// Assertion validates outcomes or final state.
type Assertion struct {
	// Type selects the assertion:
	//   - "outcome_count": events ending in State, over the whole run
	//   - "allocation_count": allocations in Pool with Status
	//   - "award_count": awards of Badge, or of every badge drawing from Family
	//   - "ranks_contiguous": Pool holds exactly ranks 1..Count, one per user
	//   - "progress": User's Metric equals Value
	//   - "user_badges": User holds exactly Badges, in grant order
	//   - "pool_status": Pool has Issued ranks and the given Exhausted flag
	Type string `yaml:"type"`

	State     string   `yaml:"state,omitempty"`
	Pool      string   `yaml:"pool,omitempty"`
	Status    string   `yaml:"status,omitempty"`
	Badge     string   `yaml:"badge,omitempty"`
	Family    string   `yaml:"family,omitempty"`
	User      string   `yaml:"user,omitempty"`
	Metric    string   `yaml:"metric,omitempty"`
	Badges    []string `yaml:"badges,omitempty"`
	Count     int64    `yaml:"count,omitempty"`
	Value     int64    `yaml:"value,omitempty"`
	Issued    int64    `yaml:"issued,omitempty"`
	Exhausted *bool    `yaml:"exhausted,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcomeCount    = "outcome_count"
	AssertAllocationCount = "allocation_count"
	AssertAwardCount      = "award_count"
	AssertRanksContiguous = "ranks_contiguous"
	AssertProgress        = "progress"
	AssertUserBadges      = "user_badges"
	AssertPoolStatus      = "pool_status"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// errors, and a relative catalog path is resolved against the scenario's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Catalog != "" {
		if _, err := os.Stat(s.Catalog); err != nil {
			return fmt.Errorf("catalog file not found: %s", s.Catalog)
		}
	}

	for i, step := range s.Steps {
		switch {
		case step.Event != nil && step.ConcurrentRegistrations != nil:
			return fmt.Errorf("steps[%d]: event and concurrent_registrations are exclusive", i)
		case step.Event == nil && step.ConcurrentRegistrations == nil:
			return fmt.Errorf("steps[%d]: event or concurrent_registrations is required", i)
		case step.ConcurrentRegistrations != nil:
			cr := step.ConcurrentRegistrations
			if cr.Prefix == "" || cr.Count < 1 || cr.Category == "" {
				return fmt.Errorf("steps[%d].concurrent_registrations: prefix, category, and a positive count are required", i)
			}
			if step.Expect != nil {
				return fmt.Errorf("steps[%d]: expect is only valid for a single event", i)
			}
		}
		if step.Expect != nil && step.Expect.State == "" {
			return fmt.Errorf("steps[%d].expect: state is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion checks the fields each assertion type needs.
func validateAssertion(index int, a *Assertion) error {
	missing := func(field string) error {
		return fmt.Errorf("assertions[%d]: %s is required for %s", index, field, a.Type)
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertOutcomeCount:
		if a.State == "" {
			return missing("state")
		}
	case AssertAllocationCount:
		if a.Pool == "" {
			return missing("pool")
		}
		if a.Status == "" {
			return missing("status")
		}
	case AssertAwardCount:
		if (a.Badge == "") == (a.Family == "") {
			return fmt.Errorf("assertions[%d]: exactly one of badge and family is required for %s", index, a.Type)
		}
	case AssertRanksContiguous:
		if a.Pool == "" {
			return missing("pool")
		}
	case AssertProgress:
		if a.User == "" {
			return missing("user")
		}
		if a.Metric == "" {
			return missing("metric")
		}
	case AssertUserBadges:
		if a.User == "" {
			return missing("user")
		}
	case AssertPoolStatus:
		if a.Pool == "" {
			return missing("pool")
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
