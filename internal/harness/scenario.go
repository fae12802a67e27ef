package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stockline/internal/record"
)

// Scenario is a sequence of writes plus assertions on the outcome.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Setup steps establish initial state and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the sequence under test.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one write.
type Step struct {
	Op     record.OpKind  `yaml:"op"`
	Table  string         `yaml:"table"`
	Fields map[string]any `yaml:"fields,omitempty"`

	// Where selects the rows of an update or delete; all fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Record converts the step to a store operation.
func (s Step) Record() record.Op {
	op := record.Op{Kind: s.Op, Table: s.Table}
	if s.Fields != nil {
		op.Fields = record.NewRow(s.Fields)
	}
	if s.Where != nil {
		op.Where = record.Match(s.Where)
	}
	return op
}

// Expect describes the expected outcome of a flow step.
type Expect struct {
	// Error is the expected error code, e.g. CONSTRAINT_VIOLATION.
	Error string `yaml:"error,omitempty"`

	// RowsAffected, when set, must equal the update or delete count.
	RowsAffected *int64 `yaml:"rows_affected,omitempty"`

	// ID, when set, must equal the inserted identifier.
	ID any `yaml:"id,omitempty"`
}

// Assertion validates the final state or the rule trace.
type Assertion struct {
	// Type is one of final_state, row_count, rule_fired, rule_order, rule_count.
	Type string `yaml:"type"`

	// Table, Where and Expect are used by final_state and row_count.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Rule is used by rule_fired and rule_count; Rules by rule_order.
	Rule  string   `yaml:"rule,omitempty"`
	Rules []string `yaml:"rules,omitempty"`

	// Count is used by row_count and rule_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertFinalState = "final_state"
	AssertRowCount   = "row_count"
	AssertRuleFired  = "rule_fired"
	AssertRuleOrder  = "rule_order"
	AssertRuleCount  = "rule_count"
)

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected so that typos such as "assertion:" fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Flow) == 0 {
		return errors.New("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Table == "" {
		return errors.New("table is required")
	}
	switch step.Op {
	case record.OpInsert:
		if len(step.Fields) == 0 {
			return errors.New("fields are required for insert")
		}
	case record.OpUpdate:
		if len(step.Fields) == 0 {
			return errors.New("fields are required for update")
		}
		if len(step.Where) == 0 {
			return errors.New("where is required for update")
		}
	case record.OpDelete:
		if len(step.Where) == 0 {
			return errors.New("where is required for delete")
		}
	case "":
		return errors.New("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRuleFired:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for rule_fired", index)
		}
	case AssertRuleOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for rule_order", index)
		}
	case AssertRuleCount:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for rule_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for rule_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
