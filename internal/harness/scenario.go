package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of transactions, queries and consistency checks
// run against a fresh store.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	Steps []Step `yaml:"steps"`
}

// Step is exactly one of Transact, Query or Check, with optional
// expectations.
type Step struct {
	Transact *TxDoc    `yaml:"transact,omitempty"`
	Query    *QueryDoc `yaml:"query,omitempty"`
	Check    *CheckDoc `yaml:"check,omitempty"`

	// As names the transaction of a Transact step for later as_of fields.
	As string `yaml:"as,omitempty"`

	// Expect lists the bindings a query must return, in any order. Values
	// use the rendering of datom values ("X" for strings, #id for refs).
	Expect []map[string]string `yaml:"expect,omitempty"`

	// ExpectCount is the number of bindings a query must return.
	ExpectCount *int `yaml:"expect_count,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// QueryDoc is a query written in YAML. Pattern terms use the syntax of
// query.ParseTerm; "$label" names an entity created by an earlier step.
type QueryDoc struct {
	Find     []string          `yaml:"find,omitempty"`
	Where    [][]string        `yaml:"where"`
	Prefixes map[string]string `yaml:"prefixes,omitempty"`
	AsOf     string            `yaml:"as_of,omitempty"`
}

// CheckDoc requests an index consistency check.
type CheckDoc struct {
	AsOf string `yaml:"as_of,omitempty"`
}

func (s Step) kind() string {
	switch {
	case s.Transact != nil:
		return "transact"
	case s.Query != nil:
		return "query"
	case s.Check != nil:
		return "check"
	}
	return ""
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return sc, nil
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario's structure.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return errors.New("scenario: name is required")
	}
	if len(sc.Steps) == 0 {
		return errors.New("scenario: at least one step is required")
	}
	names := make(map[string]bool)
	for i, s := range sc.Steps {
		n := 0
		for _, set := range []bool{s.Transact != nil, s.Query != nil, s.Check != nil} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("scenario: step %d must have exactly one of transact, query, check", i)
		}
		if s.As != "" {
			if s.Transact == nil {
				return fmt.Errorf("scenario: step %d: as is only valid on transact", i)
			}
			if names[s.As] {
				return fmt.Errorf("scenario: step %d: duplicate name %q", i, s.As)
			}
			names[s.As] = true
		}
		if (s.Expect != nil || s.ExpectCount != nil) && s.Query == nil {
			return fmt.Errorf("scenario: step %d: expect is only valid on query", i)
		}
	}
	return nil
}

// LoadScenarios reads every *.yaml file in dir, in name order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	var out []*Scenario
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}
