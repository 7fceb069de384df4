package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relstore/internal/schema"
)

// OwnerSpec describes the scenario's owning entity row.
type OwnerSpec struct {
	Table     string   `yaml:"table"`
	IDColumns []string `yaml:"id_columns"`
	ID        any      `yaml:"id"`
}

// Step is one flow operation.
type Step struct {
	Op string `yaml:"op"`

	// Element, Key and Value carry scalar (or serialized-map) operands.
	Element any `yaml:"element,omitempty"`
	Key     any `yaml:"key,omitempty"`
	Value   any `yaml:"value,omitempty"`

	// Index is the position operand of get_at/set_at/remove_at.
	Index int `yaml:"index,omitempty"`

	// Elements is the operand of update and array set, and Entries of
	// put_all.
	Elements []any       `yaml:"elements,omitempty"`
	Entries  []StepEntry `yaml:"entries,omitempty"`
}

// StepEntry is one key/value pair of a put_all step.
type StepEntry struct {
	Key   any `yaml:"key"`
	Value any `yaml:"value"`
}

// Scenario is one conformance scenario.
type Scenario struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	Schema      []string             `yaml:"schema"`
	Owner       OwnerSpec            `yaml:"owner"`
	Mapping     schema.MappingConfig `yaml:"mapping"`
	Flow        []Step               `yaml:"flow"`
}

// LoadScenario reads and decodes one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s has no name", path)
	}
	if len(sc.Schema) == 0 {
		return nil, fmt.Errorf("scenario %s has no schema", path)
	}
	if sc.Owner.Table == "" || len(sc.Owner.IDColumns) == 0 {
		return nil, fmt.Errorf("scenario %s has no owner spec", path)
	}
	return &sc, nil
}

// LoadScenarios loads every *.yaml scenario under a directory, sorted by
// file name for stable test ordering.
func LoadScenarios(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	scenarios := make([]*Scenario, 0, len(matches))
	for _, path := range matches {
		sc, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}
