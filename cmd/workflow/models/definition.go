package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// WorkflowDefinition is the declarative workflow submitted by a caller
type WorkflowDefinition struct {
	Name     string                     `json:"name,omitempty"`
	Tasks    map[string]*TaskDefinition `json:"tasks"`
	Links    []*LinkDefinition          `json:"links"`
	Inputs   map[string]json.RawMessage `json:"inputs"`
	Webhooks map[string]string          `json:"webhooks,omitempty"`
}

// TaskDefinition declares one task with its ordered methods
type TaskDefinition struct {
	Methods    []*MethodDefinition `json:"methods"`
	ParallelBy string              `json:"parallelBy,omitempty"`
	Webhooks   map[string]string   `json:"webhooks,omitempty"`
}

// MethodDefinition declares one method of a task
type MethodDefinition struct {
	Name       string            `json:"name"`
	Service    string            `json:"service"`
	Parameters *MethodParameters `json:"parameters,omitempty"`
	Webhooks   map[string]string `json:"webhooks,omitempty"`
}

// MethodParameters carries service-specific settings: a command line for
// shell commands, a nested subgraph for dag and workflow methods.
type MethodParameters struct {
	CommandLine []string                   `json:"commandLine,omitempty"`
	Tasks       map[string]*TaskDefinition `json:"tasks,omitempty"`
	Links       []*LinkDefinition          `json:"links,omitempty"`
	Webhooks    map[string]string          `json:"webhooks,omitempty"`
}

// LinkDefinition declares a data-flow edge. DataFlow maps a source property
// onto one or more destination properties.
type LinkDefinition struct {
	Source      string             `json:"source"`
	Destination string             `json:"destination"`
	DataFlow    map[string]Targets `json:"dataFlow"`
}

// Targets is the destination side of a data flow entry: either a single
// property name or a list of them.
type Targets []string

// UnmarshalJSON accepts both "prop" and ["a", "b"]
func (t *Targets) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = Targets{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("data flow target must be a string or list of strings")
	}
	*t = Targets(many)
	return nil
}

// MarshalJSON emits the single-string form when possible
func (t Targets) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// RequiredInputs returns the sorted set of input names demanded by links
// whose source is the input connector.
func (d *WorkflowDefinition) RequiredInputs() []string {
	required := make(map[string]struct{})
	for _, link := range d.Links {
		if link.Source == InputConnectorName {
			for name := range link.DataFlow {
				required[name] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateInputs checks that the submitted inputs cover every required key
func (d *WorkflowDefinition) ValidateInputs() error {
	var missing []string
	for _, name := range d.RequiredInputs() {
		if _, ok := d.Inputs[name]; !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return &MissingInputsError{Missing: missing}
	}
	return nil
}

// ValidateUniqueLinks rejects two data flow entries landing on the same
// (destination, property) pair.
func ValidateUniqueLinks(links []*LinkDefinition) error {
	type target struct {
		destination string
		property    string
	}
	seen := make(map[target]struct{})

	for _, link := range links {
		for _, targets := range link.DataFlow {
			for _, property := range targets {
				key := target{destination: link.Destination, property: property}
				if _, dup := seen[key]; dup {
					return &InvalidLinksError{
						Destination: link.Destination,
						Property:    property,
					}
				}
				seen[key] = struct{}{}
			}
		}
	}
	return nil
}
