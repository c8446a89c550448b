package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Test is a stored test definition: metadata plus the ordered step list.
// The catalog persists steps as a YAML blob; EncodeSteps and DecodeSteps are
// that codec.
type Test struct {
	ID           int64  `yaml:"id,omitempty"             json:"id,omitempty"`
	Name         string `yaml:"name"                     json:"name" jsonschema:"required"`
	Description  string `yaml:"description,omitempty"    json:"description,omitempty"`
	CreationDate string `yaml:"creation_date,omitempty"  json:"creation_date,omitempty"`
	LastUpdated  string `yaml:"last_updated,omitempty"   json:"last_updated,omitempty"`
	LastUsedDate string `yaml:"last_used_date,omitempty" json:"last_used_date,omitempty"`
	TimesUsed    uint32 `yaml:"times_used,omitempty"     json:"times_used,omitempty"`
	Steps        []Step `yaml:"steps"                    json:"steps"`
}

// Validate checks step well-formedness and name uniqueness.
func (t *Test) Validate() error {
	if t.Name == "" {
		return NewError(ErrConfiguration, "test has no name")
	}
	seen := map[string]bool{}
	for i := range t.Steps {
		s := &t.Steps[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return NewError(ErrConfiguration, "duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
	}
	for i := range t.Steps {
		for _, dep := range t.Steps[i].DependsOn {
			if !seen[dep] {
				return NewError(ErrConfiguration, "step %q depends on unknown step %q", t.Steps[i].Name, dep)
			}
		}
	}
	return nil
}

// EncodeSteps serializes the step list for the catalog's blob column.
func EncodeSteps(steps []Step) ([]byte, error) {
	blob, err := yaml.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}
	return blob, nil
}

// DecodeSteps deserializes a catalog blob back into a step list.
func DecodeSteps(blob []byte) ([]Step, error) {
	var steps []Step
	if err := yaml.Unmarshal(blob, &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return steps, nil
}

// DisplayYAML renders the step list as the YAML shown in `describe` and the
// TUI detail pane.
func (t *Test) DisplayYAML() (string, error) {
	out, err := yaml.Marshal(t.Steps)
	if err != nil {
		return "", fmt.Errorf("render steps: %w", err)
	}
	return string(out), nil
}
