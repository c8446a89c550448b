// Package schema loads and validates test definition files: strict YAML
// decoding, JSON Schema validation of the document shape, and domain rules
// over step names, channels and expressions.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// ValidationError is a single finding with location context.
type ValidationError struct {
	Phase   string `json:"phase"` // structural, semantic, domain
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// LoadFile decodes a test definition file with strict field checking.
func LoadFile(path string) (*types.Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test file: %w", err)
	}
	return Load(data)
}

// Load decodes test definition YAML with strict field checking.
func Load(data []byte) (*types.Test, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var t types.Test
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode test: %w", err)
	}
	return &t, nil
}

// ValidateFile runs the full pipeline on a test definition file.
func ValidateFile(path string) (*types.Test, []*ValidationError) {
	t, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{Phase: "structural", Message: err.Error()}}
	}
	return t, Validate(t)
}

// Validate checks a decoded test against the JSON Schema and the domain
// rules.
func Validate(t *types.Test) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(t)...)
	all = append(all, validateDomain(t)...)
	return all
}

// validateSemantic validates the document shape against the generated JSON
// Schema.
func validateSemantic(t *types.Test) []*ValidationError {
	fail := func(format string, args ...any) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf(format, args...)}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fail("generate schema: %v", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fail("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("patui-test.json", schemaDoc); err != nil {
		return fail("add schema resource: %v", err)
	}
	sch, err := c.Compile("patui-test.json")
	if err != nil {
		return fail("compile schema: %v", err)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fail("marshal test: %v", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail("remarshal test: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		return fail("%v", err)
	}
	return nil
}

// validateDomain enforces the rules the schema cannot express: unique step
// names, exactly one detail block, parseable expressions, and every
// steps.X.Y reference naming an existing step that publishes channel Y.
func validateDomain(t *types.Test) []*ValidationError {
	var all []*ValidationError
	report := func(path, format string, args ...any) {
		all = append(all, &ValidationError{Phase: "domain", Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if err := t.Validate(); err != nil {
		report("", "%v", err)
		return all
	}

	channels := map[string][]string{}
	remote := map[string]bool{}
	for i := range t.Steps {
		channels[t.Steps[i].Name] = t.Steps[i].Channels()
		// Plugin channels live on the remote side; their names cannot be
		// checked statically.
		remote[t.Steps[i].Name] = t.Steps[i].Plugin != nil
	}

	for i := range t.Steps {
		step := &t.Steps[i]
		for field, src := range stepExpressions(step) {
			path := fmt.Sprintf("steps[%d].%s", i, field)
			if src == "" {
				continue
			}
			e, err := expr.Parse(src)
			if err != nil {
				report(path, "%v", err)
				continue
			}
			for _, key := range expr.SubscriptionKeys(e) {
				target, channel, _ := key.StepAndChannel()
				published, ok := channels[target]
				if !ok {
					report(path, "refers to unknown step %q", target)
					continue
				}
				if !remote[target] && !slices.Contains(published, channel) {
					report(path, "step %q publishes no channel %q", target, channel)
				}
			}
		}
	}
	return all
}

// stepExpressions names every expression field of a step for diagnostics.
func stepExpressions(step *types.Step) map[string]string {
	exprs := map[string]string{}
	if step.When != "" {
		exprs["when"] = step.When
	}
	switch {
	case step.Sender != nil:
		exprs["sender.expr"] = step.Sender.Expr
	case step.Read != nil:
		exprs["read.in"] = step.Read.In
	case step.TransformStream != nil:
		exprs["transform_stream.in"] = step.TransformStream.In
	case step.Process != nil:
		if step.Process.In != "" {
			exprs["process.in"] = step.Process.In
		}
	case step.Plugin != nil:
		for name, src := range step.Plugin.In {
			exprs["plugin.in."+name] = src
		}
	case step.Assertion != nil:
		exprs["assertion.expr"] = step.Assertion.Expr
	}
	return exprs
}

// GenerateJSONSchema reflects the JSON Schema for test definition files from
// the Go types; scripts/gen-schema.go writes it to schemas/.
func GenerateJSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: false,
	}
	s := r.Reflect(&types.Test{})
	s.ID = "patui-test.json"
	s.Title = "patui test definition"
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}
