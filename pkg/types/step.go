package types

import "fmt"

// TransformFlavour selects the decoder applied by a transform_stream step.
type TransformFlavour string

const (
	FlavourUtf8      TransformFlavour = "utf8"
	FlavourUtf8Lines TransformFlavour = "utf8_lines"
	FlavourJson      TransformFlavour = "json"
	FlavourYaml      TransformFlavour = "yaml"
	FlavourToml      TransformFlavour = "toml"
)

// SenderStep emits the evaluated literal of Expr on channel "out". A list
// literal is emitted element by element.
type SenderStep struct {
	Expr string `yaml:"expr" json:"expr" jsonschema:"required"`
}

// ReadStep forwards an upstream channel or streams a file, named by In.
type ReadStep struct {
	In string `yaml:"in" json:"in" jsonschema:"required"`
}

// TransformStreamStep decodes each datum of the In channel per Flavour.
type TransformStreamStep struct {
	In      string           `yaml:"in"      json:"in"      jsonschema:"required"`
	Flavour TransformFlavour `yaml:"flavour" json:"flavour" jsonschema:"required,enum=utf8,enum=utf8_lines,enum=json,enum=yaml,enum=toml"`
}

// TtySize is the requested PTY geometry for a process step.
type TtySize struct {
	Rows uint16 `yaml:"rows" json:"rows" jsonschema:"required"`
	Cols uint16 `yaml:"cols" json:"cols" jsonschema:"required"`
}

// ProcessStep spawns a subprocess, publishing stdout/stderr and accepting
// stdin. Tty switches to PTY mode; In optionally names an upstream byte
// stream copied to the child's stdin.
type ProcessStep struct {
	Command string   `yaml:"command"        json:"command" jsonschema:"required"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Tty     *TtySize `yaml:"tty,omitempty"  json:"tty,omitempty"`
	Wait    bool     `yaml:"wait,omitempty" json:"wait,omitempty"`
	Cwd     string   `yaml:"cwd,omitempty"  json:"cwd,omitempty"`
	In      string   `yaml:"in,omitempty"   json:"in,omitempty"`
}

// PluginStep spawns the plugin binary at Path and drives it over gRPC.
// Config and In hold named expressions passed through opaquely.
type PluginStep struct {
	Path   string            `yaml:"path"             json:"path" jsonschema:"required"`
	Config map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
	In     map[string]string `yaml:"in,omitempty"     json:"in,omitempty"`
}

// AssertionStep evaluates a boolean expression over term subscriptions.
type AssertionStep struct {
	Expr string `yaml:"expr" json:"expr" jsonschema:"required"`
}

// Step is one named node of a test's dataflow graph. Exactly one of the
// detail fields must be set.
type Step struct {
	Name      string   `yaml:"name"                 json:"name" jsonschema:"required"`
	When      string   `yaml:"when,omitempty"       json:"when,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	Sender          *SenderStep          `yaml:"sender,omitempty"           json:"sender,omitempty"`
	Read            *ReadStep            `yaml:"read,omitempty"             json:"read,omitempty"`
	TransformStream *TransformStreamStep `yaml:"transform_stream,omitempty" json:"transform_stream,omitempty"`
	Process         *ProcessStep         `yaml:"process,omitempty"          json:"process,omitempty"`
	Plugin          *PluginStep          `yaml:"plugin,omitempty"           json:"plugin,omitempty"`
	Assertion       *AssertionStep       `yaml:"assertion,omitempty"        json:"assertion,omitempty"`
}

// KindName returns the step's detail kind as its snake_case YAML key.
func (s *Step) KindName() string {
	switch {
	case s.Sender != nil:
		return "sender"
	case s.Read != nil:
		return "read"
	case s.TransformStream != nil:
		return "transform_stream"
	case s.Process != nil:
		return "process"
	case s.Plugin != nil:
		return "plugin"
	case s.Assertion != nil:
		return "assertion"
	}
	return ""
}

// Validate checks that exactly one detail variant is present and that the
// step is nameable.
func (s *Step) Validate() error {
	if s.Name == "" {
		return NewError(ErrConfiguration, "step has no name")
	}
	n := 0
	for _, set := range []bool{
		s.Sender != nil, s.Read != nil, s.TransformStream != nil,
		s.Process != nil, s.Plugin != nil, s.Assertion != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return NewError(ErrConfiguration, "step %q must have exactly one detail block, has %d", s.Name, n)
	}
	return nil
}

// Channels lists the output channels the step publishes, including the
// exit-code action streams of process steps.
func (s *Step) Channels() []string {
	switch {
	case s.Sender != nil, s.Read != nil, s.TransformStream != nil:
		return []string{"out"}
	case s.Process != nil:
		if s.Process.Tty != nil {
			return []string{"stdout", "wait", "check"}
		}
		return []string{"stdout", "stderr", "wait", "check"}
	case s.Plugin != nil:
		// Plugin channels live on the remote side; "out" is the
		// conventional primary stream.
		return []string{"out"}
	}
	return nil
}

func (s *Step) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.KindName())
}
