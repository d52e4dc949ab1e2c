package pipeline

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Step operations.
const (
	OpMerge      = "merge"
	OpFilter     = "filter"
	OpWindow     = "window"
	OpComponents = "ccs"
	OpWindowed   = "windowed"
)

// Payload types a step can work on.
const (
	TypeEdges         = "edges"
	TypeGroups        = "groups"
	TypeWindowedEdges = "windowed"
)

// Pipeline is an ordered list of conversions.
type Pipeline struct {
	// Name identifies the pipeline in logs.
	Name string `yaml:"name" json:"name"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Overwrite lets every step replace existing destination traces.
	Overwrite bool `yaml:"overwrite,omitempty" json:"overwrite,omitempty"`

	// SnapshotInterval overrides the snapshot period of every destination.
	// Zero keeps the period of the sources.
	SnapshotInterval int64 `yaml:"snapshot_interval,omitempty" json:"snapshot_interval,omitempty"`

	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one conversion. Which fields apply depends on Op:
//   - merge: Sources
//   - filter: Source, Nodes
//   - window: Source, Begin, End
//   - ccs: Source (an edge trace); Dest is a group trace
//   - windowed: Source (an edge trace), Span in seconds; Dest is a
//     windowed edge trace
type Step struct {
	Op        string   `yaml:"op" json:"op"`
	Dest      string   `yaml:"dest" json:"dest"`
	Type      string   `yaml:"type,omitempty" json:"type,omitempty"`
	Sources   []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	Source    string   `yaml:"source,omitempty" json:"source,omitempty"`
	Nodes     []string `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	Begin     *int64   `yaml:"begin,omitempty" json:"begin,omitempty"`
	End       *int64   `yaml:"end,omitempty" json:"end,omitempty"`
	Span      float64  `yaml:"span,omitempty" json:"span,omitempty"`
	Overwrite bool     `yaml:"overwrite,omitempty" json:"overwrite,omitempty"`
}

// PayloadType returns the step's payload type, defaulting to edges.
func (s Step) PayloadType() string {
	if s.Type == "" {
		return TypeEdges
	}
	return s.Type
}

// Inputs returns the traces the step reads.
func (s Step) Inputs() []string {
	if s.Op == OpMerge {
		return s.Sources
	}
	return []string{s.Source}
}

// Load reads and validates a pipeline file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse validates data against the pipeline schema and decodes it.
// Unknown fields are rejected.
func Parse(data []byte) (*Pipeline, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var p Pipeline
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateReferences(&p); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return &p, nil
}

// validateSchema unifies the raw document with #Pipeline.
func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		return errors.New("empty pipeline")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile pipeline schema: %w", err)
	}
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Pipeline")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid pipeline: %w", err)
	}
	return nil
}

// validateReferences checks what the schema cannot: destinations are
// unique and no step reads its own output.
func validateReferences(p *Pipeline) error {
	written := make(map[string]int)
	for i, step := range p.Steps {
		if prev, ok := written[step.Dest]; ok {
			return fmt.Errorf("steps[%d]: %q is already written by steps[%d]", i, step.Dest, prev)
		}
		if step.Op == OpWindow && (step.Begin == nil || step.End == nil) {
			return fmt.Errorf("steps[%d]: window needs begin and end", i)
		}
		if step.Op == OpWindowed && step.Span <= 0 {
			return fmt.Errorf("steps[%d]: windowed needs a positive span", i)
		}
		for _, in := range step.Inputs() {
			if in == step.Dest {
				return fmt.Errorf("steps[%d]: %q is both read and written", i, in)
			}
		}
		written[step.Dest] = i
	}
	return nil
}

// Encode writes p as YAML.
func Encode(w io.Writer, p *Pipeline) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
