package modules

import (
	"encoding/base64"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg"
)

// SlurpModule reads a file from the target host and returns its content
// base64 encoded.
type SlurpModule struct{}

func (sm SlurpModule) InputType() reflect.Type {
	return reflect.TypeOf(SlurpInput{})
}

// SlurpInput names the remote file to read.
type SlurpInput struct {
	Src string `yaml:"src"`
}

// SlurpOutput carries the file content, base64 encoded.
type SlurpOutput struct {
	Content string
	Source  string
}

func (i SlurpInput) Validate() error {
	if i.Src == "" {
		return fmt.Errorf("missing src parameter for slurp module")
	}
	return nil
}

func (o SlurpOutput) String() string {
	return fmt.Sprintf("Read %s", o.Source)
}

// Changed reports false: reading a file never mutates the host.
func (o SlurpOutput) Changed() bool {
	return false
}

func (o SlurpOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"content":  o.Content,
		"source":   o.Source,
		"encoding": "base64",
	}
}

func (sm SlurpModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	in, ok := input.(SlurpInput)
	if !ok {
		return nil, fmt.Errorf("expected SlurpInput, got %T", input)
	}

	data, err := execCtx.Conn.ReadFile(in.Src)
	if err != nil {
		return nil, fmt.Errorf("failed to slurp %s: %w", in.Src, err)
	}

	return SlurpOutput{
		Content: base64.StdEncoding.EncodeToString(data),
		Source:  in.Src,
	}, nil
}

// UnmarshalYAML accepts the path shorthand and the map form with 'src' or
// its 'path' alias.
func (i *SlurpInput) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!str" && node.Tag != "" {
			break
		}
		i.Src = node.Value
		return nil
	case yaml.MappingNode:
		var raw struct {
			Src  string `yaml:"src"`
			Path string `yaml:"path"`
		}
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("decoding slurp arguments (line %d): %w", node.Line, err)
		}
		i.Src = raw.Src
		if i.Src == "" {
			i.Src = raw.Path
		}
		return nil
	}
	return fmt.Errorf("slurp module takes a string or a map, got %s (line %d)", node.Tag, node.Line)
}

func (sm SlurpModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("slurp", SlurpModule{})
	pkg.RegisterModule("ansible.builtin.slurp", SlurpModule{})
}
