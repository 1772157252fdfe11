package modules

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg"
)

// AddHostModule registers a new host in the running inventory. The host
// data travels back in the result payload; the coordinator applies it.
type AddHostModule struct{}

func (am AddHostModule) InputType() reflect.Type {
	return reflect.TypeOf(AddHostInput{})
}

type AddHostInput struct {
	Name   string
	Groups []string
	Vars   map[string]interface{}
}

type AddHostOutput struct {
	Name   string
	Groups []string
	Vars   map[string]interface{}
}

func (i AddHostInput) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("missing name parameter for add_host module")
	}
	return nil
}

func (o AddHostOutput) String() string {
	if len(o.Groups) > 0 {
		return fmt.Sprintf("Added host %s to groups %s", o.Name, strings.Join(o.Groups, ", "))
	}
	return fmt.Sprintf("Added host %s", o.Name)
}

func (o AddHostOutput) Changed() bool {
	return true
}

func (o AddHostOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"add_host": map[string]interface{}{
			"host_name": o.Name,
			"groups":    o.Groups,
			"host_vars": o.Vars,
		},
	}
}

func (am AddHostModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	p, ok := input.(AddHostInput)
	if !ok {
		return nil, fmt.Errorf("expected AddHostInput, got %T", input)
	}
	return AddHostOutput{Name: p.Name, Groups: p.Groups, Vars: p.Vars}, nil
}

// UnmarshalYAML decodes the flexible add_host form: 'name' (aliases
// 'hostname', 'host'), 'groups' (alias 'groupname', string or list), and
// every remaining key becomes a host variable.
func (i *AddHostInput) UnmarshalYAML(node *yaml.Node) error {
	raw := make(map[string]interface{})
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode add_host input (line %d): %w", node.Line, err)
	}

	i.Vars = make(map[string]interface{})
	for key, value := range raw {
		switch key {
		case "name", "hostname", "host":
			name, ok := value.(string)
			if !ok {
				return fmt.Errorf("add_host %q must be a string", key)
			}
			if i.Name != "" && i.Name != name {
				return fmt.Errorf("conflicting host names %q and %q for add_host", i.Name, name)
			}
			i.Name = name
		case "groups", "groupname", "group":
			groups, err := stringOrList(value)
			if err != nil {
				return fmt.Errorf("add_host %q: %w", key, err)
			}
			i.Groups = append(i.Groups, groups...)
		default:
			i.Vars[key] = value
		}
	}
	return nil
}

// stringOrList accepts a comma separated string or a list of strings.
func stringOrList(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, got %T element", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", value)
	}
}

func (am AddHostModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("add_host", AddHostModule{})
	pkg.RegisterModule("ansible.builtin.add_host", AddHostModule{})
}
