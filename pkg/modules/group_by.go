package modules

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/AlexanderGrooff/drover/pkg"
)

// GroupByModule puts the current host into a group derived from its
// variables. The group memberships travel back in the result payload.
type GroupByModule struct{}

func (gm GroupByModule) InputType() reflect.Type {
	return reflect.TypeOf(GroupByInput{})
}

type GroupByInput struct {
	Key     string   `yaml:"key"`
	Parents []string `yaml:"parents"`
}

type GroupByOutput struct {
	Groups    []string
	AlreadyIn bool
	HostName  string
}

func (i GroupByInput) Validate() error {
	if i.Key == "" {
		return fmt.Errorf("missing key parameter for group_by module")
	}
	return nil
}

func (o GroupByOutput) String() string {
	return fmt.Sprintf("Grouped %s into %s", o.HostName, strings.Join(o.Groups, ", "))
}

func (o GroupByOutput) Changed() bool {
	return !o.AlreadyIn
}

func (o GroupByOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"add_group": map[string]interface{}{
			"groups": o.Groups,
		},
	}
}

// Execute records the membership. The key arrives already templated, so a
// play can write key: "os_{{ ansible_os_family }}". The task counts as
// changed only when the host was not in the group yet.
func (gm GroupByModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	p, ok := input.(GroupByInput)
	if !ok {
		return nil, fmt.Errorf("expected GroupByInput, got %T", input)
	}

	// Group names cannot carry spaces, Ansible replaces them.
	key := strings.ReplaceAll(strings.TrimSpace(p.Key), " ", "_")
	if key == "" {
		return nil, fmt.Errorf("group_by key templated to an empty string")
	}

	groups := append([]string{key}, p.Parents...)

	output := GroupByOutput{Groups: groups}
	if host, ok := execCtx.Scope["inventory_hostname"].(string); ok {
		output.HostName = host
	}
	if names, ok := execCtx.Scope["group_names"].([]string); ok {
		for _, name := range names {
			if name == key {
				output.AlreadyIn = true
				break
			}
		}
	}

	return output, nil
}

func (gm GroupByModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("group_by", GroupByModule{})
	pkg.RegisterModule("ansible.builtin.group_by", GroupByModule{})
}
