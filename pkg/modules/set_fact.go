package modules

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/AlexanderGrooff/drover/pkg"
)

// SetFactModule records host facts. The facts travel back to the
// coordinator in the result payload; nothing is mutated worker-side.
type SetFactModule struct{}

func (m SetFactModule) InputType() reflect.Type {
	return reflect.TypeOf(SetFactInput{})
}

// SetFactInput holds the facts to set as flexible key-value pairs. The
// cacheable flag is pulled out rather than stored as a fact.
type SetFactInput struct {
	Facts     map[string]interface{}
	Cacheable bool
}

// SetFactOutput reports what was set and which keys actually changed
// compared to the scope the task ran with.
type SetFactOutput struct {
	Facts       map[string]interface{}
	Cacheable   bool
	ChangedKeys []string
}

// Validate ensures that there are facts to set.
func (i SetFactInput) Validate() error {
	if len(i.Facts) == 0 {
		return fmt.Errorf("no facts provided to set_fact module")
	}
	return nil
}

// String provides a human-readable summary of the output.
func (o SetFactOutput) String() string {
	return fmt.Sprintf("Set %d fact(s)", len(o.Facts))
}

// Changed indicates if any facts were added or modified.
func (o SetFactOutput) Changed() bool {
	return len(o.ChangedKeys) > 0
}

func (o SetFactOutput) AsFacts() map[string]interface{} {
	facts := map[string]interface{}{
		"ansible_facts": o.Facts,
	}
	if o.Cacheable {
		facts[pkg.InternalKeyPrefix+"facts_cacheable"] = true
	}
	return facts
}

// UnmarshalYAML custom unmarshaler to handle direct map structure. The
// cacheable key controls fact persistence and never becomes a fact itself.
func (i *SetFactInput) UnmarshalYAML(unmarshal func(interface{}) error) error {
	factsMap := make(map[string]interface{})
	if err := unmarshal(&factsMap); err != nil {
		return fmt.Errorf("failed to unmarshal set_fact input: expected a map")
	}
	if raw, ok := factsMap["cacheable"]; ok {
		cacheable, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("set_fact cacheable must be a boolean, got %T", raw)
		}
		i.Cacheable = cacheable
		delete(factsMap, "cacheable")
	}
	i.Facts = factsMap
	return nil
}

// Execute returns the facts for registration. Values arrive already
// templated. A key counts as changed when the scope holds a different value
// for it, or none at all.
func (m SetFactModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	p, ok := input.(SetFactInput)
	if !ok {
		return nil, fmt.Errorf("invalid params type (%T) for set_fact module", input)
	}

	output := SetFactOutput{Facts: p.Facts, Cacheable: p.Cacheable}
	for key, value := range p.Facts {
		existing, exists := execCtx.Scope[key]
		if !exists || !cmp.Equal(existing, value) {
			output.ChangedKeys = append(output.ChangedKeys, key)
		}
	}
	sort.Strings(output.ChangedKeys)

	return output, nil
}

func (m SetFactModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("set_fact", SetFactModule{})
	pkg.RegisterModule("ansible.builtin.set_fact", SetFactModule{})
}
