package modules

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg"
)

// SetStatsModule records custom statistics that show up in the play recap.
// The stats travel back in the result payload; the coordinator folds them
// into the run's aggregate stats.
type SetStatsModule struct{}

func (sm SetStatsModule) InputType() reflect.Type {
	return reflect.TypeOf(SetStatsInput{})
}

type SetStatsInput struct {
	Data      map[string]interface{}
	PerHost   bool
	Aggregate bool
}

type SetStatsOutput struct {
	Data      map[string]interface{}
	PerHost   bool
	Aggregate bool
}

func (i SetStatsInput) Validate() error {
	if len(i.Data) == 0 {
		return fmt.Errorf("no data provided to set_stats module")
	}
	return nil
}

func (o SetStatsOutput) String() string {
	return fmt.Sprintf("Recorded %d stat(s)", len(o.Data))
}

func (o SetStatsOutput) Changed() bool {
	return false
}

func (o SetStatsOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"ansible_stats": map[string]interface{}{
			"data":      o.Data,
			"per_host":  o.PerHost,
			"aggregate": o.Aggregate,
		},
	}
}

func (sm SetStatsModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	p, ok := input.(SetStatsInput)
	if !ok {
		return nil, fmt.Errorf("expected SetStatsInput, got %T", input)
	}
	return SetStatsOutput{Data: p.Data, PerHost: p.PerHost, Aggregate: p.Aggregate}, nil
}

// UnmarshalYAML decodes set_stats with its defaults: aggregate is on unless
// explicitly disabled, per_host is off.
func (i *SetStatsInput) UnmarshalYAML(node *yaml.Node) error {
	type setStatsMap struct {
		Data      map[string]interface{} `yaml:"data"`
		PerHost   *bool                  `yaml:"per_host"`
		Aggregate *bool                  `yaml:"aggregate"`
	}
	var tmp setStatsMap
	if err := node.Decode(&tmp); err != nil {
		return fmt.Errorf("failed to decode set_stats input (line %d): %w", node.Line, err)
	}

	i.Data = tmp.Data
	i.PerHost = tmp.PerHost != nil && *tmp.PerHost
	i.Aggregate = tmp.Aggregate == nil || *tmp.Aggregate
	return nil
}

func (sm SetStatsModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("set_stats", SetStatsModule{})
	pkg.RegisterModule("ansible.builtin.set_stats", SetStatsModule{})
}
