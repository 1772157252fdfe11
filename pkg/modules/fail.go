package modules

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/AlexanderGrooff/drover/pkg"
)

// FailModule aborts the play for the current host with a custom message.
type FailModule struct{}

func (m FailModule) InputType() reflect.Type {
	return reflect.TypeOf(FailInput{})
}

// Doc describes the module in Markdown for the generated reference.
func (m FailModule) Doc() string {
	return `Abort the play for this host with a custom message. Pair it with a
when clause to express preconditions a host must meet before the play
continues.

## Examples

` + "```yaml" + `
- name: Refuse to run against production
  fail:
    msg: "This play must not target the production inventory"
  when: "'production' in group_names"

- name: Require a release version
  fail:
    msg: "Set release_version before deploying"
  when: release_version is not defined
` + "```" + `
`
}

// ParameterDocs provides documentation for fail module inputs.
func (m FailModule) ParameterDocs() map[string]pkg.ParameterDoc {
	notRequired := false
	return map[string]pkg.ParameterDoc{
		"msg": {
			Description: "The failure message. Can include templating.",
			Required:    &notRequired,
			Default:     "Failed as requested from task",
		},
	}
}

// FailInput takes a 'msg' to be used as the failure message.
type FailInput struct {
	Msg string `yaml:"msg"`
}

// FailOutput carries the message the task failed with.
type FailOutput struct {
	Msg string
}

// Validate always passes, msg is optional.
func (i FailInput) Validate() error {
	return nil
}

func (o FailOutput) String() string {
	return o.Msg
}

func (o FailOutput) Changed() bool {
	return false
}

func (o FailOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"msg": o.Msg,
	}
}

// Execute always fails with the configured message.
func (m FailModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	in, ok := input.(FailInput)
	if !ok {
		return nil, fmt.Errorf("expected FailInput, got %T", input)
	}

	msg := in.Msg
	if msg == "" {
		msg = "Failed as requested from task"
	}
	return FailOutput{Msg: msg}, errors.New(msg)
}

func (m FailModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("fail", FailModule{})
	pkg.RegisterModule("ansible.builtin.fail", FailModule{})
}
