package modules

import (
	"fmt"
	"reflect"

	"github.com/AlexanderGrooff/drover/pkg"
)

type AssertModule struct{}

func (am AssertModule) InputType() reflect.Type {
	return reflect.TypeOf(AssertInput{})
}

// Doc returns module-level documentation rendered into Markdown.
func (am AssertModule) Doc() string {
	return `Assert that given expressions are true. Evaluates a list of conditions
and fails the task if any of them is false.

## Examples

` + "```yaml" + `
- name: Assert variable is defined
  assert:
    that:
      - my_var is defined
    fail_msg: "Variable my_var must be defined"

- name: Multiple assertions
  assert:
    that:
      - ansible_system == "Linux"
      - port > 0 and port < 65536
` + "```" + `

All conditions in the 'that' list must hold. The first failing condition is
reported.
`
}

type AssertInput struct {
	That       pkg.ExpressionList `yaml:"that"`     // List of assertions to evaluate
	FailMsg    string             `yaml:"fail_msg"` // Optional message on failure
	SuccessMsg string             `yaml:"success_msg"`
	Quiet      bool               `yaml:"quiet"`
}

type AssertOutput struct {
	FailedAssertion string // Which assertion failed, if any
	Msg             string
	Quiet           bool
}

func (i AssertInput) Validate() error {
	if len(i.That) == 0 {
		return fmt.Errorf("no assertions provided to assert module")
	}
	return nil
}

func (o AssertOutput) String() string {
	if o.Quiet {
		return ""
	}
	return o.Msg
}

func (o AssertOutput) Changed() bool {
	return false
}

func (o AssertOutput) AsFacts() map[string]interface{} {
	facts := map[string]interface{}{
		"msg": o.Msg,
	}
	if o.FailedAssertion != "" {
		facts["assertion"] = o.FailedAssertion
		facts["evaluated_to"] = false
	}
	return facts
}

// Execute evaluates each assertion against the task scope and fails on the
// first one that does not hold.
func (am AssertModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	p, ok := input.(AssertInput)
	if !ok {
		return nil, fmt.Errorf("expected AssertInput, got %T", input)
	}

	for _, assertion := range p.That {
		holds, err := pkg.EvaluateGuards(pkg.ExpressionList{assertion}, execCtx.Scope)
		if err != nil {
			return AssertOutput{FailedAssertion: assertion, Quiet: p.Quiet},
				fmt.Errorf("error evaluating assertion %q: %w", assertion, err)
		}
		if !holds {
			msg := p.FailMsg
			if msg == "" {
				msg = fmt.Sprintf("Assertion failed: %s", assertion)
			}
			return AssertOutput{FailedAssertion: assertion, Msg: msg, Quiet: p.Quiet}, fmt.Errorf("%s", msg)
		}
	}

	msg := p.SuccessMsg
	if msg == "" {
		msg = "All assertions passed"
	}
	return AssertOutput{Msg: msg, Quiet: p.Quiet}, nil
}

func (am AssertModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("assert", AssertModule{})
	pkg.RegisterModule("ansible.builtin.assert", AssertModule{})
}
