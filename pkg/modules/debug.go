package modules

import (
	"fmt"
	"reflect"

	"github.com/AlexanderGrooff/drover/pkg"
)

// DebugModule prints a message or the value of a variable. It never touches
// the host, so it runs unchanged in check mode.
type DebugModule struct{}

// DebugInput takes exactly one of 'msg' (printed as-is, templated before the
// module runs) or 'var' (an expression evaluated against the task scope).
type DebugInput struct {
	Msg string `yaml:"msg,omitempty"`
	Var string `yaml:"var,omitempty"`
}

// DebugOutput records the rendered message.
type DebugOutput struct {
	MessagePrinted string
}

func (m DebugModule) InputType() reflect.Type {
	return reflect.TypeOf(DebugInput{})
}

func (i DebugInput) Validate() error {
	switch {
	case i.Msg == "" && i.Var == "":
		return fmt.Errorf("either 'msg' or 'var' must be provided to debug module")
	case i.Msg != "" && i.Var != "":
		return fmt.Errorf("only one of 'msg' or 'var' can be provided to debug module")
	}
	return nil
}

func (o DebugOutput) String() string {
	return o.MessagePrinted
}

// Changed reports false: printing never changes host state.
func (o DebugOutput) Changed() bool {
	return false
}

func (o DebugOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"msg": o.MessagePrinted,
	}
}

// Execute renders the message. An undefined 'var' prints a placeholder
// instead of failing the task.
func (m DebugModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	in, ok := input.(DebugInput)
	if !ok {
		return nil, fmt.Errorf("expected DebugInput, got %T", input)
	}

	if in.Msg != "" {
		return DebugOutput{MessagePrinted: in.Msg}, nil
	}

	value, err := pkg.EvaluateExpression(in.Var, execCtx.Scope)
	if err != nil {
		return DebugOutput{MessagePrinted: fmt.Sprintf("%s: VARIABLE IS NOT DEFINED!", in.Var)}, nil
	}
	return DebugOutput{MessagePrinted: fmt.Sprintf("%s: %v", in.Var, value)}, nil
}

func (m DebugModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("debug", DebugModule{})
	pkg.RegisterModule("ansible.builtin.debug", DebugModule{})
}
