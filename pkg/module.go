package pkg

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg/config"
	"github.com/AlexanderGrooff/drover/pkg/runtime"
)

// ModuleInput is implemented by each module's typed argument struct.
type ModuleInput interface {
	Validate() error
}

// ModuleOutput is the result of a module execution. AsFacts produces the
// payload that travels back in the result and gets registered.
type ModuleOutput interface {
	Changed() bool
	String() string
	AsFacts() map[string]interface{}
}

// ExecContext is everything a module gets to work with: the connection to
// the target host and the rendered variable scope.
type ExecContext struct {
	Conn       runtime.Connection
	Scope      map[string]interface{}
	Config     *config.Config
	CheckMode  bool
	DiffMode   bool
	Become     bool
	BecomeUser string
}

// RunAs returns the user commands should run as, empty for the connecting
// user.
func (c *ExecContext) RunAs() string {
	if c.Become {
		if c.BecomeUser != "" {
			return c.BecomeUser
		}
		return "root"
	}
	return ""
}

// CommandOptions builds execution options from the task's become settings.
func (c *ExecContext) CommandOptions() *runtime.CommandOptions {
	opts := runtime.NewCommandOptions(c.Config)
	if user := c.RunAs(); user != "" {
		opts.WithUsername(user)
	}
	return opts
}

type Module interface {
	InputType() reflect.Type
	Execute(input ModuleInput, execCtx *ExecContext) (ModuleOutput, error)
}

// CheckModeSupporter is implemented by modules that can run under check
// mode. Modules without it are skipped when check mode is on.
type CheckModeSupporter interface {
	SupportsCheckMode() bool
}

// DiffProducer is implemented by module outputs that can describe what they
// changed as a unified diff. The diff ends up in the result payload under
// "diff" when diff mode is on.
type DiffProducer interface {
	Diff() string
}

// ParameterDoc documents a single module parameter.
type ParameterDoc struct {
	Description string
	Required    *bool
	Default     string
}

// DocProvider is implemented by modules that ship usage documentation.
type DocProvider interface {
	Doc() string
}

// ParameterDocsProvider is implemented by modules that document their inputs.
type ParameterDocsProvider interface {
	ParameterDocs() map[string]ParameterDoc
}

var registeredModules = make(map[string]Module)

// RegisterModule allows modules to register themselves by name.
func RegisterModule(name string, module Module) {
	if _, exists := registeredModules[name]; exists {
		panic(fmt.Sprintf("Module %s already registered", name))
	}
	registeredModules[name] = module
}

// GetModule retrieves a registered module by name.
func GetModule(name string) (Module, bool) {
	module, ok := registeredModules[name]
	return module, ok
}

// RegisteredModuleNames returns all registered module names.
func RegisteredModuleNames() []string {
	names := make([]string, 0, len(registeredModules))
	for name := range registeredModules {
		names = append(names, name)
	}
	return names
}

// DecodeArgs converts raw task arguments into the module's typed input and
// validates them. Unmarshalling the yaml directly into the input type
// doesn't work because the args have a dynamic type based on the module, so
// we round-trip through yaml bytes.
func DecodeArgs(module Module, raw interface{}) (ModuleInput, error) {
	ptr := reflect.New(module.InputType())
	if raw != nil {
		argsData, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal args: %w", err)
		}
		if err := yaml.Unmarshal(argsData, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}

	// Modules declare their inputs with value receivers and assert the value
	// type in Execute, so hand the value back. Inputs implementing the
	// interface only on the pointer keep the pointer.
	moduleInput, ok := ptr.Elem().Interface().(ModuleInput)
	if !ok {
		moduleInput, ok = ptr.Interface().(ModuleInput)
		if !ok {
			return nil, fmt.Errorf("input type %s does not implement ModuleInput", module.InputType())
		}
	}
	if err := moduleInput.Validate(); err != nil {
		return nil, err
	}
	return moduleInput, nil
}

// SupportsCheckMode reports whether a module can execute under check mode.
func SupportsCheckMode(module Module) bool {
	if supporter, ok := module.(CheckModeSupporter); ok {
		return supporter.SupportsCheckMode()
	}
	return false
}
