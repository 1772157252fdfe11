package modules

import (
	"errors"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg"
)

// ShellModule runs commands through /bin/bash, so redirection, pipes and
// environment variables work.
type ShellModule struct{}

func (sm ShellModule) InputType() reflect.Type {
	return reflect.TypeOf(ShellInput{})
}

// ShellInput holds the command line handed to bash.
type ShellInput struct {
	Cmd string `yaml:"cmd"`
}

// ShellOutput carries the run outcome.
type ShellOutput struct {
	Stdout  string `yaml:"stdout"`
	Stderr  string `yaml:"stderr"`
	Command string `yaml:"command"`
	Rc      int    `yaml:"rc"`
}

func (i ShellInput) Validate() error {
	if i.Cmd == "" {
		return fmt.Errorf("missing cmd parameter for shell module")
	}
	return nil
}

func (o ShellOutput) String() string {
	return fmt.Sprintf("  cmd: %q\n  stdout: %q\n  stderr: %q\n", o.Command, o.Stdout, o.Stderr)
}

// Changed assumes a shell command always may have changed the host.
func (o ShellOutput) Changed() bool {
	return true
}

func (o ShellOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"stdout":       o.Stdout,
		"stderr":       o.Stderr,
		"stdout_lines": splitLines(o.Stdout),
		"stderr_lines": splitLines(o.Stderr),
		"cmd":          o.Command,
		"rc":           o.Rc,
	}
}

func (sm ShellModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	in, ok := input.(ShellInput)
	if !ok {
		return nil, fmt.Errorf("expected ShellInput, got %T", input)
	}

	res, err := execCtx.Conn.ExecuteCommand(in.Cmd, execCtx.CommandOptions().WithShell())
	if err != nil {
		return nil, err
	}

	output := ShellOutput{
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
		Command: res.Command,
		Rc:      res.ExitCode,
	}

	if res.Error != nil || res.ExitCode != 0 {
		msg := fmt.Sprintf("shell command failed with return code %d", res.ExitCode)
		if res.Stderr != "" {
			msg = fmt.Sprintf("%s\nstderr: %s", msg, res.Stderr)
		}
		return output, errors.New(msg)
	}
	return output, nil
}

// UnmarshalYAML accepts both the string shorthand and the map form.
func (i *ShellInput) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!str" && node.Tag != "" {
			break
		}
		i.Cmd = node.Value
		return nil
	case yaml.MappingNode:
		var raw struct {
			Cmd string `yaml:"cmd"`
		}
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("decoding shell arguments (line %d): %w", node.Line, err)
		}
		i.Cmd = raw.Cmd
		return nil
	}
	return fmt.Errorf("shell module takes a string or a map, got %s (line %d)", node.Tag, node.Line)
}

func init() {
	pkg.RegisterModule("shell", ShellModule{})
	pkg.RegisterModule("ansible.builtin.shell", ShellModule{})
}
