package modules

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg"
)

// CommandModule runs a command on the target host without a shell. Shell
// features such as $HOME, pipes and redirection do not work here; the shell
// module covers those.
type CommandModule struct{}

func (cm CommandModule) InputType() reflect.Type {
	return reflect.TypeOf(CommandInput{})
}

// CommandInput holds the command plus the idempotency guards.
type CommandInput struct {
	Cmd     string   `yaml:"cmd"`     // The command to execute.
	Argv    []string `yaml:"argv"`    // The command as an argument list; mutually exclusive with cmd.
	Creates string   `yaml:"creates"` // Skip when this path already exists.
	Removes string   `yaml:"removes"` // Skip unless this path exists.
}

// CommandOutput carries the command run, or the reason it was skipped.
type CommandOutput struct {
	Stdout     string `yaml:"stdout"`
	Stderr     string `yaml:"stderr"`
	Command    string `yaml:"command"`
	Rc         int    `yaml:"rc"`
	SkipReason string `yaml:"skip_reason,omitempty"`
}

func (i CommandInput) Validate() error {
	if i.Cmd != "" && len(i.Argv) > 0 {
		return fmt.Errorf("cannot specify both 'cmd' and 'argv' for command module")
	}
	if i.Cmd == "" && len(i.Argv) == 0 {
		return fmt.Errorf("missing cmd parameter for command module")
	}
	return nil
}

// commandLine renders the configured command as a single string. Argv
// elements containing whitespace or quoting characters are single-quoted so
// the runtime tokenizer reconstructs the original list.
func (i CommandInput) commandLine() string {
	if len(i.Argv) == 0 {
		return i.Cmd
	}
	parts := make([]string, 0, len(i.Argv))
	for _, arg := range i.Argv {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\$`") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func (o CommandOutput) String() string {
	if o.SkipReason != "" {
		return fmt.Sprintf("skipped, since %s", o.SkipReason)
	}
	return fmt.Sprintf("  cmd: %q\n  stdout: %q\n  stderr: %q\n", o.Command, o.Stdout, o.Stderr)
}

// Changed assumes any command that actually ran may have changed the host.
func (o CommandOutput) Changed() bool {
	return o.SkipReason == ""
}

// AsFacts returns a map representation suitable for registration.
func (o CommandOutput) AsFacts() map[string]interface{} {
	facts := map[string]interface{}{
		"stdout":       o.Stdout,
		"stderr":       o.Stderr,
		"stdout_lines": splitLines(o.Stdout),
		"stderr_lines": splitLines(o.Stderr),
		"cmd":          o.Command,
		"rc":           o.Rc,
	}
	if o.SkipReason != "" {
		facts["skip_reason"] = o.SkipReason
	}
	return facts
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// Execute runs the command on the target host.
func (cm CommandModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	in, ok := input.(CommandInput)
	if !ok {
		return nil, fmt.Errorf("expected CommandInput, got %T", input)
	}
	cmd := in.commandLine()

	if in.Creates != "" {
		if _, err := execCtx.Conn.Stat(in.Creates, true); err == nil {
			return CommandOutput{Command: cmd, SkipReason: fmt.Sprintf("%s exists", in.Creates)}, nil
		}
	}
	if in.Removes != "" {
		if _, err := execCtx.Conn.Stat(in.Removes, true); err != nil {
			return CommandOutput{Command: cmd, SkipReason: fmt.Sprintf("%s does not exist", in.Removes)}, nil
		}
	}

	res, err := execCtx.Conn.ExecuteCommand(cmd, execCtx.CommandOptions())
	if err != nil {
		return nil, err
	}

	output := CommandOutput{
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
		Command: res.Command,
		Rc:      res.ExitCode,
	}

	if res.Error != nil || res.ExitCode != 0 {
		errMsg := fmt.Sprintf("command failed with return code %d", res.ExitCode)
		if res.Stderr != "" {
			errMsg += fmt.Sprintf("\nstderr: %s", res.Stderr)
		}
		return output, fmt.Errorf("%s", errMsg)
	}
	return output, nil
}

// UnmarshalYAML accepts both the string shorthand (command: id -un) and the
// map form with cmd and the optional guards.
func (i *CommandInput) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!str" && node.Tag != "" {
			break
		}
		i.Cmd = node.Value
		return nil
	case yaml.MappingNode:
		var raw struct {
			Cmd     string   `yaml:"cmd"`
			Execute string   `yaml:"execute"` // older playbooks use this alias
			Argv    []string `yaml:"argv"`
			Creates string   `yaml:"creates"`
			Removes string   `yaml:"removes"`
		}
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("decoding command arguments (line %d): %w", node.Line, err)
		}
		if raw.Cmd != "" && raw.Execute != "" {
			return fmt.Errorf("cannot specify both 'cmd' and 'execute' for command module (line %d)", node.Line)
		}
		i.Cmd = raw.Cmd
		if i.Cmd == "" {
			i.Cmd = raw.Execute
		}
		i.Argv = raw.Argv
		i.Creates = raw.Creates
		i.Removes = raw.Removes
		return nil
	}
	return fmt.Errorf("command module takes a string or a map, got %s (line %d)", node.Tag, node.Line)
}

func init() {
	pkg.RegisterModule("command", CommandModule{})
	pkg.RegisterModule("ansible.builtin.command", CommandModule{})
}
