package runtime

import (
	"fmt"
	"strings"

	"github.com/AlexanderGrooff/drover/pkg/config"
)

// CommandResult carries everything a module needs to judge one command run.
type CommandResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Error    error
}

func NewCommandResult(command string, exitCode int, stdout, stderr string, err error) *CommandResult {
	return &CommandResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Error:    err,
	}
}

// CommandOptions selects how a command is wrapped before execution.
type CommandOptions struct {
	Username    string
	UseShell    bool
	UseSudo     bool
	BecomeFlags string
}

func NewCommandOptions(cfg *config.Config) *CommandOptions {
	opts := &CommandOptions{}
	if cfg != nil {
		opts.BecomeFlags = cfg.PrivilegeEscalation.BecomeFlags
	}
	return opts
}

// WithUsername makes the command run as username through sudo.
func (co *CommandOptions) WithUsername(username string) *CommandOptions {
	co.Username = username
	co.UseSudo = username != ""
	return co
}

// WithShell wraps the command in a bash invocation.
func (co *CommandOptions) WithShell() *CommandOptions {
	co.UseShell = true
	return co
}

// buildCommand wraps the raw command according to the options: optional
// bash -c quoting with an optional non-interactive sudo prefix.
func buildCommand(command string, opts *CommandOptions) string {
	if command == "" {
		return ""
	}

	var parts []string
	if opts.UseSudo {
		// Workers never have a terminal, so sudo must not prompt.
		parts = append(parts, "sudo", "-n", "-u", opts.Username)
		if opts.BecomeFlags != "" {
			parts = append(parts, opts.BecomeFlags)
		}
	}
	if opts.UseShell {
		parts = append(parts, "/bin/bash", "-c", "'"+escapeShellCommand(command)+"'")
	} else {
		parts = append(parts, command)
	}
	return strings.Join(parts, " ")
}

// escapeShellCommand prepares a command for single-quoted bash -c execution:
// line endings are normalized, paired backticks become $(...) substitutions
// and single quotes are escaped. An unpaired trailing backtick is left
// untouched.
func escapeShellCommand(command string) string {
	rest := strings.ReplaceAll(command, "\r\n", "\n")

	var b strings.Builder
	for {
		open := strings.Index(rest, "`")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		length := strings.Index(rest[open+1:], "`")
		if length < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		b.WriteString("$(")
		b.WriteString(rest[open+1 : open+1+length])
		b.WriteString(")")
		rest = rest[open+length+2:]
	}

	return strings.ReplaceAll(b.String(), "'", `'\''`)
}

// sudoPromptMarkers are the sudo outputs that mean a password was wanted.
var sudoPromptMarkers = []string{
	"[sudo] password for ",
	"sudo: no tty present",
	"sudo: no password was provided",
	"sudo: a password is required",
}

// cleanSudoPrompts strips sudo prompt noise from command output.
func cleanSudoPrompts(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		prompt := false
		for _, marker := range sudoPromptMarkers {
			if strings.HasPrefix(trimmed, marker) {
				prompt = true
				break
			}
		}
		if !prompt {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// checkSudoPasswordError turns a sudo password prompt in stderr into an
// actionable error instead of a cryptic exit code.
func checkSudoPasswordError(stderrOutput, host string) error {
	for _, marker := range sudoPromptMarkers {
		if strings.Contains(stderrOutput, marker) {
			return fmt.Errorf("sudo requires a password on host %s but workers run without a terminal. Set up passwordless sudo for the connecting user", host)
		}
	}
	return nil
}
