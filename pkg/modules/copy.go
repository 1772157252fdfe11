package modules

import (
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/AlexanderGrooff/drover/pkg"
)

// CopyModule writes content to a file on the target host, either inline
// content or a file from the controller.
type CopyModule struct{}

func (cm CopyModule) InputType() reflect.Type {
	return reflect.TypeOf(CopyInput{})
}

// Doc returns module-level documentation rendered into Markdown.
func (cm CopyModule) Doc() string {
	return `Copy content to a file on the target host. Under check mode nothing is
written; under diff mode the result carries a unified diff of the change.

## Examples

` + "```yaml" + `
- name: Write a config file
  copy:
    content: "{{ config_body }}"
    dest: /etc/app/app.conf
    mode: "0640"

- name: Ship a local file
  copy:
    src: files/nginx.conf
    dest: /etc/nginx/nginx.conf
` + "```" + `
`
}

type CopyInput struct {
	Content string `yaml:"content"`
	Src     string `yaml:"src"` // Path on the controller.
	Dest    string `yaml:"dest"`
	Mode    string `yaml:"mode"`
}

type CopyOutput struct {
	Dest           string
	ContentChanged bool
	ModeChanged    bool
	DiffText       string
}

func (i CopyInput) Validate() error {
	if i.Dest == "" {
		return fmt.Errorf("missing dest parameter for copy module")
	}
	if i.Content == "" && i.Src == "" {
		return fmt.Errorf("either content or src must be given to copy module")
	}
	if i.Content != "" && i.Src != "" {
		return fmt.Errorf("content and src are mutually exclusive for copy module")
	}
	return nil
}

func (o CopyOutput) String() string {
	if !o.Changed() {
		return fmt.Sprintf("%s is already up to date", o.Dest)
	}
	return fmt.Sprintf("copied to %s", o.Dest)
}

func (o CopyOutput) Changed() bool {
	return o.ContentChanged || o.ModeChanged
}

func (o CopyOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"dest": o.Dest,
	}
}

// Diff returns the unified diff of the change, empty unless diff mode was on.
func (o CopyOutput) Diff() string {
	return o.DiffText
}

func (cm CopyModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	p, ok := input.(CopyInput)
	if !ok {
		return nil, fmt.Errorf("expected CopyInput, got %T", input)
	}

	newContent := p.Content
	if p.Src != "" {
		data, err := os.ReadFile(p.Src)
		if err != nil {
			return nil, fmt.Errorf("failed to read source file %s: %w", p.Src, err)
		}
		newContent = string(data)
	}

	// Missing destination counts as empty original content.
	originalContent := ""
	destExists := false
	if data, err := execCtx.Conn.ReadFile(p.Dest); err == nil {
		originalContent = string(data)
		destExists = true
	}

	output := CopyOutput{
		Dest:           p.Dest,
		ContentChanged: !destExists || originalContent != newContent,
	}

	if execCtx.DiffMode && output.ContentChanged {
		diff, err := pkg.GenerateUnifiedDiff(p.Dest, originalContent, newContent)
		if err == nil {
			output.DiffText = diff
		}
	}

	if p.Mode != "" {
		output.ModeChanged = modeDiffers(execCtx, p.Dest, p.Mode, destExists)
	}

	if execCtx.CheckMode {
		return output, nil
	}

	if output.ContentChanged {
		if err := execCtx.Conn.WriteFile(p.Dest, newContent); err != nil {
			return output, fmt.Errorf("failed to write to file %s: %w", p.Dest, err)
		}
	}
	if p.Mode != "" && (output.ModeChanged || output.ContentChanged) {
		if err := execCtx.Conn.SetFileMode(p.Dest, p.Mode); err != nil {
			return output, fmt.Errorf("failed to set mode on %s: %w", p.Dest, err)
		}
	}

	return output, nil
}

// modeDiffers compares the destination's current permission bits against the
// requested octal mode. A missing destination always differs.
func modeDiffers(execCtx *pkg.ExecContext, dest, modeStr string, destExists bool) bool {
	if !destExists {
		return true
	}
	wanted, err := strconv.ParseUint(modeStr, 8, 32)
	if err != nil {
		return true
	}
	info, err := execCtx.Conn.Stat(dest, true)
	if err != nil {
		return true
	}
	return uint64(info.Mode().Perm()) != wanted
}

func (cm CopyModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("copy", CopyModule{})
	pkg.RegisterModule("ansible.builtin.copy", CopyModule{})
}
