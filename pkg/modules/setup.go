package modules

import (
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/AlexanderGrooff/drover/pkg"
)

// SetupModule gathers facts about the target host. It runs as the implicit
// first task of a play unless gather_facts is disabled.
type SetupModule struct{}

type SetupInput struct {
	Filter string `yaml:"filter"` // Shell glob limiting which facts are returned.
}

type SetupOutput struct {
	Facts map[string]interface{}
}

func (sm SetupModule) InputType() reflect.Type {
	return reflect.TypeOf(SetupInput{})
}

func (i SetupInput) Validate() error {
	return nil
}

func (o SetupOutput) String() string {
	return fmt.Sprintf("Gathered %d fact(s)", len(o.Facts))
}

func (o SetupOutput) Changed() bool {
	return false
}

func (o SetupOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"ansible_facts": o.Facts,
	}
}

// osFamilies maps distribution IDs to their family name.
var osFamilies = map[string]string{
	"debian":   "Debian",
	"ubuntu":   "Debian",
	"raspbian": "Debian",
	"rhel":     "RedHat",
	"centos":   "RedHat",
	"fedora":   "RedHat",
	"rocky":    "RedHat",
	"alma":     "RedHat",
	"arch":     "Archlinux",
	"alpine":   "Alpine",
	"suse":     "Suse",
	"opensuse": "Suse",
}

func (sm SetupModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	p, ok := input.(SetupInput)
	if !ok {
		return nil, fmt.Errorf("expected SetupInput, got %T", input)
	}

	facts := make(map[string]interface{})
	opts := execCtx.CommandOptions()

	capture := func(cmd string) (string, error) {
		res, err := execCtx.Conn.ExecuteCommand(cmd, opts)
		if err != nil {
			return "", err
		}
		if res.Error != nil || res.ExitCode != 0 {
			return "", fmt.Errorf("command %q failed with rc %d", cmd, res.ExitCode)
		}
		return strings.TrimSpace(res.Stdout), nil
	}

	// uname failing means we cannot gather anything useful at all.
	system, err := capture("uname -s")
	if err != nil {
		return nil, fmt.Errorf("failed to gather facts: %w", err)
	}
	facts["ansible_system"] = system

	if kernel, err := capture("uname -r"); err == nil {
		facts["ansible_kernel"] = kernel
	}
	if arch, err := capture("uname -m"); err == nil {
		facts["ansible_architecture"] = arch
	}
	if hostname, err := capture("hostname"); err == nil {
		facts["ansible_fqdn"] = hostname
		facts["ansible_hostname"] = strings.SplitN(hostname, ".", 2)[0]
	}
	if user, err := capture("id -un"); err == nil {
		facts["ansible_user_id"] = user
	}

	// Distribution facts from os-release, best effort.
	if data, err := execCtx.Conn.ReadFile("/etc/os-release"); err == nil {
		for key, value := range parseOSRelease(string(data)) {
			facts[key] = value
		}
	}

	if p.Filter != "" {
		filtered := make(map[string]interface{})
		for key, value := range facts {
			if matched, _ := path.Match(p.Filter, key); matched {
				filtered[key] = value
			}
		}
		facts = filtered
	}

	return SetupOutput{Facts: facts}, nil
}

// parseOSRelease turns /etc/os-release KEY=value lines into distribution
// facts.
func parseOSRelease(content string) map[string]interface{} {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		fields[parts[0]] = strings.Trim(parts[1], `"'`)
	}

	facts := make(map[string]interface{})
	id := strings.ToLower(fields["ID"])
	if id != "" {
		facts["ansible_distribution"] = strings.ToUpper(id[:1]) + id[1:]
	}
	if version, ok := fields["VERSION_ID"]; ok {
		facts["ansible_distribution_version"] = version
		facts["ansible_distribution_major_version"] = strings.SplitN(version, ".", 2)[0]
	}
	if family, ok := osFamilies[id]; ok {
		facts["ansible_os_family"] = family
	} else {
		for _, like := range strings.Fields(strings.ToLower(fields["ID_LIKE"])) {
			if family, ok := osFamilies[like]; ok {
				facts["ansible_os_family"] = family
				break
			}
		}
	}
	return facts
}

func (sm SetupModule) SupportsCheckMode() bool {
	return true
}

func init() {
	pkg.RegisterModule("setup", SetupModule{})
	pkg.RegisterModule("ansible.builtin.setup", SetupModule{})
}
