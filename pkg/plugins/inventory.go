// Package plugins loads inventories from dynamic sources: compiled Go
// plugins and, as a fallback, anything ansible-inventory can execute.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// soPrefix is the file name prefix shared by all Go inventory plugins.
const soPrefix = "drover-inventory-plugin-"

// InventoryPlugin is the interface a Go inventory plugin exports under the
// "Plugin" symbol.
type InventoryPlugin interface {
	// Name returns the name of the plugin.
	Name() string

	// Execute runs the plugin with the given configuration and returns the
	// inventory it produced.
	Execute(ctx context.Context, config map[string]interface{}) (*InventoryResult, error)
}

// InventoryResult is the raw inventory a plugin produces, before conversion
// into the engine's own inventory type.
type InventoryResult struct {
	Hosts  map[string]*HostRecord
	Groups map[string]*GroupRecord
}

// HostRecord is a single host as reported by a plugin.
type HostRecord struct {
	Name string
	Vars map[string]interface{}
}

// GroupRecord is a single group as reported by a plugin. Children reference
// other groups by name.
type GroupRecord struct {
	Hosts    []string
	Children []string
	Vars     map[string]interface{}
}

// Manager discovers and executes inventory plugins.
type Manager struct {
	pluginDirs []string
}

// NewManager returns a manager that searches the standard plugin locations.
func NewManager() *Manager {
	dirs := []string{
		"/usr/local/lib/drover/plugins",
		"./plugins",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".drover", "plugins"))
	}
	return &Manager{pluginDirs: dirs}
}

// LoadPlugin runs the named inventory plugin. Go plugins take precedence;
// when none is found the manager shells out to ansible-inventory so existing
// Ansible inventory plugins keep working.
func (m *Manager) LoadPlugin(ctx context.Context, pluginName string, config map[string]interface{}) (*InventoryResult, error) {
	common.LogDebug("Loading inventory plugin", map[string]interface{}{
		"plugin": pluginName,
		"config": config,
	})

	result, err := m.loadGoPlugin(ctx, pluginName, config)
	if err == nil {
		return result, nil
	}
	common.LogDebug("Go plugin failed, trying ansible-inventory fallback", map[string]interface{}{
		"plugin": pluginName,
		"error":  err.Error(),
	})

	return m.loadAnsiblePlugin(ctx, pluginName, config)
}

// loadGoPlugin looks for drover-inventory-plugin-<name>.so in the plugin
// directories and executes it.
func (m *Manager) loadGoPlugin(ctx context.Context, pluginName string, config map[string]interface{}) (*InventoryResult, error) {
	for _, dir := range m.pluginDirs {
		pluginPath := filepath.Join(dir, soPrefix+pluginName+".so")
		if _, err := os.Stat(pluginPath); os.IsNotExist(err) {
			continue
		}

		common.LogDebug("Found Go plugin", map[string]interface{}{
			"plugin": pluginName,
			"path":   pluginPath,
		})

		p, err := plugin.Open(pluginPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", pluginPath, err)
		}
		sym, err := p.Lookup("Plugin")
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export 'Plugin' symbol: %w", pluginName, err)
		}
		inventoryPlugin, ok := sym.(InventoryPlugin)
		if !ok {
			return nil, fmt.Errorf("plugin %s does not implement InventoryPlugin", pluginName)
		}
		return inventoryPlugin.Execute(ctx, config)
	}

	return nil, fmt.Errorf("go plugin %s not found in any plugin directory", pluginName)
}

// loadAnsiblePlugin writes the plugin configuration to a temporary inventory
// file and asks ansible-inventory to resolve it.
func (m *Manager) loadAnsiblePlugin(ctx context.Context, pluginName string, config map[string]interface{}) (*InventoryResult, error) {
	ansibleCmd := "ansible-inventory"
	if _, err := exec.LookPath(ansibleCmd); err != nil {
		return nil, fmt.Errorf("ansible-inventory command not found, cannot use Ansible plugins: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "drover-plugin-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			common.LogWarn("Failed to remove plugin temp directory", map[string]interface{}{
				"path":  tempDir,
				"error": err.Error(),
			})
		}
	}()

	doc := map[string]interface{}{"plugin": pluginName}
	for key, value := range config {
		doc[key] = value
	}
	content, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize plugin configuration: %w", err)
	}
	inventoryFile := filepath.Join(tempDir, "plugin_inventory.yml")
	if err := os.WriteFile(inventoryFile, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write plugin inventory file: %w", err)
	}

	cmd := exec.CommandContext(ctx, ansibleCmd, "-i", inventoryFile, "--list")
	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ansible-inventory failed: %s", string(exitError.Stderr))
		}
		return nil, fmt.Errorf("failed to execute ansible-inventory: %w", err)
	}

	result, err := m.parseAnsibleInventoryOutput(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ansible-inventory output: %w", err)
	}

	common.LogDebug("Loaded inventory through ansible-inventory", map[string]interface{}{
		"plugin": pluginName,
		"hosts":  len(result.Hosts),
		"groups": len(result.Groups),
	})
	return result, nil
}

// parseAnsibleInventoryOutput parses `ansible-inventory --list` JSON:
// a _meta section with hostvars plus one key per group.
func (m *Manager) parseAnsibleInventoryOutput(output []byte) (*InventoryResult, error) {
	var rawInventory map[string]interface{}
	if err := json.Unmarshal(output, &rawInventory); err != nil {
		return nil, fmt.Errorf("invalid ansible-inventory JSON: %w", err)
	}

	result := &InventoryResult{
		Hosts:  make(map[string]*HostRecord),
		Groups: make(map[string]*GroupRecord),
	}

	if metaData, ok := rawInventory["_meta"].(map[string]interface{}); ok {
		if hostvars, ok := metaData["hostvars"].(map[string]interface{}); ok {
			for hostName, hostVarsData := range hostvars {
				hostVars, ok := hostVarsData.(map[string]interface{})
				if !ok {
					continue
				}
				result.Hosts[hostName] = &HostRecord{Name: hostName, Vars: hostVars}
			}
		}
	}

	for groupName, groupData := range rawInventory {
		if groupName == "_meta" {
			continue
		}
		groupMap, ok := groupData.(map[string]interface{})
		if !ok {
			continue
		}

		group := &GroupRecord{Vars: make(map[string]interface{})}
		if hostsList, ok := groupMap["hosts"].([]interface{}); ok {
			for _, hostItem := range hostsList {
				hostName, ok := hostItem.(string)
				if !ok {
					continue
				}
				group.Hosts = append(group.Hosts, hostName)
				if _, exists := result.Hosts[hostName]; !exists {
					result.Hosts[hostName] = &HostRecord{
						Name: hostName,
						Vars: make(map[string]interface{}),
					}
				}
			}
		}
		if childrenList, ok := groupMap["children"].([]interface{}); ok {
			for _, childItem := range childrenList {
				if childName, ok := childItem.(string); ok {
					group.Children = append(group.Children, childName)
				}
			}
		}
		if vars, ok := groupMap["vars"].(map[string]interface{}); ok {
			group.Vars = vars
		}
		result.Groups[groupName] = group
	}

	return result, nil
}

// DiscoverPlugins lists the Go inventory plugins found in the plugin
// directories, sorted by name.
func (m *Manager) DiscoverPlugins() ([]string, error) {
	var found []string
	for _, dir := range m.pluginDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, soPrefix) && strings.HasSuffix(name, ".so") {
				found = append(found, strings.TrimSuffix(strings.TrimPrefix(name, soPrefix), ".so"))
			}
		}
	}
	sort.Strings(found)

	common.LogDebug("Discovered inventory plugins", map[string]interface{}{
		"plugins": found,
	})
	return found, nil
}
