package pkg

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/plugins"
)

// Inventory holds the hosts and groups a run targets. It can change during
// execution through add_host, group_by and refresh_inventory, so all access
// goes through the lock.
type Inventory struct {
	mu   sync.RWMutex
	path string

	// Set when the inventory came from an inventory plugin; Reload then
	// re-executes the plugin instead of re-reading the file.
	plugin       string
	pluginConfig map[string]interface{}

	// Remembered so Reload can decrypt freshly-read vault payloads again.
	vaultPassword string

	Hosts  map[string]*Host
	Groups map[string]*Group
	Vars   map[string]interface{}

	// Entries added at runtime survive a reload from disk.
	dynamicHosts       map[string]*Host
	dynamicMemberships map[string][]string
}

// Host is a single target. Hosts travel to workers as JSON so workers can
// build their own connections.
type Host struct {
	Name    string                 `json:"name"`
	Host    string                 `json:"host"`
	IsLocal bool                   `json:"is_local"`
	Vars    map[string]interface{} `json:"vars,omitempty"`
	Groups  []string               `json:"groups,omitempty"`
}

func (h *Host) String() string {
	return h.Name
}

// Prepare initializes the host's maps and detects local execution.
func (h *Host) Prepare() {
	if h.Vars == nil {
		h.Vars = make(map[string]interface{})
	}
	if h.Host == "localhost" || h.Host == "" {
		h.IsLocal = true
	}
	if conn, ok := h.Vars["ansible_connection"].(string); ok && conn == "local" {
		h.IsLocal = true
	}
}

// InGroup reports whether the host belongs to the named group.
func (h *Host) InGroup(name string) bool {
	return common.StringSliceContains(h.Groups, name)
}

// UnmarshalYAML captures unknown host fields into Vars so inventory files
// can carry arbitrary per-host variables.
func (h *Host) UnmarshalYAML(node *yaml.Node) error {
	var rawData map[string]interface{}
	if err := node.Decode(&rawData); err != nil {
		return err
	}
	if h.Vars == nil {
		h.Vars = make(map[string]interface{})
	}
	for key, value := range rawData {
		if key == "host" {
			if hostStr, ok := value.(string); ok {
				h.Host = hostStr
				continue
			}
		}
		h.Vars[key] = value
	}
	return nil
}

// Group is a named set of hosts with shared variables.
type Group struct {
	Name  string
	Hosts []string
	Vars  map[string]interface{}
}

// rawGroup is the on-disk shape of a group section.
type rawGroup struct {
	Hosts map[string]*Host       `yaml:"hosts"`
	Vars  map[string]interface{} `yaml:"vars"`
}

// LoadInventory reads an inventory file. An empty path yields the implicit
// localhost inventory. A file whose top level carries a `plugin:` key is
// resolved through the inventory plugin manager instead of the YAML parser.
func LoadInventory(invPath string) (*Inventory, error) {
	if invPath == "" {
		return NewImplicitInventory(), nil
	}
	data, err := os.ReadFile(invPath)
	if err != nil {
		return nil, fmt.Errorf("error reading inventory %s: %w", invPath, err)
	}
	if name, config, ok := pluginDirective(data); ok {
		inv, err := loadPluginInventory(name, config)
		if err != nil {
			return nil, fmt.Errorf("error loading inventory plugin %q from %s: %w", name, invPath, err)
		}
		inv.path = invPath
		return inv, nil
	}
	inv, err := ParseInventory(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing inventory %s: %w", invPath, err)
	}
	inv.path = invPath
	return inv, nil
}

// pluginDirective reports whether the inventory document names a plugin.
// All keys besides `plugin:` become the plugin's configuration.
func pluginDirective(data []byte) (string, map[string]interface{}, bool) {
	var rawData map[string]interface{}
	if err := yaml.Unmarshal(data, &rawData); err != nil {
		return "", nil, false
	}
	name, ok := rawData["plugin"].(string)
	if !ok || name == "" {
		return "", nil, false
	}
	config := make(map[string]interface{}, len(rawData)-1)
	for key, value := range rawData {
		if key != "plugin" {
			config[key] = value
		}
	}
	return name, config, true
}

func loadPluginInventory(name string, config map[string]interface{}) (*Inventory, error) {
	result, err := plugins.NewManager().LoadPlugin(context.Background(), name, config)
	if err != nil {
		return nil, err
	}
	inv := inventoryFromPluginResult(result)
	inv.plugin = name
	inv.pluginConfig = config
	return inv, nil
}

// inventoryFromPluginResult converts a plugin's inventory into the engine's
// own representation. Group children flatten into member host lists so
// pattern matching works on parent groups; vars of the `all` group stay on
// that group and apply through InitialFactsForHost.
func inventoryFromPluginResult(result *plugins.InventoryResult) *Inventory {
	inv := newEmptyInventory()

	for hostName, record := range result.Hosts {
		host := &Host{Name: hostName, Host: hostName, Vars: record.Vars}
		if address, ok := record.Vars["ansible_host"].(string); ok {
			host.Host = address
		}
		host.Prepare()
		inv.Hosts[hostName] = host
	}

	for groupName, record := range result.Groups {
		group := &Group{Name: groupName, Vars: record.Vars}
		for _, hostName := range flattenGroupHosts(groupName, result.Groups, make(map[string]bool)) {
			host, ok := inv.Hosts[hostName]
			if !ok {
				host = &Host{Name: hostName, Host: hostName}
				host.Prepare()
				inv.Hosts[hostName] = host
			}
			if groupName != "all" {
				appendUnique(&host.Groups, groupName)
			}
			appendUnique(&group.Hosts, hostName)
		}
		sort.Strings(group.Hosts)
		inv.Groups[groupName] = group
	}
	return inv
}

// flattenGroupHosts collects a group's hosts plus those of its children,
// transitively. The seen map guards against membership cycles.
func flattenGroupHosts(name string, groups map[string]*plugins.GroupRecord, seen map[string]bool) []string {
	if seen[name] {
		return nil
	}
	seen[name] = true
	record, ok := groups[name]
	if !ok {
		return nil
	}
	hosts := append([]string(nil), record.Hosts...)
	for _, child := range record.Children {
		hosts = append(hosts, flattenGroupHosts(child, groups, seen)...)
	}
	return hosts
}

// NewImplicitInventory returns an inventory containing only localhost.
func NewImplicitInventory() *Inventory {
	inv := newEmptyInventory()
	localhost := &Host{
		Name: "localhost",
		Host: "localhost",
		Vars: map[string]interface{}{"ansible_connection": "local"},
	}
	localhost.Prepare()
	inv.Hosts[localhost.Name] = localhost
	return inv
}

func newEmptyInventory() *Inventory {
	return &Inventory{
		Hosts:              make(map[string]*Host),
		Groups:             make(map[string]*Group),
		Vars:               make(map[string]interface{}),
		dynamicHosts:       make(map[string]*Host),
		dynamicMemberships: make(map[string][]string),
	}
}

// ParseInventory parses inventory YAML. Every top-level key except "vars"
// is a group with hosts and vars subkeys.
func ParseInventory(data []byte) (*Inventory, error) {
	var rawData map[string]interface{}
	if err := yaml.Unmarshal(data, &rawData); err != nil {
		return nil, fmt.Errorf("invalid inventory YAML: %w", err)
	}

	inv := newEmptyInventory()
	for key, value := range rawData {
		if key == "vars" {
			if varsData, ok := value.(map[string]interface{}); ok {
				inv.Vars = varsData
			}
			continue
		}

		groupBytes, err := yaml.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal group data for %s: %w", key, err)
		}
		var raw rawGroup
		if err := yaml.Unmarshal(groupBytes, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal group %s: %w", key, err)
		}

		group := &Group{Name: key, Vars: raw.Vars}
		for hostName, host := range raw.Hosts {
			if host == nil {
				host = &Host{}
			}
			host.Name = hostName
			host.Prepare()
			if existing, ok := inv.Hosts[hostName]; ok {
				// Same host listed in several groups: merge vars, keep
				// the first address seen.
				existing.Vars = common.MergeMaps(existing.Vars, host.Vars)
				host = existing
			} else {
				inv.Hosts[hostName] = host
			}
			if key != "all" {
				appendUnique(&host.Groups, key)
			}
			group.Hosts = append(group.Hosts, hostName)
		}
		sort.Strings(group.Hosts)
		inv.Groups[key] = group
	}
	return inv, nil
}

// Reload refreshes the inventory from its source, keeping hosts and
// memberships that were added at runtime. Plugin-backed inventories
// re-execute the plugin; file-backed ones re-read the file.
func (i *Inventory) Reload() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var fresh *Inventory
	switch {
	case i.plugin != "":
		result, err := plugins.NewManager().LoadPlugin(context.Background(), i.plugin, i.pluginConfig)
		if err != nil {
			return fmt.Errorf("error refreshing inventory plugin %q: %w", i.plugin, err)
		}
		fresh = inventoryFromPluginResult(result)
	case i.path == "":
		return nil
	default:
		data, err := os.ReadFile(i.path)
		if err != nil {
			return fmt.Errorf("error reading inventory %s: %w", i.path, err)
		}
		fresh, err = ParseInventory(data)
		if err != nil {
			return fmt.Errorf("error parsing inventory %s: %w", i.path, err)
		}
	}

	i.Hosts = fresh.Hosts
	i.Groups = fresh.Groups
	i.Vars = fresh.Vars
	for name, host := range i.dynamicHosts {
		i.Hosts[name] = host
	}
	for groupName, hostNames := range i.dynamicMemberships {
		for _, hostName := range hostNames {
			i.addHostToGroupLocked(hostName, groupName)
		}
	}
	if err := i.decryptVaultLocked(); err != nil {
		return fmt.Errorf("error decrypting reloaded inventory: %w", err)
	}
	common.LogInfo("Inventory reloaded", map[string]interface{}{
		"path":  i.path,
		"hosts": len(i.Hosts),
	})
	return nil
}

// DecryptVault replaces vault payloads in global, group and host vars with
// their plaintext. The password is remembered so refresh_inventory keeps
// the decryption.
func (i *Inventory) DecryptVault(password string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.vaultPassword = password
	return i.decryptVaultLocked()
}

func (i *Inventory) decryptVaultLocked() error {
	if i.vaultPassword == "" {
		return nil
	}
	walked, err := DecryptVaultedValues(i.Vars, i.vaultPassword)
	if err != nil {
		return fmt.Errorf("inventory vars: %w", err)
	}
	i.Vars = walked.(map[string]interface{})
	for _, group := range i.Groups {
		if group.Vars == nil {
			continue
		}
		walked, err := DecryptVaultedValues(group.Vars, i.vaultPassword)
		if err != nil {
			return fmt.Errorf("group %s vars: %w", group.Name, err)
		}
		group.Vars = walked.(map[string]interface{})
	}
	for _, host := range i.Hosts {
		if host.Vars == nil {
			continue
		}
		walked, err := DecryptVaultedValues(host.Vars, i.vaultPassword)
		if err != nil {
			return fmt.Errorf("host %s vars: %w", host.Name, err)
		}
		host.Vars = walked.(map[string]interface{})
	}
	return nil
}

// GetHostByName returns a host by name.
func (i *Inventory) GetHostByName(name string) (*Host, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	host, ok := i.Hosts[name]
	if !ok {
		return nil, fmt.Errorf("host '%s' not found in inventory", name)
	}
	return host, nil
}

// MatchPattern resolves host patterns to hosts, sorted by name. A pattern is
// a host name, a group name, "all", or a glob. Colon-separated patterns
// union their matches.
func (i *Inventory) MatchPattern(patterns []string) []*Host {
	i.mu.RLock()
	defer i.mu.RUnlock()

	seen := make(map[string]bool)
	var matched []*Host
	add := func(host *Host) {
		if !seen[host.Name] {
			seen[host.Name] = true
			matched = append(matched, host)
		}
	}

	for _, pattern := range patterns {
		for _, sub := range strings.Split(pattern, ":") {
			sub = strings.TrimSpace(sub)
			if sub == "" {
				continue
			}
			if sub == "all" || sub == "*" {
				for _, host := range i.Hosts {
					add(host)
				}
				continue
			}
			if group, ok := i.Groups[sub]; ok {
				for _, hostName := range group.Hosts {
					if host, ok := i.Hosts[hostName]; ok {
						add(host)
					}
				}
				continue
			}
			if host, ok := i.Hosts[sub]; ok {
				add(host)
				continue
			}
			for name, host := range i.Hosts {
				if ok, _ := path.Match(sub, name); ok {
					add(host)
				}
			}
		}
	}

	sort.Slice(matched, func(a, b int) bool { return matched[a].Name < matched[b].Name })
	return matched
}

// FilterByLimit restricts already-matched hosts to those also matching the
// limit pattern, preserving order. Commas and colons both separate limit
// sub-patterns. An empty limit keeps everything.
func (i *Inventory) FilterByLimit(hosts []*Host, limit string) []*Host {
	if limit == "" {
		return hosts
	}
	patterns := strings.Split(limit, ",")
	allowed := make(map[string]bool)
	for _, host := range i.MatchPattern(patterns) {
		allowed[host.Name] = true
	}
	kept := make([]*Host, 0, len(hosts))
	for _, host := range hosts {
		if allowed[host.Name] {
			kept = append(kept, host)
		}
	}
	return kept
}

// AddHost adds or replaces a host at runtime. The host survives inventory
// reloads.
func (i *Inventory) AddHost(name string, hostVars map[string]interface{}, groups []string) *Host {
	i.mu.Lock()
	defer i.mu.Unlock()

	address := name
	if rawAddr, ok := hostVars["ansible_host"].(string); ok {
		address = rawAddr
	}
	host := &Host{Name: name, Host: address, Vars: common.CopyMap(hostVars)}
	host.Prepare()
	i.Hosts[name] = host
	i.dynamicHosts[name] = host
	for _, groupName := range groups {
		i.addHostToGroupLocked(name, groupName)
		i.recordDynamicMembership(name, groupName)
	}
	return host
}

// AddHostToGroup adds a host to a group at runtime, creating the group if
// needed. The membership survives inventory reloads.
func (i *Inventory) AddHostToGroup(hostName, groupName string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.Hosts[hostName]; !ok {
		return fmt.Errorf("host '%s' not found in inventory", hostName)
	}
	i.addHostToGroupLocked(hostName, groupName)
	i.recordDynamicMembership(hostName, groupName)
	return nil
}

func (i *Inventory) recordDynamicMembership(hostName, groupName string) {
	members := i.dynamicMemberships[groupName]
	if !common.StringSliceContains(members, hostName) {
		i.dynamicMemberships[groupName] = append(members, hostName)
	}
}

func (i *Inventory) addHostToGroupLocked(hostName, groupName string) {
	group, ok := i.Groups[groupName]
	if !ok {
		group = &Group{Name: groupName}
		i.Groups[groupName] = group
	}
	appendUnique(&group.Hosts, hostName)
	sort.Strings(group.Hosts)
	if host, ok := i.Hosts[hostName]; ok {
		appendUnique(&host.Groups, groupName)
	}
}

// InitialFactsForHost layers inventory variables for a host: global vars,
// then group vars, then host vars.
func (i *Inventory) InitialFactsForHost(host *Host) map[string]interface{} {
	i.mu.RLock()
	defer i.mu.RUnlock()

	facts := make(map[string]interface{})
	for k, v := range i.Vars {
		facts[k] = v
	}
	// The "all" group never appears in host.Groups; its vars apply to
	// every host at the lowest group precedence.
	if all, ok := i.Groups["all"]; ok {
		for k, v := range all.Vars {
			facts[k] = v
		}
	}
	groupNames := append([]string(nil), host.Groups...)
	sort.Strings(groupNames)
	for _, groupName := range groupNames {
		group, ok := i.Groups[groupName]
		if !ok {
			continue
		}
		for k, v := range group.Vars {
			facts[k] = v
		}
	}
	for k, v := range host.Vars {
		facts[k] = v
	}
	return facts
}

// GroupsMap builds the value of the "groups" magic variable: group name to
// sorted host names, with "all" covering every host.
func (i *Inventory) GroupsMap() map[string][]string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	groups := make(map[string][]string, len(i.Groups)+1)
	all := make([]string, 0, len(i.Hosts))
	for name := range i.Hosts {
		all = append(all, name)
	}
	sort.Strings(all)
	groups["all"] = all
	for name, group := range i.Groups {
		if name == "all" {
			continue
		}
		groups[name] = append([]string(nil), group.Hosts...)
	}
	return groups
}

func appendUnique(list *[]string, s string) {
	if !common.StringSliceContains(*list, s) {
		*list = append(*list, s)
	}
}
