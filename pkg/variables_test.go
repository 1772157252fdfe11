package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layeredInventory = `
vars:
  layer: global
  global_only: present
web:
  vars:
    layer: group
    group_only: present
  hosts:
    web1.example.com:
      host: localhost
      layer: host
      host_only: present
    web2:
      host: localhost
`

func layeredHost(t *testing.T) (*Inventory, *Host) {
	t.Helper()
	inv, err := ParseInventory([]byte(layeredInventory))
	require.NoError(t, err)
	host, err := inv.GetHostByName("web1.example.com")
	require.NoError(t, err)
	return inv, host
}

func TestVariableManager_Precedence(t *testing.T) {
	inv, host := layeredHost(t)

	vm := NewVariableManager(inv, nil, nil, false)
	scope := vm.ScopeFor(host, nil)
	assert.Equal(t, "host", scope["layer"], "host vars beat group and global vars")
	assert.Equal(t, "present", scope["global_only"])
	assert.Equal(t, "present", scope["group_only"])
	assert.Equal(t, "present", scope["host_only"])

	web2, err := inv.GetHostByName("web2")
	require.NoError(t, err)
	assert.Equal(t, "group", vm.ScopeFor(web2, nil)["layer"], "group vars beat global vars")

	vm = NewVariableManager(inv, map[string]interface{}{"layer": "play"}, nil, false)
	assert.Equal(t, "play", vm.ScopeFor(host, nil)["layer"], "play vars beat host vars")

	vm.SetPersistentFacts(host.Name, map[string]interface{}{"layer": "gathered"})
	assert.Equal(t, "gathered", vm.ScopeFor(host, nil)["layer"], "gathered facts beat play vars")

	vm.SetNonpersistentFact(host.Name, "layer", "registered")
	assert.Equal(t, "registered", vm.ScopeFor(host, nil)["layer"], "registered results beat gathered facts")

	taskVars := map[string]interface{}{"layer": "task"}
	assert.Equal(t, "task", vm.ScopeFor(host, taskVars)["layer"], "task vars beat facts")

	vm = NewVariableManager(inv, nil, map[string]interface{}{"layer": "extra"}, false)
	assert.Equal(t, "extra", vm.ScopeFor(host, taskVars)["layer"], "extra vars beat everything")
}

func TestVariableManager_MagicVariables(t *testing.T) {
	inv, host := layeredHost(t)
	vm := NewVariableManager(inv, nil, nil, false)
	vm.SetPlayHosts([]string{"web1.example.com", "web2"})

	scope := vm.ScopeFor(host, nil)
	assert.Equal(t, "web1.example.com", scope["inventory_hostname"])
	assert.Equal(t, "web1", scope["inventory_hostname_short"])
	assert.Equal(t, []string{"web"}, scope["group_names"])
	assert.Equal(t, false, scope["ansible_check_mode"])
	assert.Equal(t, []string{"web1.example.com", "web2"}, scope["ansible_play_hosts"])

	groups, ok := scope["groups"].(map[string][]string)
	require.True(t, ok)
	assert.Equal(t, []string{"web1.example.com", "web2"}, groups["all"])
	assert.Equal(t, []string{"web1.example.com", "web2"}, groups["web"])

	hostvars, ok := scope["hostvars"].(map[string]interface{})
	require.True(t, ok)
	web2vars, ok := hostvars["web2"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "group", web2vars["layer"])
	assert.NotContains(t, web2vars, "inventory_hostname")
}

func TestVariableManager_CheckModeFlag(t *testing.T) {
	inv, host := layeredHost(t)
	vm := NewVariableManager(inv, nil, nil, true)
	assert.Equal(t, true, vm.ScopeFor(host, nil)["ansible_check_mode"])
}

func TestVariableManager_HostVarsOmitsMagic(t *testing.T) {
	inv, host := layeredHost(t)
	vm := NewVariableManager(inv, nil, nil, false)

	vars := vm.HostVars(host)
	assert.Equal(t, "host", vars["layer"])
	assert.NotContains(t, vars, "inventory_hostname")
	assert.NotContains(t, vars, "hostvars")
}

func TestVariableManager_ClearFacts(t *testing.T) {
	inv, host := layeredHost(t)
	vm := NewVariableManager(inv, nil, nil, false)

	vm.SetPersistentFacts(host.Name, map[string]interface{}{"layer": "gathered"})
	vm.SetNonpersistentFact(host.Name, "layer", "registered")
	require.Equal(t, "registered", vm.ScopeFor(host, nil)["layer"])

	vm.ClearFacts(host.Name)
	assert.Equal(t, "host", vm.ScopeFor(host, nil)["layer"])
}

func TestVariableManager_ResetPlay(t *testing.T) {
	inv, host := layeredHost(t)
	vm := NewVariableManager(inv, map[string]interface{}{"first_play": true}, nil, false)
	vm.SetNonpersistentFact(host.Name, "remembered", "yes")

	vm.ResetPlay(map[string]interface{}{"second_play": true}, []string{host.Name})

	scope := vm.ScopeFor(host, nil)
	assert.NotContains(t, scope, "first_play")
	assert.Equal(t, true, scope["second_play"])
	assert.Equal(t, "yes", scope["remembered"], "facts survive play boundaries")
	assert.Equal(t, []string{host.Name}, scope["ansible_play_hosts"])
}

func TestVariableManager_ScopeIsIsolated(t *testing.T) {
	inv, host := layeredHost(t)
	vm := NewVariableManager(inv, nil, nil, false)

	scope := vm.ScopeFor(host, nil)
	scope["layer"] = "mutated"

	assert.Equal(t, "host", vm.ScopeFor(host, nil)["layer"])
}
