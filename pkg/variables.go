package pkg

import (
	"strings"
	"sync"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// VariableManager layers variable sources into per-task scopes. Precedence,
// lowest to highest: inventory global vars, group vars, host vars, play
// vars, persistent facts, nonpersistent facts (registered results and
// set_fact), task vars, extra vars. Magic variables go on top.
type VariableManager struct {
	mu sync.RWMutex

	inventory *Inventory
	playVars  map[string]interface{}
	extraVars map[string]interface{}
	checkMode bool

	persistentFacts    map[string]map[string]interface{}
	nonpersistentFacts map[string]map[string]interface{}

	playHosts []string
}

func NewVariableManager(inventory *Inventory, playVars, extraVars map[string]interface{}, checkMode bool) *VariableManager {
	return &VariableManager{
		inventory:          inventory,
		playVars:           playVars,
		extraVars:          extraVars,
		checkMode:          checkMode,
		persistentFacts:    make(map[string]map[string]interface{}),
		nonpersistentFacts: make(map[string]map[string]interface{}),
	}
}

// ScopeFor builds the full variable scope for one task on one host,
// including magic variables. The result is freshly allocated and safe to
// serialize for a worker.
func (vm *VariableManager) ScopeFor(host *Host, taskVars map[string]interface{}) map[string]interface{} {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	scope := vm.hostScopeLocked(host)
	scope = common.MergeMaps(scope, taskVars, vm.extraVars)

	hostvars := make(map[string]interface{})
	for _, other := range vm.inventory.MatchPattern([]string{"all"}) {
		hostvars[other.Name] = vm.hostScopeLocked(other)
	}

	scope["inventory_hostname"] = host.Name
	scope["inventory_hostname_short"] = strings.SplitN(host.Name, ".", 2)[0]
	scope["hostvars"] = hostvars
	scope["groups"] = vm.inventory.GroupsMap()
	scope["group_names"] = append([]string(nil), host.Groups...)
	scope["ansible_check_mode"] = vm.checkMode
	scope["ansible_play_hosts"] = append([]string(nil), vm.playHosts...)
	return scope
}

// HostVars returns a host's layered variables without magic variables, the
// shape hostvars entries have.
func (vm *VariableManager) HostVars(host *Host) map[string]interface{} {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.hostScopeLocked(host)
}

func (vm *VariableManager) hostScopeLocked(host *Host) map[string]interface{} {
	return common.MergeMaps(
		vm.inventory.InitialFactsForHost(host),
		vm.playVars,
		vm.persistentFacts[host.Name],
		vm.nonpersistentFacts[host.Name],
	)
}

// SetPersistentFacts stores gathered facts for a host.
func (vm *VariableManager) SetPersistentFacts(hostName string, facts map[string]interface{}) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.persistentFacts[hostName] == nil {
		vm.persistentFacts[hostName] = make(map[string]interface{})
	}
	for k, v := range facts {
		vm.persistentFacts[hostName][k] = v
	}
}

// SetNonpersistentFacts stores registered results and set_fact values for a
// host.
func (vm *VariableManager) SetNonpersistentFacts(hostName string, facts map[string]interface{}) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.nonpersistentFacts[hostName] == nil {
		vm.nonpersistentFacts[hostName] = make(map[string]interface{})
	}
	for k, v := range facts {
		vm.nonpersistentFacts[hostName][k] = v
	}
}

// SetNonpersistentFact stores a single fact, the register path.
func (vm *VariableManager) SetNonpersistentFact(hostName, key string, value interface{}) {
	vm.SetNonpersistentFacts(hostName, map[string]interface{}{key: value})
}

// ClearFacts wipes everything learned about a host during the run.
func (vm *VariableManager) ClearFacts(hostName string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.persistentFacts, hostName)
	delete(vm.nonpersistentFacts, hostName)
}

// ResetPlay swaps in the next play's vars and host list. Facts survive play
// boundaries, play vars do not.
func (vm *VariableManager) ResetPlay(playVars map[string]interface{}, hosts []string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.playVars = playVars
	vm.playHosts = append([]string(nil), hosts...)
}

// SetPlayHosts records the hosts still active in the play for the
// ansible_play_hosts magic variable.
func (vm *VariableManager) SetPlayHosts(hosts []string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.playHosts = append([]string(nil), hosts...)
}
