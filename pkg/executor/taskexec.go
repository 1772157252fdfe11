package executor

import (
	"fmt"
	"strings"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
	"github.com/AlexanderGrooff/drover/pkg/runtime"
)

// connectionVars are host variables that change how a host is reached.
// A fact update touching one of them invalidates the cached connection.
var connectionVars = map[string]struct{}{
	"ansible_host":                 {},
	"ansible_user":                 {},
	"ansible_port":                 {},
	"ansible_ssh_private_key_file": {},
}

// TaskExecutor runs tasks inside a worker process. It owns the worker's
// connections and a replica of dynamic host state fed by broadcast updates,
// and turns every request into exactly one classified TaskResult.
type TaskExecutor struct {
	cfg   *config.Config
	conns *pkg.ConnectionCache
	hosts map[string]*pkg.Host
}

func NewTaskExecutor(cfg *config.Config) *TaskExecutor {
	return &TaskExecutor{
		cfg:   cfg,
		conns: pkg.NewConnectionCache(cfg),
		hosts: make(map[string]*pkg.Host),
	}
}

// Close tears down all connections held by this executor.
func (e *TaskExecutor) Close() {
	e.conns.Close()
}

// ApplyUpdate folds a coordinator broadcast into the worker's host replica.
// Updates arrive before the task frame that depends on them.
func (e *TaskExecutor) ApplyUpdate(update *BroadcastUpdate) {
	if update == nil {
		return
	}
	switch update.Kind {
	case UpdateAddHost:
		if update.Host != nil {
			host := update.Host
			host.Prepare()
			e.hosts[host.Name] = host
		}
	case UpdateAddGroup:
		host, ok := e.hosts[update.HostName]
		if ok && update.Group != "" && !common.StringSliceContains(host.Groups, update.Group) {
			host.Groups = append(host.Groups, update.Group)
		}
	case UpdateSetFact:
		host, ok := e.hosts[update.HostName]
		if !ok {
			return
		}
		if host.Vars == nil {
			host.Vars = make(map[string]interface{})
		}
		redial := false
		for key, value := range update.Facts {
			if _, connRelevant := connectionVars[key]; connRelevant {
				redial = true
			}
			host.Vars[key] = value
		}
		if redial {
			e.conns.Drop(update.HostName)
		}
	case UpdateDropConnection:
		e.conns.Drop(update.HostName)
	default:
		common.LogWarn("Ignoring broadcast update of unknown kind", map[string]interface{}{
			"kind": update.Kind,
		})
	}
}

// rememberHost records the freshest identity seen for a host name. Task
// frames carry hosts without vars, so an existing replica keeps its
// accumulated variables and only the address fields refresh.
func (e *TaskExecutor) rememberHost(host *pkg.Host) {
	if host == nil {
		return
	}
	known, ok := e.hosts[host.Name]
	if !ok {
		host.Prepare()
		e.hosts[host.Name] = host
		return
	}
	known.Host = host.Host
	known.IsLocal = host.IsLocal
}

// hydrateConnectionVars copies connection-relevant variables from the task
// scope onto the host replica. Frames carry hosts without vars; the merged
// scope is where ansible_user and friends arrive. Mid-play changes travel
// as set_fact broadcasts, which also drop the stale connection.
func (e *TaskExecutor) hydrateConnectionVars(hostName string, scope map[string]interface{}) {
	host, ok := e.hosts[hostName]
	if !ok {
		return
	}
	for key := range connectionVars {
		if value, ok := scope[key]; ok {
			host.Vars[key] = value
		}
	}
}

// hydrateDelegateVars fills a delegate replica's connection variables from
// the hostvars magic variable, the only part of the task's scope that knows
// about other hosts.
func (e *TaskExecutor) hydrateDelegateVars(hostName string, scope map[string]interface{}) {
	hostvars, ok := scope["hostvars"].(map[string]interface{})
	if !ok {
		return
	}
	vars, ok := hostvars[hostName].(map[string]interface{})
	if !ok {
		return
	}
	host, ok := e.hosts[hostName]
	if !ok {
		return
	}
	for key := range connectionVars {
		if value, ok := vars[key]; ok {
			host.Vars[key] = value
		}
	}
}

// resolveHost prefers the replica entry over the given object, so fact
// updates that changed connection variables take effect.
func (e *TaskExecutor) resolveHost(host *pkg.Host) *pkg.Host {
	if known, ok := e.hosts[host.Name]; ok {
		return known
	}
	return host
}

// Execute runs one request to completion and classifies the outcome. It
// never returns an error: every failure mode becomes a result status, so
// the coordinator's pending count always balances.
func (e *TaskExecutor) Execute(req *TaskRequest, scope map[string]interface{}) *pkg.TaskResult {
	task := req.Task
	e.rememberHost(req.Host)
	e.hydrateConnectionVars(req.Host.Name, scope)

	result := &pkg.TaskResult{
		HostName:   req.Host.Name,
		TaskUUID:   task.UUID,
		TaskFields: task.Fields(),
	}

	if task.Loop != nil {
		return e.executeLoop(req, task, scope, result)
	}

	payload, execErr := e.executeItem(req, task, scope)
	return e.finalize(result, task, payload, execErr)
}

// executeLoop expands the loop and runs the task once per item. Per-item
// payloads are collected under "results"; the aggregate carries the
// combined changed/failed/skipped verdict.
func (e *TaskExecutor) executeLoop(req *TaskRequest, task *pkg.Task, scope map[string]interface{}, result *pkg.TaskResult) *pkg.TaskResult {
	items, err := expandLoop(task, scope)
	if err != nil {
		return e.finalize(result, task, nil, err)
	}
	if len(items) == 0 {
		result.Status = pkg.StatusSkipped
		result.OriginalResult = map[string]interface{}{
			"changed":        false,
			"skipped":        true,
			"msg":            "All items skipped",
			"skipped_reason": "No items in the list",
			"results":        []interface{}{},
		}
		return result
	}

	loopVar := task.EffectiveLoopVar()
	subResults := make([]interface{}, 0, len(items))
	anyChanged := false
	anyFailed := false
	allSkipped := true
	var firstErr error

	for _, item := range items {
		itemScope := common.CopyMap(scope)
		itemScope[loopVar] = item

		payload, execErr := e.executeItem(req, task, itemScope)
		if execErr != nil && runtime.IsUnreachable(execErr) {
			// The host is gone, iterating further cannot succeed.
			return e.finalize(result, task, map[string]interface{}{"results": subResults}, execErr)
		}
		if payload == nil {
			payload = make(map[string]interface{})
		}
		payload[loopVar] = item
		payload["ansible_loop_var"] = loopVar
		if execErr != nil {
			payload["failed"] = true
			if _, ok := payload["msg"]; !ok {
				payload["msg"] = execErr.Error()
			}
			anyFailed = true
			if firstErr == nil {
				firstErr = execErr
			}
		}
		if !truthy(payload["skipped"]) {
			allSkipped = false
		}
		if truthy(payload["changed"]) {
			anyChanged = true
		}
		subResults = append(subResults, payload)
	}

	aggregate := map[string]interface{}{
		"results": subResults,
		"changed": anyChanged,
	}
	var aggregateErr error
	switch {
	case anyFailed:
		aggregate["msg"] = "One or more items failed"
		aggregateErr = firstErr
	case allSkipped:
		aggregate["skipped"] = true
		aggregate["msg"] = "All items skipped"
	default:
		aggregate["msg"] = "All items completed"
	}
	return e.finalize(result, task, aggregate, aggregateErr)
}

// executeItem runs a single invocation: guard, arg templating, module
// execution and the failed_when/changed_when overrides. The returned error
// marks the invocation failed; the payload is valid either way.
func (e *TaskExecutor) executeItem(req *TaskRequest, task *pkg.Task, scope map[string]interface{}) (map[string]interface{}, error) {
	met, err := pkg.EvaluateGuards(task.When, scope)
	if err != nil {
		return nil, fmt.Errorf("evaluating when condition: %w", err)
	}
	if !met {
		return map[string]interface{}{
			"changed":     false,
			"skipped":     true,
			"skip_reason": "Conditional result was False",
		}, nil
	}

	module, ok := pkg.GetModule(task.Action)
	if !ok {
		return nil, fmt.Errorf("unknown module %q", task.Action)
	}

	if req.Play.CheckMode && !pkg.SupportsCheckMode(module) {
		return map[string]interface{}{
			"changed":     false,
			"skipped":     true,
			"skip_reason": fmt.Sprintf("module %s does not support check mode", task.Action),
		}, nil
	}

	templatedArgs, err := pkg.TemplateValue(task.Args, scope)
	if err != nil {
		return nil, fmt.Errorf("templating arguments for %q: %w", task.String(), err)
	}
	input, err := pkg.DecodeArgs(module, templatedArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %q: %w", task.String(), err)
	}

	connHost := req.Host
	if req.DelegateHost != nil {
		e.rememberHost(req.DelegateHost)
		e.hydrateDelegateVars(req.DelegateHost.Name, scope)
		connHost = req.DelegateHost
	}
	conn, err := e.conns.Get(e.resolveHost(connHost))
	if err != nil {
		return nil, err
	}

	execCtx := &pkg.ExecContext{
		Conn:       conn,
		Scope:      scope,
		Config:     e.cfg,
		CheckMode:  req.Play.CheckMode,
		DiffMode:   req.Play.DiffMode,
		Become:     task.Become,
		BecomeUser: task.BecomeUser,
	}
	output, execErr := module.Execute(input, execCtx)
	if execErr != nil && runtime.IsUnreachable(execErr) {
		return nil, execErr
	}

	payload := make(map[string]interface{})
	if output != nil {
		for key, value := range output.AsFacts() {
			payload[key] = value
		}
		payload["changed"] = output.Changed()
		if req.Play.DiffMode {
			if differ, ok := output.(pkg.DiffProducer); ok {
				if diff := differ.Diff(); diff != "" {
					payload["diff"] = diff
				}
			}
		}
	}

	return e.applyResultGuards(task, scope, payload, execErr)
}

// applyResultGuards evaluates failed_when and changed_when against the
// produced payload. failed_when replaces the module's own failure verdict
// in both directions; changed_when only runs for results that did not fail.
func (e *TaskExecutor) applyResultGuards(task *pkg.Task, scope map[string]interface{}, payload map[string]interface{}, execErr error) (map[string]interface{}, error) {
	if len(task.FailedWhen) == 0 && len(task.ChangedWhen) == 0 {
		return payload, execErr
	}

	evalScope := common.CopyMap(scope)
	if task.Register != "" {
		evalScope[task.Register] = payload
	}

	if len(task.FailedWhen) > 0 {
		failed, err := pkg.EvaluateGuards(task.FailedWhen, evalScope)
		if err != nil {
			return payload, fmt.Errorf("evaluating failed_when condition: %w", err)
		}
		payload["failed_when_result"] = failed
		if failed {
			payload["failed"] = true
			if execErr == nil {
				execErr = fmt.Errorf("failed_when condition %q met", strings.Join(task.FailedWhen, " and "))
			}
		} else {
			payload["failed"] = false
			execErr = nil
		}
	}

	if len(task.ChangedWhen) > 0 && execErr == nil {
		changed, err := pkg.EvaluateGuards(task.ChangedWhen, evalScope)
		if err != nil {
			return payload, fmt.Errorf("evaluating changed_when condition: %w", err)
		}
		payload["changed"] = changed
	}

	return payload, execErr
}

// finalize folds the execution outcome into the result's wire status. The
// ignore flags are baked in here, on the worker side, so the coordinator
// never re-inspects task flags.
func (e *TaskExecutor) finalize(result *pkg.TaskResult, task *pkg.Task, payload map[string]interface{}, execErr error) *pkg.TaskResult {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	switch {
	case execErr != nil && runtime.IsUnreachable(execErr):
		payload["unreachable"] = true
		payload["msg"] = execErr.Error()
		if task.IgnoreUnreachable {
			result.Status = pkg.StatusUnreachableIgnored
		} else {
			result.Status = pkg.StatusUnreachable
		}
	case execErr != nil:
		payload["failed"] = true
		if _, ok := payload["msg"]; !ok {
			payload["msg"] = execErr.Error()
		}
		result.Changed = truthy(payload["changed"])
		switch {
		case task.IgnoreErrors:
			result.Status = pkg.StatusFailedIgnored
		case task.AnyErrorsFatal:
			result.Status = pkg.StatusFailedAll
		default:
			result.Status = pkg.StatusFailed
		}
	case truthy(payload["skipped"]):
		result.Status = pkg.StatusSkipped
	default:
		result.Status = pkg.StatusOK
		result.Changed = truthy(payload["changed"])
	}
	result.OriginalResult = payload
	return result
}

// expandLoop turns the task's loop into concrete items. A string loop is a
// template that must produce a list; a list loop has each element templated
// individually.
func expandLoop(task *pkg.Task, scope map[string]interface{}) ([]interface{}, error) {
	switch loop := task.Loop.(type) {
	case string:
		value, err := pkg.TemplateValue(loop, scope)
		if err != nil {
			return nil, fmt.Errorf("templating loop for %q: %w", task.String(), err)
		}
		items, ok := common.InterfaceToSlice(value)
		if !ok {
			return nil, fmt.Errorf("loop for %q templated to %T, expected a list", task.String(), value)
		}
		return items, nil
	case []interface{}:
		items := make([]interface{}, 0, len(loop))
		for _, raw := range loop {
			item, err := pkg.TemplateValue(raw, scope)
			if err != nil {
				return nil, fmt.Errorf("templating loop item for %q: %w", task.String(), err)
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("loop for %q must be a list or a template, got %T", task.String(), task.Loop)
	}
}

func truthy(v interface{}) bool {
	return pkg.IsTruthy(v)
}
