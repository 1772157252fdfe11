package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
)

// Run result flags, combined bitwise across plays.
const (
	RunOK               = 0
	RunError            = 1
	RunFailedHosts      = 2
	RunUnreachableHosts = 4
)

// Strategy drives one play to completion over a worker pool.
type Strategy interface {
	Run(playCtx *pkg.PlayContext) (int, error)
}

// NewStrategy selects the strategy implementation by name.
func NewStrategy(name string, base *StrategyBase) (Strategy, error) {
	switch name {
	case "", "linear":
		return &LinearStrategy{StrategyBase: base}, nil
	case "free":
		return &FreeStrategy{StrategyBase: base}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q, must be one of: %v", name, config.ValidStrategies)
}

// metaGated lists the meta actions whose when: condition is honored. The
// rest warn and run unconditionally.
var metaGated = map[string]bool{
	"clear_facts":       true,
	"clear_host_errors": true,
	"end_play":          true,
	"end_host":          true,
}

// StrategyBase carries the machinery both strategies share: dispatching
// tasks to workers, draining the result queue, handler flushes and meta
// actions. All of it runs on the coordinator goroutine; only the result
// queue itself is crossed by worker readers.
type StrategyBase struct {
	cfg       *config.Config
	play      *pkg.Play
	inventory *pkg.Inventory
	varMgr    *pkg.VariableManager
	iterator  *pkg.PlayIterator
	handlers  *pkg.HandlerTracker
	stats     *pkg.AggregateStats
	display   *pkg.Display
	queue     *ResultQueue
	pool      *Pool
	cache     *QueuedTaskCache

	// pendingResults counts dispatches whose results have not been fully
	// processed yet. Every queue goes through queueTask or executeMeta and
	// every drain through handleResult, so the counter never drifts.
	pendingResults int
	dispatched     int
	cursor         int

	// broadcast accumulates coordinator-side events (facts, new hosts,
	// new groups, dropped connections) that workers replay before their
	// next task. Each worker tracks its own high-water mark into it.
	broadcast []*BroadcastUpdate

	// blockedHosts have a task in flight. failedHosts finished the play in
	// a failed state. unreachableHosts could not be contacted.
	// removedHosts no longer receive tasks or fact fan-out.
	blockedHosts     map[string]struct{}
	failedHosts      map[string]struct{}
	unreachableHosts map[string]struct{}
	removedHosts     map[string]struct{}

	// runOnceDispatched remembers run_once tasks that already ran so the
	// free strategy can advance the remaining hosts past them.
	runOnceDispatched map[string]struct{}

	// status mirrors progress for the HTTP server. May be nil.
	status *statusBoard

	tempDir string
}

func NewStrategyBase(cfg *config.Config, play *pkg.Play, inventory *pkg.Inventory, varMgr *pkg.VariableManager,
	iterator *pkg.PlayIterator, handlers *pkg.HandlerTracker, stats *pkg.AggregateStats, display *pkg.Display,
	queue *ResultQueue, pool *Pool) *StrategyBase {
	tempDir := cfg.Worker.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &StrategyBase{
		cfg:               cfg,
		play:              play,
		inventory:         inventory,
		varMgr:            varMgr,
		iterator:          iterator,
		handlers:          handlers,
		stats:             stats,
		display:           display,
		queue:             queue,
		pool:              pool,
		cache:             NewQueuedTaskCache(),
		blockedHosts:      make(map[string]struct{}),
		failedHosts:       make(map[string]struct{}),
		unreachableHosts:  make(map[string]struct{}),
		removedHosts:      make(map[string]struct{}),
		runOnceDispatched: make(map[string]struct{}),
		tempDir:           tempDir,
	}
}

// hostsLeft returns the play's hosts that still receive tasks, in play
// order. Unreachable hosts and hosts ended by end_host are out.
func (s *StrategyBase) hostsLeft() []*pkg.Host {
	hosts := make([]*pkg.Host, 0, len(s.iterator.Hosts()))
	for _, host := range s.iterator.Hosts() {
		if s.isRemoved(host.Name) {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

func (s *StrategyBase) isRemoved(hostName string) bool {
	_, removed := s.removedHosts[hostName]
	return removed
}

func (s *StrategyBase) isBlocked(hostName string) bool {
	_, blocked := s.blockedHosts[hostName]
	return blocked
}

// syncPlayHosts refreshes ansible_play_hosts after the active host set
// changed.
func (s *StrategyBase) syncPlayHosts() {
	hosts := s.hostsLeft()
	names := make([]string, 0, len(hosts))
	for _, host := range hosts {
		names = append(names, host.Name)
	}
	s.varMgr.SetPlayHosts(names)
}

// resolveThrottle templates the task's throttle down to a concurrency
// bound. Zero means unthrottled.
func resolveThrottle(task *pkg.Task, scope map[string]interface{}) (int, error) {
	if task.Throttle == nil {
		return 0, nil
	}
	resolved, err := pkg.TemplateValue(task.Throttle, scope)
	if err != nil {
		return 0, fmt.Errorf("templating throttle for task %q: %w", task.String(), err)
	}
	throttle := 0
	switch v := resolved.(type) {
	case int:
		throttle = v
	case int64:
		throttle = int(v)
	case float64:
		throttle = int(v)
	case string:
		throttle, err = strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid throttle %q for task %q", v, task.String())
		}
	default:
		return 0, fmt.Errorf("invalid throttle %v for task %q", resolved, task.String())
	}
	if throttle < 0 {
		return 0, fmt.Errorf("throttle must not be negative, got %d for task %q", throttle, task.String())
	}
	return throttle, nil
}

// queueTask resolves the task's variable scope, picks a worker round-robin
// and sends the task frame, preceded by any broadcast updates the worker
// has not seen yet. The scope is written to a temp file the worker deletes
// after loading.
func (s *StrategyBase) queueTask(host *pkg.Host, task *pkg.Task, playCtx *pkg.PlayContext) error {
	scope := s.varMgr.ScopeFor(host, task.Vars)

	throttle, err := resolveThrottle(task, scope)
	if err != nil {
		return err
	}

	if err := s.cache.Insert(host, task); err != nil {
		return err
	}

	varsFile, err := s.writeVarsFile(scope)
	if err != nil {
		s.cache.Remove(host.Name, task.UUID)
		return fmt.Errorf("persisting variables for task %q: %w", task.String(), err)
	}

	req := &TaskRequest{Host: wireHost(host), Task: task, Play: playCtx, VarsFile: varsFile}
	if task.DelegateTo != "" {
		req.DelegateHost = wireHost(s.resolveDelegate(task.DelegateTo, scope))
	}

	workerIdx := s.nextWorker(throttle, task.RunOnce)
	worker := s.pool.Worker(workerIdx)

	for _, update := range s.pendingUpdates(worker) {
		if err := worker.Send(&RequestFrame{Kind: frameKindUpdate, Update: update}); err != nil {
			return s.dispatchFailed(host, task, varsFile, err)
		}
	}
	if err := worker.Send(&RequestFrame{Kind: frameKindTask, Task: req}); err != nil {
		return s.dispatchFailed(host, task, varsFile, err)
	}

	s.blockedHosts[host.Name] = struct{}{}
	s.dispatched++
	s.pendingResults++
	pkg.Inc("drover_tasks_dispatched_total", map[string]string{"worker": strconv.Itoa(workerIdx)})
	pkg.SetGauge("drover_pending_results", float64(s.pendingResults))
	if s.status != nil {
		s.status.notePending(s.pendingResults)
	}
	common.LogDebug("Dispatched task to worker", map[string]interface{}{
		"task":   task.String(),
		"host":   host.Name,
		"worker": workerIdx,
	})
	return nil
}

// nextWorker advances the round-robin cursor and returns the worker index
// for this dispatch. A throttled task only rotates through the first
// throttle workers, bounding its concurrency. run_once tasks are
// single-flight anyway.
func (s *StrategyBase) nextWorker(throttle int, runOnce bool) int {
	window := s.pool.Size()
	if throttle > 0 && throttle < window && !runOnce {
		window = throttle
	}
	if s.cursor >= window {
		s.cursor = 0
	}
	idx := s.cursor
	s.cursor = (s.cursor + 1) % window
	return idx
}

// dispatchFailed unwinds a dispatch whose send did not go through. Shutdown
// errors are swallowed: the pool is being torn down and the task will never
// produce a result, so it must not count as pending.
func (s *StrategyBase) dispatchFailed(host *pkg.Host, task *pkg.Task, varsFile string, err error) error {
	s.cache.Remove(host.Name, task.UUID)
	if varsFile != "" {
		if removeErr := os.Remove(varsFile); removeErr != nil && !os.IsNotExist(removeErr) {
			common.LogWarn("Failed to remove variable file for undispatched task", map[string]interface{}{
				"path":  varsFile,
				"error": removeErr.Error(),
			})
		}
	}
	if isShutdownError(err) {
		common.LogDebug("Worker request stream closed during dispatch, dropping task", map[string]interface{}{
			"task": task.String(),
			"host": host.Name,
		})
		return nil
	}
	return fmt.Errorf("dispatching task %q for host %q: %w", task.String(), host.Name, err)
}

// pendingUpdates returns broadcast updates the worker has not received and
// advances its high-water mark.
func (s *StrategyBase) pendingUpdates(worker *WorkerHandle) []*BroadcastUpdate {
	if worker.updateSeen >= len(s.broadcast) {
		return nil
	}
	updates := s.broadcast[worker.updateSeen:]
	worker.updateSeen = len(s.broadcast)
	return updates
}

func (s *StrategyBase) appendBroadcast(update *BroadcastUpdate) {
	s.broadcast = append(s.broadcast, update)
}

func (s *StrategyBase) writeVarsFile(scope map[string]interface{}) (string, error) {
	data, err := json.Marshal(scope)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(s.tempDir, fmt.Sprintf("vars-%05d-*.json", s.dispatched))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// wireHost copies the fields a worker needs to reach a host. Vars and
// groups stay behind: the scope file already carries the merged values, and
// re-serializing growing per-host state on every dispatch is wasted work.
func wireHost(host *pkg.Host) *pkg.Host {
	if host == nil {
		return nil
	}
	return &pkg.Host{Name: host.Name, Host: host.Host, IsLocal: host.IsLocal}
}

// resolveDelegate maps a delegate_to value onto a connectable host. Unknown
// names become ad-hoc hosts dialed by name, matching how implicit localhost
// delegation works.
func (s *StrategyBase) resolveDelegate(pattern string, scope map[string]interface{}) *pkg.Host {
	name, err := pkg.TemplateString(pattern, scope)
	if err != nil || name == "" {
		common.LogWarn("Failed to resolve delegate_to, using it verbatim", map[string]interface{}{
			"delegate_to": pattern,
		})
		name = pattern
	}
	if host, err := s.inventory.GetHostByName(name); err == nil {
		return host
	}
	host := &pkg.Host{Name: name, Host: name}
	host.Prepare()
	return host
}

// processPendingResults drains at most one result from the queue. It
// returns the processed results so strategies can react to them, and (nil,
// nil) when the queue was empty.
func (s *StrategyBase) processPendingResults() ([]*pkg.TaskResult, error) {
	result, err := s.queue.TryGet()
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if err := s.handleResult(result); err != nil {
		return nil, err
	}
	return []*pkg.TaskResult{result}, nil
}

// handleResult is the single place a result's consequences are applied:
// stats, iterator failure marks, fact registration, handler notifications,
// side effects and display. The dispatch cache lookup is mandatory; a
// result with no matching dispatch means the pipeline lost track and the
// run aborts rather than miscounting.
func (s *StrategyBase) handleResult(result *pkg.TaskResult) error {
	hostName := result.HostName
	entry, ok := s.cache.Get(hostName, result.TaskUUID)
	if !ok {
		return fmt.Errorf("received a result for host %q and task %s that was never dispatched", hostName, result.TaskUUID)
	}
	fields := result.TaskFields

	if fields.Register != "" {
		cleaned := pkg.StripInternalKeys(result.OriginalResult)
		for _, target := range s.resultTargets(entry.host, fields) {
			s.varMgr.SetNonpersistentFact(target.Name, fields.Register, cleaned)
		}
	}

	switch result.Status {
	case pkg.StatusOK:
		s.stats.Increment("ok", hostName)
		if result.Changed {
			s.stats.Increment("changed", hostName)
		}
		s.applySideEffects(entry.host, fields, result)
	case pkg.StatusFailedIgnored:
		s.stats.Increment("ok", hostName)
		s.stats.Increment("ignored", hostName)
	case pkg.StatusFailed:
		s.recordFailure(hostName)
	case pkg.StatusFailedAll:
		s.recordFailure(hostName)
		s.failAllHosts(hostName)
	case pkg.StatusSkipped:
		s.stats.Increment("skipped", hostName)
	case pkg.StatusUnreachable:
		s.stats.Increment("dark", hostName)
		s.unreachableHosts[hostName] = struct{}{}
		s.removedHosts[hostName] = struct{}{}
		s.syncPlayHosts()
	case pkg.StatusUnreachableIgnored:
		s.stats.Increment("dark", hostName)
	default:
		return fmt.Errorf("result for host %q carries unknown status %q", hostName, result.Status)
	}

	if len(fields.Notify) > 0 && result.Changed && result.Status == pkg.StatusOK {
		for _, topic := range fields.Notify {
			if s.handlers.Notify(topic, hostName) {
				pkg.Inc("drover_handler_notifications_total", map[string]string{"handler": topic})
			}
		}
	}

	s.display.Result(result)

	s.cache.Remove(hostName, result.TaskUUID)
	delete(s.blockedHosts, hostName)
	s.pendingResults--
	pkg.SetGauge("drover_pending_results", float64(s.pendingResults))
	if s.status != nil {
		s.status.noteResult(result, s.pendingResults)
	}
	pkg.Inc("drover_results_processed_total", map[string]string{"status": string(result.Status)})
	pkg.Observe("drover_task_duration_seconds", time.Since(entry.dispatchedAt).Seconds(), map[string]string{
		"module": entry.task.Action,
	})
	return nil
}

// recordFailure marks the host failed and counts it. A host whose iterator
// lands in a rescue section counts as rescued, not failed; a host with no
// rescue left runs to complete and becomes a terminal failure.
func (s *StrategyBase) recordFailure(hostName string) {
	s.iterator.MarkHostFailed(hostName)
	if s.iterator.RunStateFor(hostName) == pkg.StateRescue {
		s.stats.Increment("rescued", hostName)
	} else {
		s.stats.Increment("failures", hostName)
	}
	s.noteTerminalFailure(hostName)
}

func (s *StrategyBase) noteTerminalFailure(hostName string) {
	if s.iterator.IsFailed(hostName) && s.iterator.RunStateFor(hostName) == pkg.StateComplete {
		s.failedHosts[hostName] = struct{}{}
	}
}

// failAllHosts propagates an any_errors_fatal failure to every other live
// host.
func (s *StrategyBase) failAllHosts(origin string) {
	for _, host := range s.iterator.Hosts() {
		if host.Name == origin {
			continue
		}
		if _, dark := s.unreachableHosts[host.Name]; dark {
			continue
		}
		if s.isRemoved(host.Name) {
			continue
		}
		s.iterator.MarkHostFailed(host.Name)
		s.noteTerminalFailure(host.Name)
	}
}

// resultTargets returns the hosts a result's facts and registrations apply
// to. run_once results fan out to every live host.
func (s *StrategyBase) resultTargets(origin *pkg.Host, fields pkg.TaskFields) []*pkg.Host {
	if !fields.RunOnce {
		return []*pkg.Host{origin}
	}
	targets := make([]*pkg.Host, 0, len(s.iterator.Hosts()))
	for _, host := range s.iterator.Hosts() {
		if _, dark := s.unreachableHosts[host.Name]; dark {
			continue
		}
		if s.isRemoved(host.Name) {
			continue
		}
		targets = append(targets, host)
	}
	return targets
}

// applySideEffects walks a successful result's payload for the coordinator
// directives modules embed: gathered facts, custom stats, dynamic hosts and
// groups. Loop results carry them per item.
func (s *StrategyBase) applySideEffects(origin *pkg.Host, fields pkg.TaskFields, result *pkg.TaskResult) {
	items := result.SubResults()
	if items == nil {
		items = []map[string]interface{}{result.OriginalResult}
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		s.applyItemEffects(origin, fields, item)
	}
}

func (s *StrategyBase) applyItemEffects(origin *pkg.Host, fields pkg.TaskFields, item map[string]interface{}) {
	if facts, ok := item["ansible_facts"].(map[string]interface{}); ok && len(facts) > 0 {
		persistent := isFactGathering(fields.Action) || pkg.IsTruthy(item[pkg.InternalKeyPrefix+"facts_cacheable"])
		for _, target := range s.resultTargets(origin, fields) {
			if persistent {
				s.varMgr.SetPersistentFacts(target.Name, facts)
			} else {
				s.varMgr.SetNonpersistentFacts(target.Name, facts)
			}
			s.appendBroadcast(&BroadcastUpdate{Kind: UpdateSetFact, HostName: target.Name, Facts: facts})
		}
	}

	if stats, ok := item["ansible_stats"].(map[string]interface{}); ok {
		s.applyCustomStats(origin, fields, stats)
	}

	if spec, ok := item["add_host"].(map[string]interface{}); ok {
		s.applyAddHost(spec)
	}

	if spec, ok := item["add_group"].(map[string]interface{}); ok {
		s.applyAddGroup(origin, spec)
	}
}

func (s *StrategyBase) applyCustomStats(origin *pkg.Host, fields pkg.TaskFields, stats map[string]interface{}) {
	data, _ := stats["data"].(map[string]interface{})
	if len(data) == 0 {
		return
	}
	hosts := []string{""}
	if pkg.IsTruthy(stats["per_host"]) {
		targets := s.resultTargets(origin, fields)
		hosts = make([]string, 0, len(targets))
		for _, target := range targets {
			hosts = append(hosts, target.Name)
		}
	}
	aggregate := pkg.IsTruthy(stats["aggregate"])
	for _, host := range hosts {
		if aggregate {
			s.stats.UpdateCustomStats(data, host)
		} else {
			s.stats.SetCustomStats(data, host)
		}
	}
}

func (s *StrategyBase) applyAddHost(spec map[string]interface{}) {
	name, _ := spec["host_name"].(string)
	if name == "" {
		common.LogWarn("Ignoring add_host result without a host name", nil)
		return
	}
	groups := toStringSlice(spec["groups"])
	hostVars, _ := spec["host_vars"].(map[string]interface{})
	host := s.inventory.AddHost(name, hostVars, groups)
	s.appendBroadcast(&BroadcastUpdate{Kind: UpdateAddHost, Host: host})
	common.LogDebug("Added host to inventory", map[string]interface{}{
		"host":   name,
		"groups": groups,
	})
}

func (s *StrategyBase) applyAddGroup(origin *pkg.Host, spec map[string]interface{}) {
	for _, group := range toStringSlice(spec["groups"]) {
		if err := s.inventory.AddHostToGroup(origin.Name, group); err != nil {
			common.LogWarn("Failed to add host to group", map[string]interface{}{
				"host":  origin.Name,
				"group": group,
				"error": err.Error(),
			})
			continue
		}
		s.appendBroadcast(&BroadcastUpdate{Kind: UpdateAddGroup, HostName: origin.Name, Group: group})
	}
}

// isFactGathering reports whether a module's ansible_facts persist across
// plays regardless of the cacheable flag.
func isFactGathering(action string) bool {
	return action == "setup" || action == "ansible.builtin.setup" || action == "gather_facts"
}

func toStringSlice(v interface{}) []string {
	items, ok := common.InterfaceToSlice(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}

// waitOnPendingResults blocks until every dispatched task has reported
// back, polling the queue and watching for dead workers. A worker that
// exits with results pending would hang the run forever, so it aborts
// instead.
func (s *StrategyBase) waitOnPendingResults() ([]*pkg.TaskResult, error) {
	var results []*pkg.TaskResult
	for s.pendingResults > 0 {
		processed, err := s.processPendingResults()
		if err != nil {
			return results, err
		}
		if len(processed) > 0 {
			results = append(results, processed...)
			continue
		}
		if dead := s.pool.DeadWorker(); dead != nil {
			pkg.Inc("drover_worker_failures_total", map[string]string{"worker": strconv.Itoa(dead.id)})
			return results, fmt.Errorf("worker %d exited with %d results still pending", dead.id, s.pendingResults)
		}
		time.Sleep(s.cfg.PollInterval)
	}
	return results, nil
}

// forceHandlers resolves the per-play override against the global setting.
func (s *StrategyBase) forceHandlers() bool {
	if s.play.ForceHandlers != nil {
		return *s.play.ForceHandlers
	}
	return s.cfg.ForceHandlers
}

// runHandlers flushes pending handler notifications. Handlers run in
// declaration order; each runs on the hosts that notified it, minus hosts
// that failed (unless handlers are forced) or were removed.
func (s *StrategyBase) runHandlers(playCtx *pkg.PlayContext) error {
	if !s.handlers.AnyNotified() {
		return nil
	}
	for _, handler := range s.handlers.Handlers() {
		notified := s.handlers.NotifiedHosts(handler.UUID)
		if len(notified) == 0 {
			continue
		}
		if err := s.doHandlerRun(handler, notified, playCtx); err != nil {
			return err
		}
	}
	return nil
}

func (s *StrategyBase) doHandlerRun(handler *pkg.Task, notified []string, playCtx *pkg.PlayContext) error {
	s.display.HandlerBanner(handler)
	force := s.forceHandlers()
	dispatched := 0
	for _, hostName := range notified {
		if s.isRemoved(hostName) {
			s.handlers.ClearHost(handler.UUID, hostName)
			continue
		}
		if s.iterator.IsFailed(hostName) && !force {
			common.LogDebug("Skipping handler on failed host", map[string]interface{}{
				"handler": handler.String(),
				"host":    hostName,
			})
			continue
		}
		host, err := s.inventory.GetHostByName(hostName)
		if err != nil {
			common.LogWarn("Notified host is gone from inventory, skipping handler", map[string]interface{}{
				"handler": handler.String(),
				"host":    hostName,
			})
			continue
		}
		if err := s.queueTask(host, handler, playCtx); err != nil {
			return err
		}
		dispatched++
		if handler.RunOnce {
			break
		}
	}
	if dispatched > 0 {
		if _, err := s.waitOnPendingResults(); err != nil {
			return err
		}
	}
	s.handlers.ClearHandler(handler.UUID)
	return nil
}

// executeMeta handles a meta task on the coordinator. The outcome is fed
// through the dispatch cache and result queue so meta tasks show up in
// stats and callbacks like any other task.
func (s *StrategyBase) executeMeta(host *pkg.Host, task *pkg.Task, playCtx *pkg.PlayContext) error {
	action := task.MetaAction
	conditionMet := true
	if len(task.When) > 0 {
		if metaGated[action] {
			scope := s.varMgr.ScopeFor(host, task.Vars)
			met, err := pkg.EvaluateGuards(task.When, scope)
			if err != nil {
				return fmt.Errorf("evaluating condition for meta task %q: %w", action, err)
			}
			conditionMet = met
		} else {
			common.LogWarn("Conditions are not supported for this meta action, ignoring", map[string]interface{}{
				"action": action,
			})
		}
	}

	skipped := false
	var msg string
	switch action {
	case "noop":
		msg = "noop"
	case "flush_handlers":
		if err := s.runHandlers(playCtx); err != nil {
			return err
		}
		msg = "ran handlers"
	case "refresh_inventory":
		if err := s.inventory.Reload(); err != nil {
			return fmt.Errorf("refreshing inventory: %w", err)
		}
		msg = "inventory successfully refreshed"
	case "clear_facts":
		if conditionMet {
			for _, target := range s.iterator.Hosts() {
				s.varMgr.ClearFacts(target.Name)
			}
			msg = "facts cleared"
		} else {
			skipped = true
		}
	case "clear_host_errors":
		if conditionMet {
			for _, target := range s.iterator.Hosts() {
				s.iterator.ClearHostErrors(target.Name)
				delete(s.failedHosts, target.Name)
				delete(s.unreachableHosts, target.Name)
				delete(s.removedHosts, target.Name)
			}
			s.syncPlayHosts()
			msg = "cleared host errors"
		} else {
			skipped = true
		}
	case "end_play":
		if conditionMet {
			s.iterator.EndPlay()
			msg = "ending play"
		} else {
			skipped = true
		}
	case "end_host":
		if conditionMet {
			s.iterator.EndHost(host.Name)
			s.removedHosts[host.Name] = struct{}{}
			s.syncPlayHosts()
			msg = "ending play for " + host.Name
		} else {
			skipped = true
			msg = "end_host conditional evaluated to False, continuing execution for " + host.Name
		}
	case "reset_connection":
		s.appendBroadcast(&BroadcastUpdate{Kind: UpdateDropConnection, HostName: host.Name})
		msg = "reset connection"
	default:
		return fmt.Errorf("invalid meta action %q", action)
	}

	payload := map[string]interface{}{}
	status := pkg.StatusOK
	if skipped {
		status = pkg.StatusSkipped
		payload["skipped"] = true
		payload["skip_reason"] = action + " conditional evaluated to False"
		if msg != "" {
			payload["msg"] = msg
		}
	} else {
		payload["changed"] = false
		payload["msg"] = msg
	}

	if err := s.cache.Insert(host, task); err != nil {
		return err
	}
	s.pendingResults++
	pkg.SetGauge("drover_pending_results", float64(s.pendingResults))
	if s.status != nil {
		s.status.notePending(s.pendingResults)
	}
	s.queue.Put(&pkg.TaskResult{
		HostName:       host.Name,
		TaskUUID:       task.UUID,
		Status:         status,
		OriginalResult: payload,
		TaskFields:     task.Fields(),
	})
	return nil
}

// finish drains stragglers, runs the final handler flush and summarizes
// the play into a run result bitmask.
func (s *StrategyBase) finish(playCtx *pkg.PlayContext) (int, error) {
	if _, err := s.waitOnPendingResults(); err != nil {
		return RunError, err
	}
	if err := s.runHandlers(playCtx); err != nil {
		return RunError, err
	}
	return s.playResult(), nil
}

func (s *StrategyBase) playResult() int {
	result := RunOK
	for _, host := range s.iterator.Hosts() {
		if _, dark := s.unreachableHosts[host.Name]; dark {
			result |= RunUnreachableHosts
			continue
		}
		if _, failed := s.failedHosts[host.Name]; failed {
			result |= RunFailedHosts
			continue
		}
		if s.iterator.IsFailed(host.Name) {
			result |= RunFailedHosts
		}
	}
	return result
}
