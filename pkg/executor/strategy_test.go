package executor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/config"
	_ "github.com/AlexanderGrooff/drover/pkg/modules"
)

// testInventory has two local hosts so playbooks execute without any real
// connections, plus group and host vars for scope assertions.
const testInventory = `
web:
  vars:
    tier: frontend
  hosts:
    h1:
      host: localhost
      role: primary
    h2:
      host: localhost
      role: replica
`

type playbookRun struct {
	code   int
	err    error
	out    string
	runner *Runner
	inv    *pkg.Inventory
}

func runPlaybook(t *testing.T, cfg *config.Config, inventoryYAML, playbookYAML string) *playbookRun {
	t.Helper()
	inv, err := pkg.ParseInventory([]byte(inventoryYAML))
	require.NoError(t, err)
	plays, err := pkg.ParsePlaybook([]byte(playbookYAML))
	require.NoError(t, err)

	var buf bytes.Buffer
	runner := NewRunner(cfg, inv, pkg.NewDisplayTo("plain", &buf), "")
	code, runErr := runner.Run(plays)
	return &playbookRun{code: code, err: runErr, out: buf.String(), runner: runner, inv: inv}
}

func assertOrdered(t *testing.T, out, first, second string) {
	t.Helper()
	i := strings.Index(out, first)
	j := strings.Index(out, second)
	require.NotEqual(t, -1, i, "missing %q in output", first)
	require.NotEqual(t, -1, j, "missing %q in output", second)
	assert.Less(t, i, j, "%q should appear before %q", first, second)
}

func TestNewStrategy(t *testing.T) {
	strategy, err := NewStrategy("", &StrategyBase{})
	require.NoError(t, err)
	assert.IsType(t, &LinearStrategy{}, strategy)

	strategy, err = NewStrategy("free", &StrategyBase{})
	require.NoError(t, err)
	assert.IsType(t, &FreeStrategy{}, strategy)

	_, err = NewStrategy("bogus", &StrategyBase{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown strategy "bogus"`)
}

func TestResolveThrottle(t *testing.T) {
	tests := []struct {
		name     string
		throttle interface{}
		scope    map[string]interface{}
		want     int
		wantErr  string
	}{
		{name: "unset", throttle: nil, want: 0},
		{name: "integer", throttle: 3, want: 3},
		{name: "numeric string", throttle: "2", want: 2},
		{name: "templated", throttle: "{{ lanes }}", scope: map[string]interface{}{"lanes": 4}, want: 4},
		{name: "garbage", throttle: "abc", wantErr: "invalid throttle"},
		{name: "negative", throttle: -1, wantErr: "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &pkg.Task{Name: tt.name, Throttle: tt.throttle}
			scope := tt.scope
			if scope == nil {
				scope = map[string]interface{}{}
			}
			got, err := resolveThrottle(task, scope)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextWorker_RoundRobin(t *testing.T) {
	s := &StrategyBase{pool: &Pool{workers: make([]*WorkerHandle, 3)}}

	counts := map[int]int{}
	for i := 0; i < 10; i++ {
		counts[s.nextWorker(0, false)]++
	}
	assert.Equal(t, map[int]int{0: 4, 1: 3, 2: 3}, counts)
}

func TestNextWorker_ThrottleBoundsWorkers(t *testing.T) {
	s := &StrategyBase{pool: &Pool{workers: make([]*WorkerHandle, 5)}}

	used := map[int]struct{}{}
	for i := 0; i < 12; i++ {
		used[s.nextWorker(2, false)] = struct{}{}
	}
	assert.Len(t, used, 2, "a throttle of 2 never touches a third worker")

	// run_once tasks are single-flight and ignore the throttle window.
	s.cursor = 4
	assert.Equal(t, 4, s.nextWorker(2, true))
}

func TestNextWorker_CursorWrapsWhenWindowShrinks(t *testing.T) {
	s := &StrategyBase{pool: &Pool{workers: make([]*WorkerHandle, 5)}}
	s.cursor = 4

	assert.Equal(t, 0, s.nextWorker(2, false))
	assert.Equal(t, 1, s.nextWorker(2, false))
	assert.Equal(t, 0, s.nextWorker(2, false))
}

func TestWireHost_StripsVarsAndGroups(t *testing.T) {
	host := &pkg.Host{
		Name:   "web1",
		Host:   "203.0.113.7",
		Vars:   map[string]interface{}{"ansible_user": "deploy", "tier": "frontend"},
		Groups: []string{"web", "production"},
	}

	wire := wireHost(host)
	require.NotNil(t, wire)
	assert.Equal(t, "web1", wire.Name)
	assert.Equal(t, "203.0.113.7", wire.Host)
	assert.Empty(t, wire.Vars, "per-host state stays out of task frames")
	assert.Empty(t, wire.Groups)

	assert.Nil(t, wireHost(nil))
}

func TestLinearStrategy_LockstepOrdering(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: lockstep
  hosts: web
  gather_facts: false
  tasks:
    - name: greet
      probe:
        msg: "{{ role }}@{{ tier }}"
    - name: confirm
      probe:
        msg: done
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assert.Contains(t, run.out, "PLAY [lockstep]")
	assert.Contains(t, run.out, "TASK [greet]")
	assert.Contains(t, run.out, "TASK [confirm]")

	// Host and group vars resolve per host.
	assert.Contains(t, run.out, "ok: [h1] => primary@frontend")
	assert.Contains(t, run.out, "ok: [h2] => replica@frontend")

	// Both hosts finish a task before the next one starts.
	assertOrdered(t, run.out, "ok: [h1] => primary@frontend", "TASK [confirm]")
	assertOrdered(t, run.out, "ok: [h2] => replica@frontend", "TASK [confirm]")
	assert.Contains(t, run.out, "ok: [h1] => done")
	assert.Contains(t, run.out, "ok: [h2] => done")

	assert.Contains(t, run.out, "PLAY RECAP")
	assert.Contains(t, run.out, "h1 : ok=2")
	assert.Contains(t, run.out, "h2 : ok=2")
	assert.Equal(t, 2, run.runner.Stats().Summarize("h1").Ok)

	status := run.runner.Status()
	assert.Equal(t, "lockstep", status.Play)
	assert.Equal(t, "linear", status.Strategy)
	assert.Zero(t, status.PendingResults)
	assert.Equal(t, "ok", status.Hosts["h1"])
	assert.Equal(t, "ok", status.Hosts["h2"])
}

func TestLinearStrategy_CleanRunAccounting(t *testing.T) {
	inventory := `
nodes:
  hosts:
    n1:
      host: localhost
    n2:
      host: localhost
    n3:
      host: localhost
`
	run := runPlaybook(t, newTestConfig(t), inventory, `
- name: clean sweep
  hosts: nodes
  gather_facts: false
  tasks:
    - name: ping
      probe:
        msg: pong
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	for _, host := range []string{"n1", "n2", "n3"} {
		summary := run.runner.Stats().Summarize(host)
		assert.Equal(t, 1, summary.Ok, host)
		assert.Zero(t, summary.Changed, host)
		assert.Zero(t, summary.Failures, host)
	}
	assert.Zero(t, run.runner.Status().PendingResults)
}

func TestLinearStrategy_FailureStopsHost(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: partial failure
  hosts: web
  gather_facts: false
  tasks:
    - name: gate
      probe:
        msg: boom
        fail: "{{ inventory_hostname == 'h2' }}"
    - name: continue
      probe:
        msg: onward
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunFailedHosts, run.code)

	assert.Contains(t, run.out, "failed: [h2] => (boom)")
	assert.Contains(t, run.out, "ok: [h1] => onward")
	assert.NotContains(t, run.out, "ok: [h2] => onward")

	assert.Equal(t, 1, run.runner.Stats().Summarize("h2").Failures)
	assert.Equal(t, 2, run.runner.Stats().Summarize("h1").Ok)
	assert.Equal(t, "failed", run.runner.Status().Hosts["h2"])
}

func TestLinearStrategy_UnreachableHostExitCode(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: dark host
  hosts: web
  gather_facts: false
  tasks:
    - name: reach
      probe:
        msg: gone
        unreachable: "{{ inventory_hostname == 'h2' }}"
    - name: continue
      probe:
        msg: onward
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunUnreachableHosts, run.code)

	assert.Contains(t, run.out, "unreachable: [h2]")
	assert.Contains(t, run.out, "ok: [h1] => onward")
	assert.NotContains(t, run.out, "ok: [h2] => onward")
	assert.Equal(t, 1, run.runner.Stats().Summarize("h2").Unreachable)
}

func TestLinearStrategy_IgnoredFailuresKeepHostAlive(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: tolerant
  hosts: web
  gather_facts: false
  tasks:
    - name: flaky
      probe:
        msg: boom
        fail: true
      ignore_errors: true
    - name: after
      probe:
        msg: onward
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assert.Contains(t, run.out, "failed: [h1] => (ignored error: boom)")
	assert.Contains(t, run.out, "ok: [h1] => onward")

	summary := run.runner.Stats().Summarize("h1")
	assert.Equal(t, 2, summary.Ok, "an ignored failure still counts as ok")
	assert.Equal(t, 1, summary.Ignored)
	assert.Zero(t, summary.Failures)
}

func TestLinearStrategy_FatalErrorAbortsAllHosts(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: critical section
  hosts: web
  gather_facts: false
  tasks:
    - name: keystone
      probe:
        msg: down
        fail: "{{ inventory_hostname == 'h1' }}"
      any_errors_fatal: true
    - name: never
      probe:
        msg: past the gate
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunFailedHosts, run.code)

	assert.Contains(t, run.out, "failed: [h1] => (down)")
	// The healthy host is aborted too.
	assert.NotContains(t, run.out, "past the gate")
}

func TestLinearStrategy_RescueRecoversFailedHost(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: guarded
  hosts: web
  gather_facts: false
  tasks:
    - name: transaction
      block:
        - name: risky
          probe:
            msg: boom
            fail: true
      rescue:
        - name: recover
          probe:
            msg: rescuing
      always:
        - name: cleanup
          probe:
            msg: tidy
    - name: after
      probe:
        msg: onward
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code, "a rescued failure does not fail the run")

	assertOrdered(t, run.out, "failed: [h1] => (boom)", "ok: [h1] => rescuing")
	assertOrdered(t, run.out, "ok: [h1] => rescuing", "ok: [h1] => tidy")
	assertOrdered(t, run.out, "ok: [h1] => tidy", "ok: [h1] => onward")

	summary := run.runner.Stats().Summarize("h1")
	assert.Equal(t, 1, summary.Rescued)
	assert.Zero(t, summary.Failures)
	assert.Contains(t, run.out, "rescued=1")
}

func TestLinearStrategy_AlwaysRunsAfterUnrescuedFailure(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: no rescue
  hosts: web
  gather_facts: false
  tasks:
    - name: transaction
      block:
        - name: risky
          probe:
            msg: boom
            fail: true
      always:
        - name: cleanup
          probe:
            msg: tidy
    - name: after
      probe:
        msg: onward
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunFailedHosts, run.code)

	// The always section still ran, the rest of the play did not.
	assert.Contains(t, run.out, "ok: [h1] => tidy")
	assert.NotContains(t, run.out, "onward")
	assert.Equal(t, 1, run.runner.Stats().Summarize("h1").Failures)
}

func TestLinearStrategy_RegisterFeedsConditions(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: chained
  hosts: web
  gather_facts: false
  tasks:
    - name: produce
      probe:
        msg: payload
      register: out
    - name: consume
      probe:
        msg: "saw {{ out.msg }}"
      when: out
    - name: missing var
      probe:
        msg: never
      when: absent_var is defined
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assert.Contains(t, run.out, "ok: [h1] => saw payload")
	assert.Contains(t, run.out, "ok: [h2] => saw payload")
	assert.Contains(t, run.out, "skipped: [h1]")
	assert.NotContains(t, run.out, "never")
	assert.Equal(t, 1, run.runner.Stats().Summarize("h1").Skipped)
}

func TestLinearStrategy_SetFactFlowsToLaterTasks(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: facts
  hosts: web
  gather_facts: false
  tasks:
    - name: remember color
      set_fact:
        color: crimson
    - name: echo color
      probe:
        msg: "{{ color }}"
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assert.Contains(t, run.out, "changed: [h1]")
	assert.Contains(t, run.out, "ok: [h1] => crimson")
	assert.Contains(t, run.out, "ok: [h2] => crimson")
}

func TestLinearStrategy_RunOnceFansOutResults(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: compute once
  hosts: web
  gather_facts: false
  tasks:
    - name: expensive
      probe:
        msg: computed
        facts:
          shared_token: s3cr3t
      run_once: true
      register: once_out
    - name: use everywhere
      probe:
        msg: "{{ shared_token }}/{{ once_out.msg }}"
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	// The task executed on exactly one host.
	assert.Equal(t, 1, strings.Count(run.out, "=> computed"))

	// Its facts and registered result reached every host.
	assert.Contains(t, run.out, "ok: [h1] => s3cr3t/computed")
	assert.Contains(t, run.out, "ok: [h2] => s3cr3t/computed")
}

func TestLinearStrategy_ThrottledTaskCompletes(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: throttled
  hosts: web
  gather_facts: false
  tasks:
    - name: serialized
      probe:
        msg: slow path
      throttle: 1
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)
	assert.Contains(t, run.out, "ok: [h1] => slow path")
	assert.Contains(t, run.out, "ok: [h2] => slow path")
}

func TestLinearStrategy_HandlersRunOnceAfterTasks(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: handled
  hosts: web
  gather_facts: false
  handlers:
    - name: restart service
      probe:
        msg: restarted
  tasks:
    - name: change config
      probe:
        msg: updated
        changed: true
      notify: restart service
    - name: steady state
      probe:
        msg: same
      notify: restart service
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assert.Contains(t, run.out, "RUNNING HANDLER [restart service]")
	assert.Equal(t, 2, strings.Count(run.out, "=> restarted"), "each notifying host runs the handler once")

	// An unchanged result does not notify; handlers run after all tasks.
	assertOrdered(t, run.out, "ok: [h1] => same", "RUNNING HANDLER [restart service]")
}

func TestLinearStrategy_HandlersSkipFailedHosts(t *testing.T) {
	playbook := `
- name: handled
  hosts: web
  gather_facts: false
  handlers:
    - name: restart
      probe:
        msg: restarted
  tasks:
    - name: change
      probe:
        msg: updated
        changed: true
      notify: restart
    - name: break one
      probe:
        msg: boom
        fail: "{{ inventory_hostname == 'h2' }}"
`
	run := runPlaybook(t, newTestConfig(t), testInventory, playbook)
	require.NoError(t, run.err)
	assert.Equal(t, RunFailedHosts, run.code)
	assert.Equal(t, 1, strings.Count(run.out, "=> restarted"), "failed hosts do not run handlers")

	forced := strings.Replace(playbook, "gather_facts: false", "gather_facts: false\n  force_handlers: true", 1)
	run = runPlaybook(t, newTestConfig(t), testInventory, forced)
	require.NoError(t, run.err)
	assert.Equal(t, 2, strings.Count(run.out, "=> restarted"), "force_handlers runs them on failed hosts too")
}

func TestLinearStrategy_FlushHandlersMeta(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: mid-play flush
  hosts: web
  gather_facts: false
  handlers:
    - name: reload
      probe:
        msg: reloaded
  tasks:
    - name: change
      probe:
        msg: updated
        changed: true
      notify: reload
    - name: flush now
      meta: flush_handlers
    - name: after
      probe:
        msg: onward
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assertOrdered(t, run.out, "RUNNING HANDLER [reload]", "ok: [h1] => onward")
	assert.Equal(t, 2, strings.Count(run.out, "=> reloaded"), "the flush consumes the notifications")
	assert.Contains(t, run.out, "=> ran handlers")
}

func TestLinearStrategy_EndHostConditional(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: selective exit
  hosts: web
  gather_facts: false
  tasks:
    - name: maybe leave
      meta: end_host
      when: "inventory_hostname == 'h2'"
    - name: remainers
      probe:
        msg: still here
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code, "end_host is not a failure")

	assert.Contains(t, run.out, "skipped: [h1]")
	assert.Contains(t, run.out, "ok: [h2] => ending play for h2")
	assert.Contains(t, run.out, "ok: [h1] => still here")
	assert.NotContains(t, run.out, "ok: [h2] => still here")
	assert.Equal(t, 1, run.runner.Stats().Summarize("h1").Skipped)
}

func TestLinearStrategy_EndPlayStopsEveryone(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: early exit
  hosts: web
  gather_facts: false
  tasks:
    - name: stop
      meta: end_play
    - name: never
      probe:
        msg: dead end
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)
	assert.Contains(t, run.out, "=> ending play")
	assert.NotContains(t, run.out, "dead end")
}

func TestLinearStrategy_ClearHostErrorsForgivesFailures(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: forgiving
  hosts: web
  gather_facts: false
  tasks:
    - name: stumble
      probe:
        msg: trip
        fail: "{{ inventory_hostname == 'h2' }}"
    - name: forgive
      meta: clear_host_errors
    - name: go on
      probe:
        msg: onward
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code, "cleared errors do not fail the run")

	assert.Contains(t, run.out, "failed: [h2] => (trip)")
	assert.Contains(t, run.out, "ok: [h1] => cleared host errors")
	assert.Contains(t, run.out, "ok: [h1] => onward")
	// The forgiven host already completed the play; it does not resume.
	assert.NotContains(t, run.out, "ok: [h2] => onward")
}

func TestLinearStrategy_CustomStatsInRecap(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: measured
  hosts: web
  gather_facts: false
  tasks:
    - name: record
      set_stats:
        data:
          deploys: 1
      run_once: true
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)
	assert.Contains(t, run.out, "CUSTOM STATS")
	assert.Contains(t, run.out, "RUN:")
	assert.Contains(t, run.out, "deploys:1")
}

func TestFreeStrategy_CompletesAllHosts(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: sprint
  hosts: web
  gather_facts: false
  strategy: free
  tasks:
    - name: one
      probe:
        msg: first
    - name: two
      probe:
        msg: second
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	// Banners print once per task no matter how hosts interleave.
	assert.Equal(t, 1, strings.Count(run.out, "TASK [one]"))
	assert.Equal(t, 1, strings.Count(run.out, "TASK [two]"))

	assert.Contains(t, run.out, "ok: [h1] => second")
	assert.Contains(t, run.out, "ok: [h2] => second")
	assert.Equal(t, 2, run.runner.Stats().Summarize("h1").Ok)
	assert.Equal(t, 2, run.runner.Stats().Summarize("h2").Ok)
	assert.Equal(t, "free", run.runner.Status().Strategy)
}

func TestFreeStrategy_FailureIsolation(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: sprint
  hosts: web
  gather_facts: false
  strategy: free
  tasks:
    - name: gate
      probe:
        msg: boom
        fail: "{{ inventory_hostname == 'h2' }}"
    - name: after
      probe:
        msg: past
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunFailedHosts, run.code)
	assert.Contains(t, run.out, "failed: [h2] => (boom)")
	assert.Contains(t, run.out, "ok: [h1] => past")
	assert.NotContains(t, run.out, "ok: [h2] => past")
}

func TestRunner_SkipsPlayWithoutHosts(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: ghosts
  hosts: nosuchgroup
  gather_facts: false
  tasks:
    - name: phantom
      probe:
        msg: boo
- name: real
  hosts: web
  gather_facts: false
  tasks:
    - name: solid
      probe:
        msg: here
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)
	assert.NotContains(t, run.out, "PLAY [ghosts]")
	assert.NotContains(t, run.out, "boo")
	assert.Contains(t, run.out, "PLAY [real]")
	assert.Contains(t, run.out, "ok: [h1] => here")
}

func TestRunner_LimitFiltersHosts(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Limit = "h1"
	run := runPlaybook(t, cfg, testInventory, `
- name: limited
  hosts: web
  gather_facts: false
  tasks:
    - name: solo
      probe:
        msg: here
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)
	assert.Contains(t, run.out, "ok: [h1] => here")
	assert.NotContains(t, run.out, "[h2]")
}

func TestRunner_CheckModeSkipsUnsupportedModules(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.CheckMode = true
	run := runPlaybook(t, cfg, testInventory, `
- name: dry run
  hosts: web
  gather_facts: false
  tasks:
    - name: mutate
      probe:
        msg: would change
    - name: look
      debug:
        msg: inspected
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assert.Contains(t, run.out, "skipped: [h1]")
	assert.NotContains(t, run.out, "would change")
	assert.Contains(t, run.out, "ok: [h1] => inspected")
}

func TestRunner_AddHostAcrossPlays(t *testing.T) {
	run := runPlaybook(t, newTestConfig(t), testInventory, `
- name: seed
  hosts: web
  gather_facts: false
  tasks:
    - name: register replica
      add_host:
        name: dyn1
        groups: dynamic
        ansible_host: localhost
      run_once: true
- name: converge
  hosts: dynamic
  gather_facts: false
  tasks:
    - name: hello
      probe:
        msg: from dyn
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)

	assert.Contains(t, run.out, "PLAY [converge]")
	assert.Contains(t, run.out, "ok: [dyn1] => from dyn")

	host, err := run.inv.GetHostByName("dyn1")
	require.NoError(t, err)
	assert.True(t, host.InGroup("dynamic"))
	assert.True(t, host.IsLocal)
}

func TestRunner_ExtraVarsWinOverPlayVars(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.ExtraVars = map[string]interface{}{"color": "extra"}
	run := runPlaybook(t, cfg, testInventory, `
- name: precedence
  hosts: web
  gather_facts: false
  vars:
    color: play
    size: medium
  tasks:
    - name: report
      probe:
        msg: "{{ color }}-{{ size }}"
`)
	require.NoError(t, run.err)
	assert.Equal(t, RunOK, run.code)
	assert.Contains(t, run.out, "ok: [h1] => extra-medium")
}
