package pkg

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// Play is one entry of a playbook: a host pattern plus the blocks and
// handlers to run against it.
type Play struct {
	Name     string
	Hosts    []string
	Vars     map[string]interface{}
	Tasks    []*Block
	Handlers []*Task

	Strategy      string
	GatherFacts   bool
	ForceHandlers *bool

	// SetupTask is the synthetic fact-gathering task hosts run before the
	// play's own tasks. Nil when gather_facts is disabled.
	SetupTask *Task
}

// playKeywords are the keys recognized at play level. Anything else is an
// error so typos fail at load instead of being silently dropped.
var playKeywords = []string{
	"name", "hosts", "vars", "tasks", "handlers", "strategy",
	"gather_facts", "force_handlers", "become", "become_user",
	"any_errors_fatal", "ignore_errors", "ignore_unreachable",
}

// taskKeywords are the keys recognized on a task. The single remaining key
// names the action and must resolve against the module registry.
var taskKeywords = []string{
	"name", "when", "failed_when", "changed_when", "loop", "with_items",
	"loop_control", "register", "notify", "listen", "vars", "run_once",
	"throttle", "delegate_to", "ignore_errors", "ignore_unreachable",
	"any_errors_fatal", "become", "become_user",
}

// blockKeywords are the keys recognized on a block entry.
var blockKeywords = []string{
	"name", "block", "rescue", "always", "when", "vars", "notify",
	"run_once", "delegate_to", "ignore_errors", "ignore_unreachable",
	"any_errors_fatal", "become", "become_user",
}

// MetaActions are the coordinator-handled actions a meta task may name.
var MetaActions = []string{
	"noop", "end_host", "end_play", "clear_facts", "clear_host_errors",
	"flush_handlers", "refresh_inventory", "reset_connection",
}

// taskDefaults carries inheritable keywords from play and enclosing blocks
// down to tasks. Values a task sets itself always win.
type taskDefaults struct {
	when              ExpressionList
	vars              map[string]interface{}
	notify            []string
	become            *bool
	becomeUser        string
	delegateTo        string
	runOnce           *bool
	ignoreErrors      *bool
	ignoreUnreachable *bool
	anyErrorsFatal    *bool
}

// LoadPlaybook reads and parses a playbook file.
func LoadPlaybook(path string) ([]*Play, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading playbook %s: %w", path, err)
	}
	plays, err := ParsePlaybook(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing playbook %s: %w", path, err)
	}
	return plays, nil
}

// ParsePlaybook parses playbook YAML into plays. Every task is resolved
// against the module registry and assigned a UUID here, so execution never
// sees an unknown action.
func ParsePlaybook(data []byte) ([]*Play, error) {
	var rawPlays []map[string]interface{}
	if err := yaml.Unmarshal(data, &rawPlays); err != nil {
		return nil, fmt.Errorf("invalid playbook YAML: %w", err)
	}
	if len(rawPlays) == 0 {
		return nil, fmt.Errorf("playbook contains no plays")
	}

	plays := make([]*Play, 0, len(rawPlays))
	for i, rawPlay := range rawPlays {
		play, err := parsePlay(rawPlay)
		if err != nil {
			return nil, fmt.Errorf("play %d: %w", i+1, err)
		}
		plays = append(plays, play)
	}
	return plays, nil
}

func parsePlay(raw map[string]interface{}) (*Play, error) {
	for key := range raw {
		if !slices.Contains(playKeywords, key) {
			return nil, fmt.Errorf("unknown play keyword %q", key)
		}
	}

	play := &Play{
		Name:        getStringValue(raw, "name"),
		Vars:        getMapValue(raw, "vars"),
		GatherFacts: true,
	}

	hosts, err := toStringList(raw["hosts"])
	if err != nil {
		return nil, fmt.Errorf("invalid hosts: %w", err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("play has no hosts pattern")
	}
	play.Hosts = hosts

	if rawStrategy, ok := raw["strategy"]; ok {
		strategy, ok := rawStrategy.(string)
		if !ok || !slices.Contains([]string{"linear", "free"}, strategy) {
			return nil, fmt.Errorf("invalid strategy %v, must be one of: linear, free", rawStrategy)
		}
		play.Strategy = strategy
	}

	if rawGather, ok := raw["gather_facts"]; ok {
		gather, err := toBool(rawGather)
		if err != nil {
			return nil, fmt.Errorf("invalid gather_facts: %w", err)
		}
		play.GatherFacts = gather
	}

	if rawForce, ok := raw["force_handlers"]; ok {
		force, err := toBool(rawForce)
		if err != nil {
			return nil, fmt.Errorf("invalid force_handlers: %w", err)
		}
		play.ForceHandlers = &force
	}

	defaults := taskDefaults{vars: play.Vars}
	if err := applyBoolKeyword(raw, "become", &defaults.become); err != nil {
		return nil, err
	}
	defaults.becomeUser = getStringValue(raw, "become_user")
	if err := applyBoolKeyword(raw, "any_errors_fatal", &defaults.anyErrorsFatal); err != nil {
		return nil, err
	}
	if err := applyBoolKeyword(raw, "ignore_errors", &defaults.ignoreErrors); err != nil {
		return nil, err
	}
	if err := applyBoolKeyword(raw, "ignore_unreachable", &defaults.ignoreUnreachable); err != nil {
		return nil, err
	}

	// Handlers first so notify targets can be validated while parsing tasks.
	rawHandlers, err := toEntryList(raw["handlers"])
	if err != nil {
		return nil, fmt.Errorf("invalid handlers section: %w", err)
	}
	for i, rawHandler := range rawHandlers {
		handler, err := parseTask(rawHandler, taskDefaults{})
		if err != nil {
			return nil, fmt.Errorf("handler %d: %w", i+1, err)
		}
		if handler.Name == "" {
			return nil, fmt.Errorf("handler %d has no name", i+1)
		}
		if handler.IsMeta() {
			return nil, fmt.Errorf("handler %q cannot be a meta task", handler.Name)
		}
		handler.IsHandler = true
		play.Handlers = append(play.Handlers, handler)
	}

	rawTasks, err := toEntryList(raw["tasks"])
	if err != nil {
		return nil, fmt.Errorf("invalid tasks section: %w", err)
	}
	blocks, err := parseBlockList(rawTasks, defaults)
	if err != nil {
		return nil, err
	}
	play.Tasks = blocks

	if err := play.validateNotifications(); err != nil {
		return nil, err
	}

	if play.GatherFacts {
		play.SetupTask = &Task{
			Name:   "Gathering Facts",
			Action: "setup",
			UUID:   uuid.New().String(),
		}
	}

	common.DebugOutput("Parsed play %q with %d top-level blocks and %d handlers",
		play.Name, len(play.Tasks), len(play.Handlers))
	return play, nil
}

// parseBlockList turns a play section into blocks, wrapping runs of bare
// tasks into implicit blocks so the iterator only walks blocks.
func parseBlockList(entries []map[string]interface{}, defaults taskDefaults) ([]*Block, error) {
	var blocks []*Block
	var pending []BlockEntry

	flushPending := func() {
		if len(pending) > 0 {
			blocks = append(blocks, &Block{Block: pending, Implicit: true})
			pending = nil
		}
	}

	for i, entry := range entries {
		if _, isBlock := entry["block"]; isBlock {
			flushPending()
			block, err := parseBlock(entry, defaults)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i+1, err)
			}
			blocks = append(blocks, block)
			continue
		}
		task, err := parseTask(entry, defaults)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		pending = append(pending, task)
	}
	flushPending()
	return blocks, nil
}

func parseBlock(raw map[string]interface{}, defaults taskDefaults) (*Block, error) {
	for key := range raw {
		if !slices.Contains(blockKeywords, key) {
			return nil, fmt.Errorf("unknown block keyword %q", key)
		}
	}

	childDefaults, err := mergeDefaults(defaults, raw)
	if err != nil {
		return nil, err
	}

	block := &Block{Name: getStringValue(raw, "name")}
	for _, section := range []struct {
		key  string
		dest *[]BlockEntry
	}{
		{"block", &block.Block},
		{"rescue", &block.Rescue},
		{"always", &block.Always},
	} {
		rawEntries, err := toEntryList(raw[section.key])
		if err != nil {
			return nil, fmt.Errorf("invalid %s section: %w", section.key, err)
		}
		for i, rawEntry := range rawEntries {
			if _, isBlock := rawEntry["block"]; isBlock {
				nested, err := parseBlock(rawEntry, childDefaults)
				if err != nil {
					return nil, fmt.Errorf("%s entry %d: %w", section.key, i+1, err)
				}
				*section.dest = append(*section.dest, nested)
				continue
			}
			task, err := parseTask(rawEntry, childDefaults)
			if err != nil {
				return nil, fmt.Errorf("%s entry %d: %w", section.key, i+1, err)
			}
			*section.dest = append(*section.dest, task)
		}
	}

	if len(block.Block) == 0 {
		return nil, fmt.Errorf("block %q has an empty block section", block.Name)
	}
	return block, nil
}

func mergeDefaults(defaults taskDefaults, raw map[string]interface{}) (taskDefaults, error) {
	merged := defaults
	if rawWhen, ok := raw["when"]; ok {
		merged.when = append(append(ExpressionList{}, defaults.when...), toExpressionList(rawWhen)...)
	}
	if vars := getMapValue(raw, "vars"); vars != nil {
		merged.vars = common.MergeMaps(defaults.vars, vars)
	}
	if rawNotify, ok := raw["notify"]; ok {
		notify, err := toStringList(rawNotify)
		if err != nil {
			return merged, fmt.Errorf("invalid notify: %w", err)
		}
		merged.notify = notify
	}
	if delegate := getStringValue(raw, "delegate_to"); delegate != "" {
		merged.delegateTo = delegate
	}
	if becomeUser := getStringValue(raw, "become_user"); becomeUser != "" {
		merged.becomeUser = becomeUser
	}
	if err := applyBoolKeyword(raw, "become", &merged.become); err != nil {
		return merged, err
	}
	if err := applyBoolKeyword(raw, "run_once", &merged.runOnce); err != nil {
		return merged, err
	}
	if err := applyBoolKeyword(raw, "ignore_errors", &merged.ignoreErrors); err != nil {
		return merged, err
	}
	if err := applyBoolKeyword(raw, "ignore_unreachable", &merged.ignoreUnreachable); err != nil {
		return merged, err
	}
	if err := applyBoolKeyword(raw, "any_errors_fatal", &merged.anyErrorsFatal); err != nil {
		return merged, err
	}
	return merged, nil
}

func parseTask(raw map[string]interface{}, defaults taskDefaults) (*Task, error) {
	task := &Task{
		Name: getStringValue(raw, "name"),
		UUID: uuid.New().String(),
	}

	// Resolve the action: exactly one non-keyword key must remain and it
	// must name a registered module or "meta".
	for key, value := range raw {
		if slices.Contains(taskKeywords, key) {
			continue
		}
		if task.Action != "" {
			return nil, fmt.Errorf("task %q has conflicting actions %q and %q", task.Name, task.Action, key)
		}
		if key == "meta" {
			metaAction, ok := value.(string)
			if !ok || !slices.Contains(MetaActions, metaAction) {
				return nil, fmt.Errorf("task %q: invalid meta action %v, must be one of: %s",
					task.Name, value, strings.Join(MetaActions, ", "))
			}
			task.Action = "meta"
			task.MetaAction = metaAction
			continue
		}
		if _, ok := GetModule(key); !ok {
			return nil, fmt.Errorf("unknown module %q in task %q", key, task.Name)
		}
		task.Action = key
		task.Args = value
	}
	if task.Action == "" {
		return nil, fmt.Errorf("task %q has no action", task.Name)
	}

	task.When = toExpressionList(raw["when"])
	task.FailedWhen = toExpressionList(raw["failed_when"])
	task.ChangedWhen = toExpressionList(raw["changed_when"])
	task.Register = getStringValue(raw, "register")
	task.Vars = getMapValue(raw, "vars")
	task.DelegateTo = getStringValue(raw, "delegate_to")
	task.BecomeUser = getStringValue(raw, "become_user")

	if rawLoop, ok := raw["loop"]; ok {
		task.Loop = rawLoop
	} else if rawLoop, ok := raw["with_items"]; ok {
		task.Loop = rawLoop
	}
	if loopControl := getMapValue(raw, "loop_control"); loopControl != nil {
		task.LoopVar = getStringValue(loopControl, "loop_var")
	}
	if task.Loop == nil && task.LoopVar != "" {
		return nil, fmt.Errorf("task %q sets loop_var without a loop", task.Name)
	}

	if rawNotify, ok := raw["notify"]; ok {
		notify, err := toStringList(rawNotify)
		if err != nil {
			return nil, fmt.Errorf("task %q: invalid notify: %w", task.Name, err)
		}
		task.Notify = notify
	}
	if rawListen, ok := raw["listen"]; ok {
		listen, err := toStringList(rawListen)
		if err != nil {
			return nil, fmt.Errorf("task %q: invalid listen: %w", task.Name, err)
		}
		task.Listen = listen
	}

	if rawThrottle, ok := raw["throttle"]; ok {
		task.Throttle = rawThrottle
	}

	boolKeys := []struct {
		key  string
		dest *bool
	}{
		{"run_once", &task.RunOnce},
		{"ignore_errors", &task.IgnoreErrors},
		{"ignore_unreachable", &task.IgnoreUnreachable},
		{"any_errors_fatal", &task.AnyErrorsFatal},
		{"become", &task.Become},
	}
	for _, bk := range boolKeys {
		if rawVal, ok := raw[bk.key]; ok {
			val, err := toBool(rawVal)
			if err != nil {
				return nil, fmt.Errorf("task %q: invalid %s: %w", task.Name, bk.key, err)
			}
			*bk.dest = val
		}
	}

	applyTaskDefaults(task, raw, defaults)

	// Validate argument shape early. Values may still contain templates but
	// the keys are static, so typos surface at load time.
	if task.Action != "meta" {
		module, _ := GetModule(task.Action)
		if _, err := DecodeArgs(module, task.Args); err != nil {
			return nil, fmt.Errorf("task %q: invalid arguments for %s: %w", task.Name, task.Action, err)
		}
	}

	return task, nil
}

func applyTaskDefaults(task *Task, raw map[string]interface{}, defaults taskDefaults) {
	task.When = append(append(ExpressionList{}, defaults.when...), task.When...)
	if defaults.vars != nil {
		task.Vars = common.MergeMaps(defaults.vars, task.Vars)
	}
	if task.Notify == nil {
		task.Notify = defaults.notify
	}
	if task.DelegateTo == "" {
		task.DelegateTo = defaults.delegateTo
	}
	if task.BecomeUser == "" {
		task.BecomeUser = defaults.becomeUser
	}
	inheritBool(raw, "become", &task.Become, defaults.become)
	inheritBool(raw, "run_once", &task.RunOnce, defaults.runOnce)
	inheritBool(raw, "ignore_errors", &task.IgnoreErrors, defaults.ignoreErrors)
	inheritBool(raw, "ignore_unreachable", &task.IgnoreUnreachable, defaults.ignoreUnreachable)
	inheritBool(raw, "any_errors_fatal", &task.AnyErrorsFatal, defaults.anyErrorsFatal)
}

func inheritBool(raw map[string]interface{}, key string, dest *bool, inherited *bool) {
	if _, ok := raw[key]; ok {
		return
	}
	if inherited != nil {
		*dest = *inherited
	}
}

func applyBoolKeyword(raw map[string]interface{}, key string, dest **bool) error {
	rawVal, ok := raw[key]
	if !ok {
		return nil
	}
	val, err := toBool(rawVal)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = &val
	return nil
}

// validateNotifications checks every notify topic resolves to a handler.
func (p *Play) validateNotifications() error {
	var walk func(entries []BlockEntry) error
	checkTask := func(t *Task) error {
		for _, topic := range t.Notify {
			found := false
			for _, handler := range p.Handlers {
				if handler.RespondsTo(topic) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("task %q notifies unknown handler %q", t.String(), topic)
			}
		}
		return nil
	}
	walk = func(entries []BlockEntry) error {
		for _, entry := range entries {
			switch node := entry.(type) {
			case *Task:
				if err := checkTask(node); err != nil {
					return err
				}
			case *Block:
				for _, section := range [][]BlockEntry{node.Block, node.Rescue, node.Always} {
					if err := walk(section); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	for _, block := range p.Tasks {
		for _, section := range [][]BlockEntry{block.Block, block.Rescue, block.Always} {
			if err := walk(section); err != nil {
				return err
			}
		}
	}
	for _, handler := range p.Handlers {
		if err := checkTask(handler); err != nil {
			return err
		}
	}
	return nil
}

// AllTasks returns every task of the play in declaration order, including
// handlers and the synthetic setup task.
func (p *Play) AllTasks() []*Task {
	var tasks []*Task
	if p.SetupTask != nil {
		tasks = append(tasks, p.SetupTask)
	}
	for _, block := range p.Tasks {
		tasks = append(tasks, block.Tasks()...)
	}
	tasks = append(tasks, p.Handlers...)
	return tasks
}

// FindTask looks a task up by UUID across tasks, handlers and setup.
func (p *Play) FindTask(taskUUID string) *Task {
	for _, task := range p.AllTasks() {
		if task.UUID == taskUUID {
			return task
		}
	}
	return nil
}

func getStringValue(m map[string]interface{}, key string) string {
	if value, ok := m[key].(string); ok {
		return value
	}
	return ""
}

func getMapValue(m map[string]interface{}, key string) map[string]interface{} {
	if value, ok := m[key].(map[string]interface{}); ok {
		return value
	}
	return nil
}

func toExpressionList(v interface{}) ExpressionList {
	switch val := v.(type) {
	case nil:
		return nil
	case []interface{}:
		list := make(ExpressionList, 0, len(val))
		for _, item := range val {
			list = append(list, fmt.Sprintf("%v", item))
		}
		return list
	default:
		return ExpressionList{fmt.Sprintf("%v", val)}
	}
}

func toStringList(v interface{}) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []interface{}:
		list := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			list = append(list, s)
		}
		return list, nil
	}
	return nil, fmt.Errorf("expected string or list of strings, got %T", v)
}

func toEntryList(v interface{}) ([]map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	rawList, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	entries := make([]map[string]interface{}, 0, len(rawList))
	for i, item := range rawList {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry %d: expected a mapping, got %T", i+1, item)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func toBool(v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(val) {
		case "yes", "on":
			return true, nil
		case "no", "off":
			return false, nil
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return false, fmt.Errorf("cannot interpret %q as boolean", val)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("cannot interpret %T as boolean", v)
}
