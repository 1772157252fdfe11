package pkg

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExpressionList holds one or more template expressions. Playbooks may write
// a single expression or a list, both decode to the same type. All
// expressions must hold for the list to hold.
type ExpressionList []string

func (e *ExpressionList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var raw interface{}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		if raw == nil {
			*e = nil
			return nil
		}
		*e = ExpressionList{fmt.Sprintf("%v", raw)}
		return nil
	case yaml.SequenceNode:
		var items []interface{}
		if err := node.Decode(&items); err != nil {
			return err
		}
		list := make(ExpressionList, 0, len(items))
		for _, item := range items {
			list = append(list, fmt.Sprintf("%v", item))
		}
		*e = list
		return nil
	}
	return fmt.Errorf("expected scalar or list of expressions, got yaml kind %d", node.Kind)
}

// Task is a single unit of work. Tasks are resolved against the module
// registry at load time and travel to workers as JSON, so every field the
// worker needs is serializable.
type Task struct {
	Name   string      `json:"name"`
	Action string      `json:"action"`
	UUID   string      `json:"uuid"`
	Args   interface{} `json:"args,omitempty"`

	When        ExpressionList `json:"when,omitempty"`
	FailedWhen  ExpressionList `json:"failed_when,omitempty"`
	ChangedWhen ExpressionList `json:"changed_when,omitempty"`

	Loop    interface{} `json:"loop,omitempty"`
	LoopVar string      `json:"loop_var,omitempty"`

	Register string                 `json:"register,omitempty"`
	Notify   []string               `json:"notify,omitempty"`
	Vars     map[string]interface{} `json:"vars,omitempty"`

	RunOnce    bool        `json:"run_once,omitempty"`
	Throttle   interface{} `json:"throttle,omitempty"`
	DelegateTo string      `json:"delegate_to,omitempty"`

	IgnoreErrors      bool `json:"ignore_errors,omitempty"`
	IgnoreUnreachable bool `json:"ignore_unreachable,omitempty"`
	AnyErrorsFatal    bool `json:"any_errors_fatal,omitempty"`

	Become     bool   `json:"become,omitempty"`
	BecomeUser string `json:"become_user,omitempty"`

	// MetaAction is set when Action is "meta". Meta tasks never reach a
	// worker, the coordinator handles them inline.
	MetaAction string `json:"meta_action,omitempty"`

	// IsHandler marks tasks loaded from a play's handlers section.
	IsHandler bool     `json:"is_handler,omitempty"`
	Listen    []string `json:"listen,omitempty"`
}

func (t *Task) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Action
}

// IsMeta reports whether the coordinator must handle this task itself.
func (t *Task) IsMeta() bool {
	return t.Action == "meta"
}

// Fields freezes the attributes a result needs to carry back.
func (t *Task) Fields() TaskFields {
	return TaskFields{
		Name:           t.Name,
		Action:         t.Action,
		Register:       t.Register,
		Notify:         append([]string(nil), t.Notify...),
		RunOnce:        t.RunOnce,
		DelegateTo:     t.DelegateTo,
		IgnoreErrors:   t.IgnoreErrors,
		AnyErrorsFatal: t.AnyErrorsFatal,
	}
}

// EffectiveLoopVar returns the loop variable name, defaulting to "item".
func (t *Task) EffectiveLoopVar() string {
	if t.LoopVar == "" {
		return "item"
	}
	return t.LoopVar
}

// RespondsTo reports whether a handler task matches a notification topic,
// either by name or through a listen entry.
func (t *Task) RespondsTo(topic string) bool {
	if t.Name == topic {
		return true
	}
	for _, listen := range t.Listen {
		if listen == topic {
			return true
		}
	}
	return false
}
