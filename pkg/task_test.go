package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExpressionList_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want ExpressionList
	}{
		{name: "single expression", yaml: `when: ansible_check_mode`, want: ExpressionList{"ansible_check_mode"}},
		{name: "comparison", yaml: `when: count > 3`, want: ExpressionList{"count > 3"}},
		{name: "bare bool", yaml: `when: true`, want: ExpressionList{"true"}},
		{name: "bare number", yaml: `when: 42`, want: ExpressionList{"42"}},
		{name: "null stays empty", yaml: `when:`, want: nil},
		{name: "list of expressions", yaml: "when:\n  - a is defined\n  - b > 1", want: ExpressionList{"a is defined", "b > 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc struct {
				When ExpressionList `yaml:"when"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &doc))
			assert.Equal(t, tt.want, doc.When)
		})
	}
}

func TestExpressionList_RejectsMapping(t *testing.T) {
	var doc struct {
		When ExpressionList `yaml:"when"`
	}
	err := yaml.Unmarshal([]byte("when:\n  key: value"), &doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected scalar or list")
}

func TestTaskString(t *testing.T) {
	named := &Task{Name: "install nginx", Action: "shell"}
	assert.Equal(t, "install nginx", named.String())

	unnamed := &Task{Action: "shell"}
	assert.Equal(t, "shell", unnamed.String())
}

func TestTaskIsMeta(t *testing.T) {
	assert.True(t, (&Task{Action: "meta", MetaAction: "end_play"}).IsMeta())
	assert.False(t, (&Task{Action: "shell"}).IsMeta())
}

func TestTaskFields(t *testing.T) {
	task := &Task{
		Name:           "restart",
		Action:         "shell",
		Register:       "out",
		Notify:         []string{"reload nginx"},
		RunOnce:        true,
		DelegateTo:     "bastion",
		IgnoreErrors:   true,
		AnyErrorsFatal: true,
	}
	fields := task.Fields()

	assert.Equal(t, "restart", fields.Name)
	assert.Equal(t, "shell", fields.Action)
	assert.Equal(t, "out", fields.Register)
	assert.Equal(t, []string{"reload nginx"}, fields.Notify)
	assert.True(t, fields.RunOnce)
	assert.Equal(t, "bastion", fields.DelegateTo)
	assert.True(t, fields.IgnoreErrors)
	assert.True(t, fields.AnyErrorsFatal)

	// The frozen copy must not alias the task's notify slice.
	task.Notify[0] = "changed"
	assert.Equal(t, "reload nginx", fields.Notify[0])
}

func TestEffectiveLoopVar(t *testing.T) {
	assert.Equal(t, "item", (&Task{}).EffectiveLoopVar())
	assert.Equal(t, "pkg_name", (&Task{LoopVar: "pkg_name"}).EffectiveLoopVar())
}

func TestRespondsTo(t *testing.T) {
	handler := &Task{Name: "restart nginx", Listen: []string{"web changed", "config changed"}}

	assert.True(t, handler.RespondsTo("restart nginx"))
	assert.True(t, handler.RespondsTo("config changed"))
	assert.False(t, handler.RespondsTo("restart apache"))
}
