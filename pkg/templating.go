package pkg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AlexanderGrooff/jinja-go"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// singleExpressionRe matches strings that consist of exactly one template
// expression, e.g. "{{ item.port }}". Those keep the evaluated type instead
// of being stringified.
var singleExpressionRe = regexp.MustCompile(`^\{\{[^{}]*\}\}$`)

// TemplateString renders a template string against the given variable scope.
func TemplateString(s string, scope map[string]interface{}) (string, error) {
	if s == "" {
		return "", nil
	}
	res, err := jinja.TemplateString(s, scope)
	if err != nil {
		return "", fmt.Errorf("failed to template string: %w", err)
	}
	if s != res {
		common.DebugOutput("Templated %q into %q", s, res)
	}
	return res, nil
}

// EvaluateExpression evaluates a bare expression (no surrounding delimiters)
// and returns its native value.
func EvaluateExpression(s string, scope map[string]interface{}) (interface{}, error) {
	res, err := jinja.EvaluateExpression(s, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return res, nil
}

// IsTruthy reports whether a rendered value counts as true.
func IsTruthy(v interface{}) bool {
	return jinja.IsTruthy(v)
}

// TemplateValue renders v recursively. Maps and slices are walked, strings
// are templated. A string that is a single expression keeps the evaluated
// value's type so module arguments like "{{ port }}" stay integers.
func TemplateValue(v interface{}, scope map[string]interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if singleExpressionRe.MatchString(trimmed) {
			expr := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
			return EvaluateExpression(expr, scope)
		}
		return TemplateString(val, scope)
	case map[string]interface{}:
		templated := make(map[string]interface{}, len(val))
		for key, item := range val {
			res, err := TemplateValue(item, scope)
			if err != nil {
				return nil, err
			}
			templated[key] = res
		}
		return templated, nil
	case map[interface{}]interface{}:
		templated := make(map[string]interface{}, len(val))
		for key, item := range val {
			res, err := TemplateValue(item, scope)
			if err != nil {
				return nil, err
			}
			templated[fmt.Sprintf("%v", key)] = res
		}
		return templated, nil
	case []interface{}:
		templated := make([]interface{}, len(val))
		for i, item := range val {
			res, err := TemplateValue(item, scope)
			if err != nil {
				return nil, err
			}
			templated[i] = res
		}
		return templated, nil
	default:
		return v, nil
	}
}

// ExtractVariables returns the variable names referenced by a template
// string. Parse failures yield nil rather than an error since callers only
// use this for best-effort dependency tracking.
func ExtractVariables(s string) []string {
	vars, err := jinja.ParseVariables(s)
	if err != nil {
		return nil
	}
	return vars
}

// ExtractExpressionVariables returns the variable names referenced by a bare
// expression such as a when clause.
func ExtractExpressionVariables(expr string) []string {
	vars, err := jinja.ParseVariablesFromExpression(expr)
	if err != nil {
		return nil
	}
	return vars
}
