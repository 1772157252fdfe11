package pkg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// definedTestRe extracts defined/undefined tests from a guard expression so
// a failed evaluation can be resolved statically when the failure is a
// missing variable the guard was testing for.
var definedTestRe = regexp.MustCompile(`(hostvars\[.+\]|[\w_]+)\s+(not\s+is|is|is\s+not)\s+(defined|undefined)`)

// bareNameRe matches guards that are a single variable reference.
var bareNameRe = regexp.MustCompile(`^[\w_]+$`)

// hostvarsKeyRe pulls the host name out of a hostvars[...] reference.
var hostvarsKeyRe = regexp.MustCompile(`^hostvars\[["']([^"'\]]+)["']\]`)

// definedTest is one defined/undefined test found inside a guard.
type definedTest struct {
	name  string
	logic string
	state string
}

// shouldExist reports whether the test requires its variable to exist for
// the guard to hold. Negated logic flips the state.
func (t definedTest) shouldExist() bool {
	return strings.Contains(t.logic, "not") != (t.state == "defined")
}

// EvaluateGuards evaluates a list of guard expressions against a scope. All
// expressions must hold. An error means the guard itself could not be
// evaluated and the task must fail rather than run or skip.
func EvaluateGuards(guards ExpressionList, scope map[string]interface{}) (bool, error) {
	for _, guard := range guards {
		ok, err := evaluateGuard(guard, scope)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateGuard(guard string, scope map[string]interface{}) (bool, error) {
	guard = strings.TrimSpace(guard)
	if guard == "" {
		return true, nil
	}

	// A bare variable name needs no template round-trip.
	if bareNameRe.MatchString(guard) {
		if value, ok := scope[guard]; ok {
			return IsTruthy(value), nil
		}
	}

	result, err := EvaluateExpression(guard, scope)
	if err == nil {
		return IsTruthy(result), nil
	}

	// The evaluation failed, most likely on an undefined variable. If the
	// guard was testing that variable for definedness, the test's outcome
	// follows from the variable being missing.
	recovered, ok := recoverDefinedTest(guard, scope)
	if ok {
		common.DebugOutput("Recovered guard %q as %v after evaluation error: %v", guard, recovered, err)
		return recovered, nil
	}
	return false, fmt.Errorf("error while evaluating conditional (%s): %w", guard, err)
}

func recoverDefinedTest(guard string, scope map[string]interface{}) (bool, bool) {
	tests := extractDefinedTests(guard)
	if len(tests) == 0 {
		return false, false
	}

	for _, missing := range missingVariables(guard, scope) {
		for _, test := range tests {
			if normalizeQuotes(test.name) != normalizeQuotes(missing) {
				continue
			}
			return !test.shouldExist(), true
		}
	}

	// hostvars references fail on the key lookup rather than on the top
	// level name, so check those keys directly.
	for _, test := range tests {
		match := hostvarsKeyRe.FindStringSubmatch(normalizeQuotes(test.name))
		if match == nil {
			continue
		}
		hostvars, ok := scope["hostvars"].(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := hostvars[match[1]]; !exists {
			return !test.shouldExist(), true
		}
	}
	return false, false
}

func extractDefinedTests(guard string) []definedTest {
	var tests []definedTest
	for _, match := range definedTestRe.FindAllStringSubmatch(guard, -1) {
		tests = append(tests, definedTest{name: match[1], logic: match[2], state: match[3]})
	}
	return tests
}

// missingVariables returns the variables a guard references that are absent
// from the scope.
func missingVariables(guard string, scope map[string]interface{}) []string {
	var missing []string
	for _, name := range ExtractExpressionVariables(guard) {
		if _, ok := scope[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func normalizeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}
