package pkg

import (
	"fmt"
	"strings"
)

// ResultStatus classifies a task result. Workers bake ignore_errors and
// any_errors_fatal into the status before the result crosses the wire, so
// the processor never re-inspects task flags to decide how to count it.
type ResultStatus string

const (
	StatusOK                 ResultStatus = "ok"
	StatusFailed             ResultStatus = "failed"
	StatusFailedIgnored      ResultStatus = "failed_ignored"
	StatusFailedAll          ResultStatus = "failed_all"
	StatusSkipped            ResultStatus = "skipped"
	StatusUnreachable        ResultStatus = "unreachable"
	StatusUnreachableIgnored ResultStatus = "unreachable_ignored"
)

// InternalKeyPrefix marks bookkeeping keys the worker attaches to result
// payloads. They are stripped before a payload is registered as a fact.
const InternalKeyPrefix = "_drover_"

// TaskFields is the frozen snapshot of task attributes a result carries back
// to the coordinator. The processor reads these instead of re-resolving the
// task so a mutated play cannot change how an in-flight result is handled.
type TaskFields struct {
	Name           string   `json:"name"`
	Action         string   `json:"action"`
	Register       string   `json:"register,omitempty"`
	Notify         []string `json:"notify,omitempty"`
	RunOnce        bool     `json:"run_once,omitempty"`
	DelegateTo     string   `json:"delegate_to,omitempty"`
	IgnoreErrors   bool     `json:"ignore_errors,omitempty"`
	AnyErrorsFatal bool     `json:"any_errors_fatal,omitempty"`
}

// TaskResult is the unit that travels from workers back to the coordinator.
type TaskResult struct {
	HostName       string                 `json:"host_name"`
	TaskUUID       string                 `json:"task_uuid"`
	Status         ResultStatus           `json:"status_type"`
	OriginalResult map[string]interface{} `json:"original_result"`
	Changed        bool                   `json:"changed"`
	RoleRan        bool                   `json:"role_ran"`
	TaskFields     TaskFields             `json:"task_fields"`
}

// Failed reports whether the result counts as a failure for iterator and
// stats purposes. Ignored failures do not count.
func (r *TaskResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusFailedAll
}

// Unreachable reports whether the host could not be contacted.
func (r *TaskResult) Unreachable() bool {
	return r.Status == StatusUnreachable
}

// Msg extracts the human-readable message from the payload, if any.
func (r *TaskResult) Msg() string {
	if r.OriginalResult == nil {
		return ""
	}
	if msg, ok := r.OriginalResult["msg"]; ok {
		return fmt.Sprintf("%v", msg)
	}
	return ""
}

// SubResults returns per-item payloads for loop tasks. A non-loop result
// has no "results" key and yields nil.
func (r *TaskResult) SubResults() []map[string]interface{} {
	if r.OriginalResult == nil {
		return nil
	}
	raw, ok := r.OriginalResult["results"].([]interface{})
	if !ok {
		return nil
	}
	subResults := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			subResults = append(subResults, m)
		}
	}
	return subResults
}

// StripInternalKeys returns a copy of the payload without worker bookkeeping
// keys, suitable for registering as a fact.
func StripInternalKeys(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	cleaned := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		if strings.HasPrefix(key, InternalKeyPrefix) {
			continue
		}
		cleaned[key] = value
	}
	return cleaned
}
