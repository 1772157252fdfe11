package executor

import (
	"fmt"

	"github.com/AlexanderGrooff/drover/pkg"
)

// Frame kinds on a worker's request stream.
const (
	frameKindTask   = "task"
	frameKindUpdate = "update"
)

// Broadcast update kinds.
const (
	UpdateSetFact        = "set_fact"
	UpdateAddHost        = "add_host"
	UpdateAddGroup       = "add_group"
	UpdateDropConnection = "drop_connection"
)

// RequestFrame is one newline-delimited JSON message on a worker's stdin.
// Exactly one of Task or Update is set, selected by Kind.
type RequestFrame struct {
	Kind   string           `json:"kind"`
	Task   *TaskRequest     `json:"task,omitempty"`
	Update *BroadcastUpdate `json:"update,omitempty"`
}

// TaskRequest carries everything a worker needs to execute one task against
// one host. The variable scope travels out of band: the coordinator writes
// it to a temp file and the frame only names the path, keeping frames small.
type TaskRequest struct {
	Host *pkg.Host        `json:"host"`
	Task *pkg.Task        `json:"task"`
	Play *pkg.PlayContext `json:"play"`

	// DelegateHost is set when the task delegates to another host; the
	// worker connects there but the result stays attributed to Host.
	DelegateHost *pkg.Host `json:"delegate_host,omitempty"`

	VarsFile string `json:"vars_file"`
}

// Validate rejects frames a worker cannot act on. A malformed request is a
// coordinator defect, not a task failure.
func (r *TaskRequest) Validate() error {
	if r.Host == nil {
		return fmt.Errorf("task request carries no host")
	}
	if r.Task == nil {
		return fmt.Errorf("task request carries no task")
	}
	if r.Play == nil {
		return fmt.Errorf("task request carries no play context")
	}
	return nil
}

// BroadcastUpdate replays a coordinator-side event to workers. Workers that
// were idle while the event happened receive all updates they missed before
// their next task, so every worker sees dynamically added hosts and groups.
type BroadcastUpdate struct {
	Kind     string                 `json:"kind"`
	HostName string                 `json:"host_name,omitempty"`
	Host     *pkg.Host              `json:"host,omitempty"`
	Group    string                 `json:"group,omitempty"`
	Facts    map[string]interface{} `json:"facts,omitempty"`
}
