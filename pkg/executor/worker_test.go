package executor

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderGrooff/drover/pkg"
)

// poisonModule produces a payload json cannot serialize, to exercise the
// surrogate result path.
type poisonModule struct{}

type poisonInput struct{}

func (poisonInput) Validate() error { return nil }

type poisonOutput struct{}

func (poisonOutput) String() string { return "unserializable" }
func (poisonOutput) Changed() bool  { return false }

func (poisonOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{"leak": make(chan struct{})}
}

func (poisonModule) InputType() reflect.Type { return reflect.TypeOf(poisonInput{}) }

func (poisonModule) Execute(input pkg.ModuleInput, execCtx *pkg.ExecContext) (pkg.ModuleOutput, error) {
	return poisonOutput{}, nil
}

func init() {
	pkg.RegisterModule("poison", poisonModule{})
}

func encodeFrames(t *testing.T, frames ...RequestFrame) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, frame := range frames {
		data, err := json.Marshal(frame)
		require.NoError(t, err)
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return &buf
}

func decodeResults(t *testing.T, out io.Reader) []*pkg.TaskResult {
	t.Helper()
	var results []*pkg.TaskResult
	decoder := json.NewDecoder(out)
	for {
		var result pkg.TaskResult
		if err := decoder.Decode(&result); err == io.EOF {
			return results
		} else if err != nil {
			t.Fatalf("decoding result frame: %v", err)
		}
		results = append(results, &result)
	}
}

func taskFrame(task *pkg.Task, varsFile string) RequestFrame {
	return RequestFrame{
		Kind: frameKindTask,
		Task: &TaskRequest{
			Host:     localHost("h1"),
			Task:     task,
			Play:     &pkg.PlayContext{PlayName: "test"},
			VarsFile: varsFile,
		},
	}
}

func TestRunWorkerLoop_CleanEOF(t *testing.T) {
	var out bytes.Buffer
	err := RunWorkerLoop(bytes.NewReader(nil), &out, newTestConfig(t))
	require.NoError(t, err)
	assert.Zero(t, out.Len())
}

func TestRunWorkerLoop_OneResultPerTask(t *testing.T) {
	first := probeTask("first", map[string]interface{}{"msg": "one"})
	second := probeTask("second", map[string]interface{}{"msg": "two", "fail": true})
	in := encodeFrames(t, taskFrame(first, ""), taskFrame(second, ""))

	var out bytes.Buffer
	err := RunWorkerLoop(in, &out, newTestConfig(t))
	require.NoError(t, err)

	results := decodeResults(t, &out)
	require.Len(t, results, 2)

	assert.Equal(t, first.UUID, results[0].TaskUUID)
	assert.Equal(t, pkg.StatusOK, results[0].Status)
	assert.Equal(t, "one", results[0].Msg())
	assert.Equal(t, "h1", results[0].HostName)
	assert.Equal(t, "first", results[0].TaskFields.Name)

	assert.Equal(t, second.UUID, results[1].TaskUUID)
	assert.Equal(t, pkg.StatusFailed, results[1].Status)
	assert.Equal(t, "two", results[1].Msg())
}

func TestRunWorkerLoop_LoadsAndDeletesVarsFile(t *testing.T) {
	varsFile := filepath.Join(t.TempDir(), "vars-00001.json")
	require.NoError(t, os.WriteFile(varsFile, []byte(`{"greeting": "hi"}`), 0o600))

	task := probeTask("templated", map[string]interface{}{"msg": "{{ greeting }}"})
	in := encodeFrames(t, taskFrame(task, varsFile))

	var out bytes.Buffer
	err := RunWorkerLoop(in, &out, newTestConfig(t))
	require.NoError(t, err)

	results := decodeResults(t, &out)
	require.Len(t, results, 1)
	assert.Equal(t, pkg.StatusOK, results[0].Status)
	assert.Equal(t, "hi", results[0].Msg())

	_, statErr := os.Stat(varsFile)
	assert.True(t, os.IsNotExist(statErr), "vars file is deleted after the task runs")
}

func TestRunWorkerLoop_MissingVarsFileStillEmitsResult(t *testing.T) {
	task := probeTask("doomed", map[string]interface{}{"msg": "never"})
	missing := filepath.Join(t.TempDir(), "gone.json")
	in := encodeFrames(t, taskFrame(task, missing))

	var out bytes.Buffer
	err := RunWorkerLoop(in, &out, newTestConfig(t))
	require.NoError(t, err, "a broken vars file fails the task, not the worker")

	results := decodeResults(t, &out)
	require.Len(t, results, 1)
	assert.Equal(t, pkg.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Msg(), "loading task vars")
}

func TestRunWorkerLoop_SurrogateOnUnserializableResult(t *testing.T) {
	task := &pkg.Task{Name: "poisoned", Action: "poison", UUID: uuid.New().String()}
	in := encodeFrames(t, taskFrame(task, ""))

	var out bytes.Buffer
	err := RunWorkerLoop(in, &out, newTestConfig(t))
	require.NoError(t, err)

	results := decodeResults(t, &out)
	require.Len(t, results, 1, "the message is substituted, never dropped")
	assert.Equal(t, task.UUID, results[0].TaskUUID)
	assert.Equal(t, "h1", results[0].HostName)
	assert.Equal(t, pkg.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Msg(), "failed to serialize task result")
}

func TestRunWorkerLoop_ConsumesUpdateFrames(t *testing.T) {
	update := RequestFrame{
		Kind: frameKindUpdate,
		Update: &BroadcastUpdate{
			Kind: UpdateAddHost,
			Host: &pkg.Host{Name: "dyn1", Host: "localhost"},
		},
	}
	task := probeTask("after update", map[string]interface{}{"msg": "still here"})
	in := encodeFrames(t, update, taskFrame(task, ""))

	var out bytes.Buffer
	err := RunWorkerLoop(in, &out, newTestConfig(t))
	require.NoError(t, err)

	// Updates produce no result frames of their own.
	results := decodeResults(t, &out)
	require.Len(t, results, 1)
	assert.Equal(t, task.UUID, results[0].TaskUUID)
}

func TestRunWorkerLoop_RejectsUnknownFrameKind(t *testing.T) {
	in := bytes.NewBufferString(`{"kind": "bogus"}` + "\n")
	err := RunWorkerLoop(in, &bytes.Buffer{}, newTestConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown frame kind "bogus"`)
}

func TestRunWorkerLoop_RejectsInvalidTaskRequest(t *testing.T) {
	frame := RequestFrame{
		Kind: frameKindTask,
		Task: &TaskRequest{Task: probeTask("no host", nil), Play: &pkg.PlayContext{}},
	}
	in := encodeFrames(t, frame)

	err := RunWorkerLoop(in, &bytes.Buffer{}, newTestConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task request")
	assert.Contains(t, err.Error(), "no host")
}

func TestRunWorkerLoop_RejectsGarbageInput(t *testing.T) {
	in := bytes.NewBufferString("definitely not json\n")
	err := RunWorkerLoop(in, &bytes.Buffer{}, newTestConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding request frame")
}
