package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
)

// WorkerLoop is the child side of the frame protocol: decode one request,
// execute it, emit exactly one result, repeat until the request stream
// closes. Anything that escapes this loop is fatal to the worker process.
type WorkerLoop struct {
	cfg      *config.Config
	executor *TaskExecutor

	// tempFiles tracks files loaned to this worker (task vars files)
	// between load and delete, so a crash exit can still clean up. The
	// set starts empty: a worker never deletes files it did not receive.
	tempFiles map[string]struct{}
}

// RunWorkerLoop services requests from in and writes result frames to out.
// A clean request-stream EOF returns nil; protocol violations return an
// error, which the worker command turns into a hard exit.
func RunWorkerLoop(in io.Reader, out io.Writer, cfg *config.Config) error {
	loop := &WorkerLoop{
		cfg:       cfg,
		executor:  NewTaskExecutor(cfg),
		tempFiles: make(map[string]struct{}),
	}
	defer loop.cleanup()
	return loop.run(in, out)
}

func (w *WorkerLoop) run(in io.Reader, out io.Writer) error {
	decoder := json.NewDecoder(in)
	for {
		var frame RequestFrame
		if err := decoder.Decode(&frame); err != nil {
			if isShutdownError(err) {
				common.LogDebug("Request stream closed, worker shutting down", nil)
				return nil
			}
			return fmt.Errorf("decoding request frame: %w", err)
		}

		switch frame.Kind {
		case frameKindUpdate:
			w.executor.ApplyUpdate(frame.Update)

		case frameKindTask:
			req := frame.Task
			if req == nil {
				return fmt.Errorf("task frame carries no request")
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("invalid task request: %w", err)
			}
			result := w.execute(req)
			if err := w.emit(out, req, result); err != nil {
				if isShutdownError(err) {
					common.LogDebug("Result stream closed, worker shutting down", nil)
					return nil
				}
				return err
			}

		default:
			return fmt.Errorf("unknown frame kind %q", frame.Kind)
		}
	}
}

// execute loads the request's variable scope and runs it. A scope that
// cannot be loaded still produces a result, never a dropped message.
func (w *WorkerLoop) execute(req *TaskRequest) *pkg.TaskResult {
	scope, err := w.loadVars(req.VarsFile)
	if err != nil {
		return &pkg.TaskResult{
			HostName: req.Host.Name,
			TaskUUID: req.Task.UUID,
			Status:   pkg.StatusFailed,
			OriginalResult: map[string]interface{}{
				"failed": true,
				"msg":    err.Error(),
			},
			TaskFields: req.Task.Fields(),
		}
	}
	common.LogDebug("Executing task", map[string]interface{}{
		"host": req.Host.Name,
		"task": req.Task.String(),
	})
	return w.executor.Execute(req, scope)
}

// emit writes one result frame. When the real result cannot be serialized,
// a surrogate failure with empty task fields takes its place so the
// coordinator's pending count stays balanced.
func (w *WorkerLoop) emit(out io.Writer, req *TaskRequest, result *pkg.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		common.LogWarn("Task result could not be serialized, substituting failure result", map[string]interface{}{
			"host":  req.Host.Name,
			"task":  req.Task.String(),
			"error": err.Error(),
		})
		surrogate := &pkg.TaskResult{
			HostName: req.Host.Name,
			TaskUUID: req.Task.UUID,
			Status:   pkg.StatusFailed,
			OriginalResult: map[string]interface{}{
				"failed": true,
				"msg":    fmt.Sprintf("failed to serialize task result: %v", err),
			},
		}
		data, err = json.Marshal(surrogate)
		if err != nil {
			return fmt.Errorf("serializing surrogate result: %w", err)
		}
	}
	data = append(data, '\n')
	if _, err := out.Write(data); err != nil {
		return err
	}
	return nil
}

// loadVars reads and deletes the scope file the dispatcher wrote for this
// task. The file enters the temp set first so it gets removed even when
// the read blows up mid-way.
func (w *WorkerLoop) loadVars(path string) (map[string]interface{}, error) {
	if path == "" {
		return make(map[string]interface{}), nil
	}
	w.tempFiles[path] = struct{}{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading task vars from %s: %w", path, err)
	}
	var scope map[string]interface{}
	if err := json.Unmarshal(data, &scope); err != nil {
		return nil, fmt.Errorf("parsing task vars from %s: %w", path, err)
	}
	if err := os.Remove(path); err == nil {
		delete(w.tempFiles, path)
	}
	return scope, nil
}

// cleanup runs on every exit path: close connections and remove any temp
// files still in the set.
func (w *WorkerLoop) cleanup() {
	w.executor.Close()
	for path := range w.tempFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			common.LogDebug("Failed to remove worker temp file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
	w.tempFiles = make(map[string]struct{})
}

// isShutdownError reports whether an I/O error means the other side of a
// worker pipe went away, which is normal during teardown rather than a
// task failure.
func isShutdownError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}
