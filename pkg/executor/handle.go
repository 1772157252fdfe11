package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
)

// workerStopTimeout bounds how long teardown waits for a worker to exit
// after its request stream closes before killing it.
const workerStopTimeout = 5 * time.Second

// WorkerHandle is the coordinator's end of one worker slot. The slot
// starts lazily on first dispatch; a reader goroutine moves decoded result
// frames onto the shared ResultQueue and nothing else.
type WorkerHandle struct {
	id        int
	cfg       *config.Config
	queue     *ResultQueue
	spawnArgs []string

	mu      sync.Mutex
	started bool
	closing bool

	stdin      io.WriteCloser
	proc       *exec.Cmd
	procDone   chan struct{}
	readerDone chan struct{}

	// updateSeen is the high-water mark into the coordinator's broadcast
	// list; only the dispatching goroutine touches it.
	updateSeen int
}

func newWorkerHandle(id int, cfg *config.Config, queue *ResultQueue, spawnArgs []string) *WorkerHandle {
	return &WorkerHandle{
		id:        id,
		cfg:       cfg,
		queue:     queue,
		spawnArgs: spawnArgs,
	}
}

// Send serializes one frame onto the worker's request stream, starting the
// worker if this is its first dispatch.
func (w *WorkerHandle) Send(frame *RequestFrame) error {
	if err := w.ensureStarted(); err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame for worker %d: %w", w.id, err)
	}
	data = append(data, '\n')
	if _, err := w.stdin.Write(data); err != nil {
		return err
	}
	return nil
}

func (w *WorkerHandle) ensureStarted() error {
	if w.started {
		return nil
	}
	var err error
	if w.cfg.Worker.Isolation == "inline" {
		err = w.startInline()
	} else {
		err = w.startProcess()
	}
	if err != nil {
		return err
	}
	w.started = true
	return nil
}

// startProcess re-execs the running binary with the hidden worker
// subcommand. Requests go down its stdin, results come back on its stdout,
// and its stderr shares ours so worker logs stay visible.
func (w *WorkerHandle) startProcess() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating binary for worker re-exec: %w", err)
	}
	args := append([]string{"worker"}, w.spawnArgs...)
	cmd := exec.Command(exe, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening request pipe for worker %d: %w", w.id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening result pipe for worker %d: %w", w.id, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker %d: %w", w.id, err)
	}

	w.stdin = stdin
	w.proc = cmd
	w.procDone = make(chan struct{})
	w.readerDone = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(w.procDone)
	}()
	go w.readResults(stdout)

	common.LogDebug("Started worker process", map[string]interface{}{
		"worker": w.id,
		"pid":    cmd.Process.Pid,
	})
	return nil
}

// startInline runs the worker loop in-process over byte pipes with the
// exact same frame semantics. Debugging and tests only; there is no
// process boundary here.
func (w *WorkerHandle) startInline() error {
	requestR, requestW := io.Pipe()
	resultR, resultW := io.Pipe()
	w.stdin = requestW
	w.procDone = make(chan struct{})
	w.readerDone = make(chan struct{})

	go func() {
		if err := RunWorkerLoop(requestR, resultW, w.cfg); err != nil {
			common.LogError("Inline worker loop failed", map[string]interface{}{
				"worker": w.id,
				"error":  err.Error(),
			})
		}
		resultW.Close()
		close(w.procDone)
	}()
	go w.readResults(resultR)

	common.LogDebug("Started inline worker", map[string]interface{}{"worker": w.id})
	return nil
}

// readResults decodes result frames onto the shared queue until the stream
// ends. A stream that ends outside teardown means the worker died
// mid-flight, which is surfaced as a queue error payload.
func (w *WorkerHandle) readResults(r io.Reader) {
	defer close(w.readerDone)
	decoder := json.NewDecoder(r)
	for {
		var result pkg.TaskResult
		if err := decoder.Decode(&result); err != nil {
			if isShutdownError(err) {
				if !w.isClosing() {
					w.queue.PutError(fmt.Errorf("worker %d closed its result stream unexpectedly", w.id))
				}
				return
			}
			w.queue.PutError(fmt.Errorf("worker %d: decoding result frame: %w", w.id, err))
			return
		}
		w.queue.Put(&result)
	}
}

func (w *WorkerHandle) isClosing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closing
}

// Alive reports whether the worker can still deliver results. A slot that
// never started counts as alive; it starts on demand.
func (w *WorkerHandle) Alive() bool {
	if !w.started {
		return true
	}
	select {
	case <-w.procDone:
		return false
	default:
		return true
	}
}

// Stop closes the request stream and waits for the worker to drain and
// exit. Workers that ignore the EOF get killed after a grace period.
func (w *WorkerHandle) Stop() {
	w.mu.Lock()
	if !w.started || w.closing {
		w.mu.Unlock()
		return
	}
	w.closing = true
	w.mu.Unlock()

	if err := w.stdin.Close(); err != nil {
		common.LogDebug("Failed to close worker request stream", map[string]interface{}{
			"worker": w.id,
			"error":  err.Error(),
		})
	}
	select {
	case <-w.procDone:
	case <-time.After(workerStopTimeout):
		common.LogWarn("Worker did not exit after request stream close, killing it", map[string]interface{}{
			"worker": w.id,
		})
		if w.proc != nil && w.proc.Process != nil {
			_ = w.proc.Process.Kill()
		}
	}
	select {
	case <-w.readerDone:
	case <-time.After(workerStopTimeout):
	}
}

// Pool is the per-play set of worker slots. Slot count is fixed at forks;
// the slots themselves start lazily.
type Pool struct {
	workers []*WorkerHandle
}

func NewPool(size int, cfg *config.Config, queue *ResultQueue, spawnArgs []string) *Pool {
	pool := &Pool{workers: make([]*WorkerHandle, 0, size)}
	for i := 0; i < size; i++ {
		pool.workers = append(pool.workers, newWorkerHandle(i, cfg, queue, spawnArgs))
	}
	return pool
}

func (p *Pool) Size() int {
	return len(p.workers)
}

func (p *Pool) Worker(i int) *WorkerHandle {
	return p.workers[i]
}

// DeadWorker returns the first worker that started, exited, and was not
// being torn down, the signal that results may never arrive.
func (p *Pool) DeadWorker() *WorkerHandle {
	for _, worker := range p.workers {
		if worker.started && !worker.isClosing() && !worker.Alive() {
			return worker
		}
	}
	return nil
}

// Shutdown stops every worker in the pool.
func (p *Pool) Shutdown() {
	for _, worker := range p.workers {
		worker.Stop()
	}
}
