package executor

import (
	"github.com/AlexanderGrooff/drover/pkg"
)

// queueItem carries either a decoded result or a transport error from a
// worker reader.
type queueItem struct {
	result *pkg.TaskResult
	err    error
}

// ResultQueue fans results from all worker readers into the coordinator.
// It is the only channel crossing the process boundary; everything on it
// was copied through serialization.
type ResultQueue struct {
	items chan queueItem
}

func NewResultQueue(capacity int) *ResultQueue {
	return &ResultQueue{items: make(chan queueItem, capacity)}
}

// Put delivers one result. Blocks when the queue is full, which
// backpressures the worker reader, not the coordinator.
func (q *ResultQueue) Put(result *pkg.TaskResult) {
	q.items <- queueItem{result: result}
}

// PutError surfaces a transport failure (decode error, unexpected EOF) to
// the coordinator, which treats it as run-fatal.
func (q *ResultQueue) PutError(err error) {
	q.items <- queueItem{err: err}
}

// TryGet returns the next result without blocking. Both return values are
// nil when the queue is empty; a non-nil error is a transport failure.
func (q *ResultQueue) TryGet() (*pkg.TaskResult, error) {
	select {
	case item := <-q.items:
		return item.result, item.err
	default:
		return nil, nil
	}
}

// Len reports how many items are queued but not yet drained.
func (q *ResultQueue) Len() int {
	return len(q.items)
}
